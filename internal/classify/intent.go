// Package classify holds the reference stage implementations for
// intent_extraction, task_planning, and query_info (spec.md §4.4a): LLM
// collaborators with a strict-JSON contract, following the teacher's
// pipeline-stage idiom (internal/pipeline/p0.go..p5.go: a
// {LLM llmclient.LLMClient} struct whose Run builds a prompt, calls
// GenerateJSON, and unmarshals the result).
package classify

import (
	"context"
	"encoding/json"

	"concierge/internal/llmclient"
	"concierge/internal/stage"
)

// IntentExtractor implements the intent_extraction stage.
type IntentExtractor struct{ LLM llmclient.LLMClient }

const intentPrompt = `You are the intent classifier for a conversational shopping assistant.
Given the user's free-text utterance, extract their intent.

Return STRICT JSON ONLY:
{
  "kind": "purchase" | "info" | "clarify",
  "item": "string",
  "quantity": 0.0,
  "urgency": "low" | "normal" | "high",
  "confidence": 0.0,
  "language_tag": "string"
}

Rules:
- "purchase" means the user wants to buy or order something.
- "info" means the user is asking a question, not asking to buy anything.
- "clarify" means the utterance is too ambiguous to classify confidently.
- quantity defaults to 1 when unstated. language_tag is a BCP-47 tag (e.g. "en").`

func (e *IntentExtractor) Run(ctx context.Context, requestText string) (stage.Intent, error) {
	raw, err := e.LLM.GenerateJSON(ctx, intentPrompt, map[string]any{"utterance": requestText})
	if err != nil {
		return stage.Intent{}, err
	}
	var out stage.Intent
	if err := json.Unmarshal(raw, &out); err != nil {
		return stage.Intent{}, stage.NewError(stage.ErrStageInternal, err)
	}
	return out, nil
}
