package classify

import (
	"context"
	"encoding/json"

	"concierge/internal/llmclient"
	"concierge/internal/stage"
)

// Planner implements the task_planning stage: given the extracted
// Intent, produce the ordered list of stage identifiers the run is
// expected to traverse. This is advisory bookkeeping only — the
// Pipeline Engine's own per-node predicates remain authoritative over
// what actually executes (spec.md §4.5, stage.Plan doc comment).
type Planner struct{ LLM llmclient.LLMClient }

const planPrompt = `You are the task planner for a conversational shopping assistant pipeline.
Given the classified intent, list the pipeline stages (in order) this run should traverse.

Return STRICT JSON ONLY:
{ "stages": ["string", "..."] }

Valid stage identifiers: intent_extraction, task_planning, search, comparison, decision,
await_confirmation, purchase, query_info, notification.

For intent.kind == "purchase", plan:
["intent_extraction","task_planning","search","comparison","decision","await_confirmation","purchase","notification"]
For intent.kind == "info", plan:
["intent_extraction","task_planning","query_info","notification"]
For intent.kind == "clarify", plan:
["intent_extraction","task_planning","notification"]`

func (p *Planner) Run(ctx context.Context, intent stage.Intent) (stage.Plan, error) {
	raw, err := p.LLM.GenerateJSON(ctx, planPrompt, map[string]any{"intent": intent})
	if err != nil {
		return stage.Plan{}, err
	}
	var out stage.Plan
	if err := json.Unmarshal(raw, &out); err != nil {
		return stage.Plan{}, stage.NewError(stage.ErrStageInternal, err)
	}
	return out, nil
}
