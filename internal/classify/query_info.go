package classify

import (
	"context"
	"encoding/json"

	"concierge/internal/llmclient"
)

// QueryInfoOut is the query_info stage's output: free-text answer to a
// non-purchase utterance. Knowledge-base lookup proper is an external
// collaborator (spec.md §1 Out of scope); this LLM-backed stand-in
// satisfies query_info's input/output contract so the info path (S4) is
// runnable end to end.
type QueryInfoOut struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// QueryInfo implements the query_info stage.
type QueryInfo struct{ LLM llmclient.LLMClient }

const queryInfoPrompt = `You are a helpful shopping assistant answering a factual question
the user asked instead of placing an order.

Return STRICT JSON ONLY:
{ "answer": "string", "confidence": 0.0 }

Keep the answer to 2-3 sentences.`

func (q *QueryInfo) Run(ctx context.Context, requestText string) (QueryInfoOut, error) {
	raw, err := q.LLM.GenerateJSON(ctx, queryInfoPrompt, map[string]any{"utterance": requestText})
	if err != nil {
		return QueryInfoOut{}, err
	}
	var out QueryInfoOut
	if err := json.Unmarshal(raw, &out); err != nil {
		return QueryInfoOut{}, err
	}
	return out, nil
}
