package classify

import (
	"context"
	"os"
	"time"

	"concierge/internal/llmclient"
)

// NewDefaultClient builds the LLMClient used by the classify stages,
// preferring Gemini (GEMINI_API_KEY) and falling back to Groq
// (GROQ_API_KEY), wrapped with the retry decorator. Mirrors the
// teacher's provider-selection-by-env-presence pattern in
// cmd/gateway/main.go.
func NewDefaultClient(ctx context.Context) (llmclient.LLMClient, error) {
	var base llmclient.LLMClient
	if os.Getenv("GEMINI_API_KEY") != "" {
		cli, err := llmclient.NewGeminiClient(ctx, os.Getenv("GEMINI_MODEL"))
		if err != nil {
			return nil, err
		}
		base = cli
	} else {
		base = llmclient.NewGroqClient(os.Getenv("GROQ_API_KEY"), os.Getenv("GROQ_MODEL"))
	}
	return llmclient.Retry(base, 3, 500*time.Millisecond), nil
}
