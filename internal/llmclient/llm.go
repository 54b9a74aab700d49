// Package llmclient is the thin LLM transport used by the classifier,
// planner, and knowledge-lookup stages (internal/classify). Adapted
// directly from the teacher's internal/llmClient: a minimal
// prompt+JSON-input -> JSON-output interface, with provider
// implementations and the cross-cutting retry concern applied as a
// decorator rather than baked into each provider.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidJSON is returned when a provider's response cannot be
// interpreted as JSON.
var ErrInvalidJSON = errors.New("llmclient: invalid json from model")

// PermanentError indicates an error that will not resolve with retries
// (e.g. a context-length violation). Retry decorators must not retry it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error { return &PermanentError{Err: err} }

// LLMClient generates a strict-JSON response from a system prompt and an
// arbitrary JSON-able input payload.
type LLMClient interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
}

// GenerateInto calls GenerateJSON and unmarshals the result into out; a
// result that does not decode into out yields ErrInvalidJSON.
func GenerateInto(ctx context.Context, cli LLMClient, prompt string, input any, out any) error {
	raw, err := cli.GenerateJSON(ctx, prompt, input)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ErrInvalidJSON
	}
	return nil
}
