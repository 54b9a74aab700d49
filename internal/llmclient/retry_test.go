package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	responses []json.RawMessage
	errs      []error
	calls     int
}

func (s *scriptedClient) Name() string { return "scripted" }

func (s *scriptedClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return nil, errors.New("scriptedClient: ran out of scripted responses")
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	c := &scriptedClient{
		errs:      []error{errors.New("transient 1"), errors.New("transient 2"), nil},
		responses: []json.RawMessage{nil, nil, json.RawMessage(`{"ok":true}`)},
	}
	r := Retry(c, 5, time.Millisecond)

	out, err := r.GenerateJSON(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
	assert.Equal(t, 3, c.calls)
}

func TestRetryStopsImmediatelyOnPermanentError(t *testing.T) {
	perm := NewPermanentError(errors.New("context too long"))
	c := &scriptedClient{errs: []error{perm, nil, nil}}
	r := Retry(c, 5, time.Millisecond)

	_, err := r.GenerateJSON(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Equal(t, 1, c.calls, "a PermanentError must not be retried")
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	c := &scriptedClient{errs: []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}}
	r := Retry(c, 3, time.Millisecond)

	_, err := r.GenerateJSON(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Equal(t, 3, c.calls)
}

func TestRetryHonoursContextCancellationBetweenAttempts(t *testing.T) {
	c := &scriptedClient{errs: []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}}
	r := Retry(c, 5, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := r.GenerateJSON(ctx, "p", nil)
	require.Error(t, err)
	assert.Less(t, c.calls, 5)
}

func TestRetryDefaultsInvalidConfig(t *testing.T) {
	c := &scriptedClient{responses: []json.RawMessage{json.RawMessage(`{}`)}}
	r := Retry(c, 0, 0)
	_, err := r.GenerateJSON(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.calls, "maxAttempts<1 must default to a single attempt, not zero")
}
