package pipeline

import (
	"context"
	"sync"
	"time"

	"concierge/internal/stage"
)

// Confirmation is the payload delivered into an open await_confirmation
// channel (spec.md §4.5 Human-in-the-loop).
type Confirmation struct {
	Accepted      bool
	SelectedIndex *int
}

// DefaultConfirmationDeadline is the default wait before an absent
// confirmation is treated as an implicit rejection (spec.md §4.5).
const DefaultConfirmationDeadline = 5 * time.Minute

// ConfirmationHub is the one-shot rendezvous keyed by run_id that backs
// the await_confirmation stage. Grounded on connector.OTPChannel's
// request/reply-with-deadline shape (internal/connector/connector.go),
// the same "publish a need, block on a typed channel, time out to a
// default" pattern applied to human confirmation instead of an OTP code.
type ConfirmationHub struct {
	mu      sync.Mutex
	pending map[string]chan Confirmation
}

func NewConfirmationHub() *ConfirmationHub {
	return &ConfirmationHub{pending: map[string]chan Confirmation{}}
}

// Open registers a one-shot channel for runID. Await must be called
// exactly once per Open to consume and clean it up.
func (h *ConfirmationHub) Open(runID string) <-chan Confirmation {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Confirmation, 1)
	h.pending[runID] = ch
	return ch
}

// Deliver sends c into runID's open channel, if any. Returns false if
// no await_confirmation is currently pending for runID.
func (h *ConfirmationHub) Deliver(runID string, c Confirmation) bool {
	h.mu.Lock()
	ch, ok := h.pending[runID]
	if ok {
		delete(h.pending, runID)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- c:
	default:
	}
	return true
}

func (h *ConfirmationHub) close(runID string) {
	h.mu.Lock()
	delete(h.pending, runID)
	h.mu.Unlock()
}

// Await blocks until a confirmation is delivered for runID, ctx is
// cancelled, or deadline elapses — whichever comes first. An elapsed
// deadline is an implicit rejection (spec.md §4.5), surfaced as
// stage.ErrConfirmationTimeout; a cancelled ctx surfaces
// stage.ErrUserCancelled.
func (h *ConfirmationHub) Await(ctx context.Context, runID string, deadline time.Duration) (Confirmation, error) {
	if deadline <= 0 {
		deadline = DefaultConfirmationDeadline
	}
	ch := h.Open(runID)
	defer h.close(runID)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case c := <-ch:
		return c, nil
	case <-timer.C:
		return Confirmation{}, stage.NewError(stage.ErrConfirmationTimeout, nil)
	case <-ctx.Done():
		return Confirmation{}, stage.NewError(stage.ErrUserCancelled, ctx.Err())
	}
}
