package pipeline

import (
	"context"
	"sync"
	"time"

	"concierge/internal/connector"
	"concierge/internal/eventbus"
)

// OTPHub is the one-shot code relay a connector uses when an order needs
// an out-of-band verification code (spec.md §4.3, §4.8 phase 4 OTP
// handling), keyed by run_id — the same request/reply-with-timeout shape
// as ConfirmationHub, applied to a connector-issued token instead of a
// human accept/reject.
type OTPHub struct {
	mu      sync.Mutex
	pending map[string]chan string
}

func NewOTPHub() *OTPHub {
	return &OTPHub{pending: map[string]chan string{}}
}

// Deliver sends code into runID's open channel, if any. Returns false if
// no OTP request is currently pending for runID.
func (h *OTPHub) Deliver(runID, code string) bool {
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
	case ch <- code:
	default:
	}
	return true
}

func (h *OTPHub) open(runID string) chan string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan string, 1)
	h.pending[runID] = ch
	return ch
}

func (h *OTPHub) close(runID string) {
	h.mu.Lock()
	delete(h.pending, runID)
	h.mu.Unlock()
}

// Channel returns a connector.OTPChannel bound to sessionID/runID: its
// Request publishes an otp_required stage_update event on bus (relayed
// to the client over the WebSocket event stream, spec.md §4.3) before
// opening the rendezvous channel Deliver feeds.
func (h *OTPHub) Channel(bus *eventbus.Bus, sessionID, runID string) connector.OTPChannel {
	return &otpChannel{hub: h, bus: bus, sessionID: sessionID, runID: runID}
}

type otpChannel struct {
	hub       *OTPHub
	bus       *eventbus.Bus
	sessionID string
	runID     string
}

func (c *otpChannel) Request(ctx context.Context, token string) <-chan string {
	ch := c.hub.open(c.runID)
	if c.bus != nil {
		c.bus.Publish(c.sessionID, eventbus.Event{
			Type:      eventbus.EventStageUpdate,
			SessionID: c.sessionID,
			RunID:     c.runID,
			StageID:   "purchase",
			Status:    "otp_required",
			Message:   token,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	return ch
}

// Close discards any pending rendezvous for this channel's run, whether
// or not a code was ever requested or delivered — called by the
// Purchase Executor after each order attempt so an OTP request that
// timed out doesn't leave its channel registered indefinitely.
func (c *otpChannel) Close() {
	c.hub.close(c.runID)
}
