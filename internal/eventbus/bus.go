// Package eventbus implements the per-session multi-subscriber
// publish/subscribe channel for stage-update events (spec §4.2). Late
// subscribers receive only future events; a slow subscriber never blocks
// the publisher or other subscribers — its bounded buffer drops the
// oldest queued event on overflow and emits a dropped=N marker next.
//
// Grounded on the teacher's interaction websocket handler
// (internal/gateway/handler/rpc/user_interaction.go): a buffered
// outbound channel drained by a dedicated goroutine, with a
// drop-oldest-then-push helper (pushInteractionWS) for a full buffer.
package eventbus

import "sync"

// EventType is fixed at "stage_update" per spec §3, but kept as a typed
// field for the one exception: cancellation emits run_cancelled.
type EventType string

const (
	EventStageUpdate  EventType = "stage_update"
	EventRunCancelled EventType = "run_cancelled"
)

// Event is the wire shape published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id"`
	StageID   string    `json:"stage_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp int64     `json:"timestamp"`
	// Dropped is set on a synthetic marker event inserted when overflow
	// caused earlier events to be discarded for this subscriber.
	Dropped int `json:"dropped,omitempty"`
}

// DefaultBufferSize is the per-subscriber bounded buffer size (spec §4.2
// default 64).
const DefaultBufferSize = 64

// Subscription is a live handle to a session's event stream.
type Subscription struct {
	id        uint64
	sessionID string
	ch        chan Event
	bus       *Bus

	mu      sync.Mutex
	dropped int
}

// C returns the channel to receive events on.
func (s *Subscription) C() <-chan Event { return s.ch }

// Bus is a process-wide, per-session pub/sub registry.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]map[uint64]*Subscription
	nextID      uint64
	bufferSize  int
}

// New creates a Bus. bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string]map[uint64]*Subscription),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers for sessionID's future events. Subscribing to a
// session that doesn't exist yet (or ever) is valid — it simply never
// receives anything until/unless Publish is later called for that id.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:        b.nextID,
		sessionID: sessionID,
		ch:        make(chan Event, b.bufferSize),
		bus:       b,
	}
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = map[uint64]*Subscription{}
	}
	b.subscribers[sessionID][sub.id] = sub
	return sub
}

// Unsubscribe deregisters sub and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[sub.sessionID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subscribers, sub.sessionID)
		}
	}
	close(sub.ch)
}

// Publish delivers ev to every current subscriber of ev.SessionID.
// Non-blocking for the publisher: per subscriber, a full buffer drops
// the oldest queued event and records it so the next delivered event for
// that subscriber is preceded by a dropped=N marker (spec §4.2).
//
// Events published by one goroutine for one session are observed by
// every subscriber in the order Publish was called (spec §5 ordering
// guarantee) because delivery to each subscriber channel happens
// synchronously, in subscriber-map iteration within this single
// Publish call, before Publish returns to the caller — the caller's
// next Publish call for the same session cannot interleave ahead of this
// one's deliveries.
func (b *Bus) Publish(sessionID string, ev Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subscribers[sessionID]))
	for _, s := range b.subscribers[sessionID] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	if s.dropped > 0 {
		marker := Event{
			Type:      ev.Type,
			SessionID: ev.SessionID,
			RunID:     ev.RunID,
			Timestamp: ev.Timestamp,
			Dropped:   s.dropped,
		}
		if tryEnqueue(s.ch, marker) {
			s.dropped = 0
		}
		// Otherwise the buffer is still full: the count is kept as is and
		// the marker is tried again on the next delivery.
	}
	s.mu.Unlock()

	if tryEnqueue(s.ch, ev) {
		return
	}
	// Buffer full: drop the oldest queued event to make room, counting it
	// so the next deliver precedes ev with a dropped=N marker.
	select {
	case <-s.ch:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	default:
	}
	if !tryEnqueue(s.ch, ev) {
		// Still full (a concurrent deliver refilled it); count this one too.
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

func tryEnqueue(ch chan Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}
