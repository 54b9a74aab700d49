package search

import (
	"context"
	"sync/atomic"

	"concierge/internal/stage"
)

// Limiter bounds the number of in-flight connector searches system-wide
// (spec.md §4.6: at most N in-flight, default 16, with a bounded wait
// queue; queue overflow fails the caller's search with "overloaded").
// Grounded on the teacher's internal/llm/broker.go PermitBroker, which
// reserves N credits from a Limiter by calling Acquire N times; this is
// the same repeated-Acquire-on-a-semaphore shape, narrowed to a single
// permit per search call and given an explicit bounded waiting queue
// (the teacher's broker has no queue bound of its own).
type Limiter struct {
	permits  chan struct{}
	waiting  int32
	maxQueue int32
}

// NewLimiter builds a Limiter allowing at most `capacity` concurrent
// holders and at most `maxQueue` callers waiting for a permit.
func NewLimiter(capacity, maxQueue int) *Limiter {
	if capacity <= 0 {
		capacity = 16
	}
	if maxQueue < 0 {
		maxQueue = capacity * 4
	}
	return &Limiter{permits: make(chan struct{}, capacity), maxQueue: int32(maxQueue)}
}

// Acquire blocks until a permit is free or ctx is done. If the wait
// queue is already at capacity, it fails immediately with
// ErrOverloaded rather than joining the queue.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.permits <- struct{}{}:
		return nil
	default:
	}
	if atomic.AddInt32(&l.waiting, 1) > l.maxQueue {
		atomic.AddInt32(&l.waiting, -1)
		return stage.NewError(stage.ErrOverloaded, nil)
	}
	defer atomic.AddInt32(&l.waiting, -1)

	select {
	case l.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit acquired via Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.permits:
	default:
	}
}
