package connector

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// HealthTracker records recent connector failures in a rolling window and
// reports whether a connector should be treated as unhealthy. Ranking's
// connector_health policy (spec §4.7) consults this. Modeled on the
// teacher's projectstore LRU cache, swapped for the expirable/TTL variant
// since "rolling window" is a time-bounded signal rather than a
// size-bounded one.
type HealthTracker struct {
	mu     sync.Mutex
	window time.Duration
	fails  *expirable.LRU[string, []time.Time]
	// threshold is the number of failures within window that marks a
	// connector unhealthy.
	threshold int
}

// NewHealthTracker builds a tracker with the given rolling window and
// failure threshold. A threshold <= 0 defaults to 3.
func NewHealthTracker(window time.Duration, threshold int) *HealthTracker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &HealthTracker{
		window:    window,
		threshold: threshold,
		fails:     expirable.NewLRU[string, []time.Time](256, nil, window),
	}
}

// RecordFailure records a connector failure at time now.
func (h *HealthTracker) RecordFailure(connectorID string, now time.Time) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	existing, _ := h.fails.Get(connectorID)
	cutoff := now.Add(-h.window)
	kept := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	h.fails.Add(connectorID, kept)
}

// Healthy reports whether connectorID has stayed under the failure
// threshold within the rolling window as of now.
func (h *HealthTracker) Healthy(connectorID string, now time.Time) bool {
	if h == nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	existing, ok := h.fails.Get(connectorID)
	if !ok {
		return true
	}
	cutoff := now.Add(-h.window)
	count := 0
	for _, t := range existing {
		if t.After(cutoff) {
			count++
		}
	}
	return count < h.threshold
}
