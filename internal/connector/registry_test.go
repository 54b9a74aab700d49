package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(Connector{ID: "fast", Capabilities: []Capability{CapabilitySearch}})

	c, ok := r.Get("fast")
	assert.True(t, ok)
	assert.Equal(t, "fast", c.ID)

	_, ok = r.Get("missing")
	assert.False(t, ok, "a missing connector is not an error, just absent")

	r.Remove("fast")
	_, ok = r.Get("fast")
	assert.False(t, ok)
}

func TestRegistrySnapshotIsStable(t *testing.T) {
	r := NewRegistry(
		Connector{ID: "a", Capabilities: []Capability{CapabilitySearch}},
		Connector{ID: "b", Capabilities: []Capability{CapabilityOrder}},
	)
	snap := r.Snapshot()
	assert.Len(t, snap, 2)

	r.Add(Connector{ID: "c"})
	assert.Len(t, snap, 2, "a previously taken snapshot does not observe later registry mutations")
}

func TestWithCapabilityFilters(t *testing.T) {
	snap := []Connector{
		{ID: "a", Capabilities: []Capability{CapabilitySearch}},
		{ID: "b", Capabilities: []Capability{CapabilityOrder}},
		{ID: "c", Capabilities: []Capability{CapabilitySearch, CapabilityOrder}},
	}
	searchable := WithCapability(snap, CapabilitySearch)
	ids := make([]string, len(searchable))
	for i, c := range searchable {
		ids[i] = c.ID
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestErrorKindAndUnwrap(t *testing.T) {
	base := assertError("boom")
	err := NewError(ErrPriceChanged, base)
	assert.True(t, IsKind(err, ErrPriceChanged))
	assert.False(t, IsKind(err, ErrOutOfStock))
	assert.Equal(t, base, err.Unwrap())
}

func assertError(msg string) error { return &simpleErr{msg} }

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }

func TestHealthTrackerMarksUnhealthyAfterThreshold(t *testing.T) {
	h := NewHealthTracker(time.Minute, 3)
	now := time.Now()

	assert.True(t, h.Healthy("fast", now))
	h.RecordFailure("fast", now)
	h.RecordFailure("fast", now)
	assert.True(t, h.Healthy("fast", now), "below threshold")
	h.RecordFailure("fast", now)
	assert.False(t, h.Healthy("fast", now), "at threshold")
}

func TestHealthTrackerFailuresExpireOutsideWindow(t *testing.T) {
	h := NewHealthTracker(time.Minute, 2)
	now := time.Now()
	h.RecordFailure("fast", now)
	h.RecordFailure("fast", now)
	assert.False(t, h.Healthy("fast", now))

	later := now.Add(2 * time.Minute)
	assert.True(t, h.Healthy("fast", later), "failures outside the rolling window no longer count")
}
