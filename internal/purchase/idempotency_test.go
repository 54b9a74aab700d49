package purchase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/stage"
)

func TestKeyIsStableAndDayScoped(t *testing.T) {
	day := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	sameDayLater := time.Date(2026, 8, 3, 23, 0, 0, 0, time.UTC)
	nextDay := time.Date(2026, 8, 4, 0, 0, 1, 0, time.UTC)

	k1 := Key("fast", "sku-1", "user-1", day)
	k2 := Key("fast", "sku-1", "user-1", sameDayLater)
	k3 := Key("fast", "sku-1", "user-1", nextDay)

	assert.Equal(t, k1, k2, "same calendar day yields the same key")
	assert.NotEqual(t, k1, k3, "the next calendar day yields a distinct key")
}

func TestLedgerLookupWithinWindow(t *testing.T) {
	l := NewLedger(60 * time.Millisecond)
	key := Key("fast", "sku-1", "user-1", time.Now())

	_, ok := l.Lookup(key)
	assert.False(t, ok, "no record yet")

	result := stage.PurchaseResult{Status: stage.PurchaseSuccess, OrderID: "ord-1"}
	l.Record(key, result)

	got, ok := l.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "ord-1", got.OrderID)

	time.Sleep(100 * time.Millisecond)
	_, ok = l.Lookup(key)
	assert.False(t, ok, "lookup outside the window misses")
}

func TestLedgerSeenTracksDuplicatesRegardlessOfOutcome(t *testing.T) {
	l := NewLedger(60 * time.Millisecond)
	key := Key("fast", "sku-1", "user-1", time.Now())

	assert.False(t, l.Seen(key))
	l.Record(key, stage.PurchaseResult{Status: stage.PurchaseBlocked})
	assert.True(t, l.Seen(key))

	time.Sleep(100 * time.Millisecond)
	assert.False(t, l.Seen(key))
}
