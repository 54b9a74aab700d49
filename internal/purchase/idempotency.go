package purchase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"concierge/internal/stage"
)

// ledgerCapacity bounds the ledger's resident key count; the expirable
// LRU evicts both on this size and on IdempotencyWindow-style TTL,
// whichever comes first.
const ledgerCapacity = 4096

// IdempotencyWindow is the default window within which a repeated
// purchase request for the same key returns the prior result unchanged
// (spec.md §4.8 phase 3).
const IdempotencyWindow = 5 * time.Minute

// Key hashes the fields spec.md §4.8 phase 3 names into one opaque
// idempotency key: connector_id, product external_id, session user, and
// a day bucket (so the same order the next calendar day is distinct).
func Key(connectorID, externalID, sessionUser string, day time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", connectorID, externalID, sessionUser, day.UTC().Format("2006-01-02"))
	return hex.EncodeToString(h.Sum(nil))
}

// Ledger remembers recent successful purchases by idempotency key so a
// duplicate confirmation within the window replays the original result
// (spec.md §8 S6) instead of placing a second order. It also backs the
// "duplicate_request" risk factor (spec.md §4.8 phase 2). Modeled on
// connector.HealthTracker's expirable.LRU rolling window
// (internal/connector/health.go) — the same time-bounded lookup problem,
// narrowed to one value per key instead of a failure timestamp slice.
type Ledger struct {
	cache *expirable.LRU[string, stage.PurchaseResult]
}

func NewLedger(window time.Duration) *Ledger {
	if window <= 0 {
		window = IdempotencyWindow
	}
	return &Ledger{cache: expirable.NewLRU[string, stage.PurchaseResult](ledgerCapacity, nil, window)}
}

// Lookup returns the remembered result for key if it was recorded within
// the window.
func (l *Ledger) Lookup(key string) (stage.PurchaseResult, bool) {
	return l.cache.Get(key)
}

// Seen reports whether key was recorded at all within the window,
// regardless of outcome — used for the duplicate_request risk factor,
// which fires on a repeated request even before success is known.
func (l *Ledger) Seen(key string) bool {
	_, ok := l.cache.Get(key)
	return ok
}

// Record remembers result under key, for future Lookup/Seen calls.
func (l *Ledger) Record(key string, result stage.PurchaseResult) {
	l.cache.Add(key, result)
}
