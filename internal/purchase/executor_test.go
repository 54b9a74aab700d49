package purchase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/connector"
	"concierge/internal/stage"
)

func testConnector(id string, order connector.OrderFunc) connector.Connector {
	return connector.Connector{ID: id, Capabilities: []connector.Capability{connector.CapabilityOrder}, Order: order}
}

func alwaysOK(orderID string) connector.OrderFunc {
	return func(ctx context.Context, product connector.Product, qty float64, uc connector.UserContext, otp connector.OTPChannel, deadline time.Time) (connector.OrderResult, error) {
		return connector.OrderResult{OrderID: orderID}, nil
	}
}

func revalidateOK(price float64, inStock bool) Revalidate {
	return func(ctx context.Context, c connector.Connector, product stage.Product) (PreValidated, error) {
		return PreValidated{CurrentPrice: price, InStock: inStock}, nil
	}
}

func testDecision(products ...stage.Product) stage.Decision {
	sel := products[0]
	return stage.Decision{Selected: &sel, Fallbacks: products[1:]}
}

func fastCfg() Config {
	return Config{MaxAttempts: 3, RetryBase: time.Millisecond, RetryCap: 5 * time.Millisecond}
}

func TestExecutorHappyPathSucceedsFirstAttempt(t *testing.T) {
	fast := stage.Product{ConnectorID: "fast", ExternalID: "sku-1", UnitPrice: 60}
	registry := map[string]connector.Connector{"fast": testConnector("fast", alwaysOK("fast-ord-1"))}

	e := &Executor{Config: fastCfg(), Ledger: NewLedger(time.Minute)}
	result, err := e.Run(context.Background(), "s1", "r1", registry, testDecision(fast), connector.UserContext{UserID: "u1"}, 1, revalidateOK(60, true))

	require.NoError(t, err)
	assert.Equal(t, stage.PurchaseSuccess, result.Status)
	assert.Equal(t, "fast", result.PlatformUsed)
	assert.Equal(t, "fast-ord-1", result.OrderID)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, 1, result.Attempts)
}

func TestExecutorFallsBackAfterPrimaryExhaustsRetries(t *testing.T) {
	var attempts int32
	failing := func(ctx context.Context, product connector.Product, qty float64, uc connector.UserContext, otp connector.OTPChannel, deadline time.Time) (connector.OrderResult, error) {
		atomic.AddInt32(&attempts, 1)
		return connector.OrderResult{}, connector.NewError(connector.ErrTransient, nil)
	}
	fast := stage.Product{ConnectorID: "fast", ExternalID: "sku-1", UnitPrice: 60}
	slow := stage.Product{ConnectorID: "slow", ExternalID: "sku-1", UnitPrice: 55}
	registry := map[string]connector.Connector{
		"fast": testConnector("fast", failing),
		"slow": testConnector("slow", alwaysOK("slow-ord-1")),
	}

	e := &Executor{Config: fastCfg(), Ledger: NewLedger(time.Minute)}
	result, err := e.Run(context.Background(), "s1", "r1", registry, testDecision(fast, slow), connector.UserContext{UserID: "u1"}, 1, revalidateOK(60, true))

	require.NoError(t, err)
	assert.Equal(t, stage.PurchaseSuccess, result.Status)
	assert.Equal(t, "slow", result.PlatformUsed)
	assert.Equal(t, "slow-ord-1", result.OrderID)
	assert.True(t, result.UsedFallback)
	assert.EqualValues(t, 3, attempts, "primary exhausts exactly 3 attempts before falling back")
}

func TestExecutorRiskCriticalBlocksWithoutOrdering(t *testing.T) {
	var orderCalled bool
	order := func(ctx context.Context, product connector.Product, qty float64, uc connector.UserContext, otp connector.OTPChannel, deadline time.Time) (connector.OrderResult, error) {
		orderCalled = true
		return connector.OrderResult{OrderID: "should-not-happen"}, nil
	}
	fast := stage.Product{ConnectorID: "fast", ExternalID: "sku-1", UnitPrice: 100}
	registry := map[string]connector.Connector{"fast": testConnector("fast", order)}

	ledger := NewLedger(time.Minute)
	key := Key("fast", "sku-1", "u1", time.Now())
	ledger.Record(key, stage.PurchaseResult{Status: stage.PurchaseSuccess})

	e := &Executor{
		Config:    Config{BudgetLarge: 100, MaxAttempts: 3, RetryBase: time.Millisecond, RetryCap: time.Millisecond},
		Ledger:    ledger,
		IsHealthy: func(string) float64 { return 1 },
	}
	// Price spike (+120%) plus large-total plus duplicate == 90, critical.
	result, err := e.Run(context.Background(), "s1", "r1", registry, testDecision(fast), connector.UserContext{UserID: "u1"}, 1, revalidateOK(220, true))

	require.NoError(t, err)
	assert.Equal(t, stage.PurchaseBlocked, result.Status)
	assert.Equal(t, stage.RiskCritical, result.RiskLevel)
	assert.False(t, orderCalled, "critical risk never reaches connector.Order")
}

func TestExecutorHighRiskRequiresFreshConfirmation(t *testing.T) {
	// price spike (+55%, >=0.5 -> +40) + unhealthy platform (<0.5 -> +20) +
	// large total (>=BudgetLarge -> +20) sums to 80, the "high" boundary
	// (spec.md §4.8 phase 2: high <=80).
	fast := stage.Product{ConnectorID: "fast", ExternalID: "sku-1", UnitPrice: 100}
	registry := map[string]connector.Connector{"fast": testConnector("fast", alwaysOK("fast-ord-2"))}
	cfg := fastCfg()
	cfg.BudgetLarge = 100

	t.Run("declined", func(t *testing.T) {
		e := &Executor{
			Config:    cfg,
			Ledger:    NewLedger(time.Minute),
			IsHealthy: func(string) float64 { return 0.3 },
			Confirm:   func(ctx context.Context, runID string, detail stage.PurchaseResult) bool { return false },
		}
		result, err := e.Run(context.Background(), "s1", "r1", registry, testDecision(fast), connector.UserContext{UserID: "u1"}, 1, revalidateOK(155, true))
		require.NoError(t, err)
		assert.Equal(t, stage.PurchaseBlocked, result.Status)
		assert.Equal(t, stage.RiskHigh, result.RiskLevel)
		assert.Equal(t, "confirmation_declined", result.Reason)
	})

	t.Run("accepted", func(t *testing.T) {
		e := &Executor{
			Config:    cfg,
			Ledger:    NewLedger(time.Minute),
			IsHealthy: func(string) float64 { return 0.3 },
			Confirm:   func(ctx context.Context, runID string, detail stage.PurchaseResult) bool { return true },
		}
		result, err := e.Run(context.Background(), "s1", "r2", registry, testDecision(fast), connector.UserContext{UserID: "u1"}, 1, revalidateOK(155, true))
		require.NoError(t, err)
		assert.Equal(t, stage.PurchaseSuccess, result.Status)
	})
}

func TestExecutorIdempotentReplayReturnsFirstResultWithoutReordering(t *testing.T) {
	var orderCalls int32
	order := func(ctx context.Context, product connector.Product, qty float64, uc connector.UserContext, otp connector.OTPChannel, deadline time.Time) (connector.OrderResult, error) {
		atomic.AddInt32(&orderCalls, 1)
		return connector.OrderResult{OrderID: "fast-ord-3"}, nil
	}
	fast := stage.Product{ConnectorID: "fast", ExternalID: "sku-1", UnitPrice: 60}
	registry := map[string]connector.Connector{"fast": testConnector("fast", order)}
	ledger := NewLedger(time.Minute)

	e := &Executor{Config: fastCfg(), Ledger: ledger}
	first, err := e.Run(context.Background(), "s1", "r1", registry, testDecision(fast), connector.UserContext{UserID: "u1"}, 1, revalidateOK(60, true))
	require.NoError(t, err)
	require.Equal(t, stage.PurchaseSuccess, first.Status)

	second, err := e.Run(context.Background(), "s1", "r2", registry, testDecision(fast), connector.UserContext{UserID: "u1"}, 1, revalidateOK(60, true))
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.EqualValues(t, 1, orderCalls, "the second request never reaches connector.Order")
}

func TestExecutorOutOfStockAbortsRetriesImmediately(t *testing.T) {
	var attempts int32
	order := func(ctx context.Context, product connector.Product, qty float64, uc connector.UserContext, otp connector.OTPChannel, deadline time.Time) (connector.OrderResult, error) {
		atomic.AddInt32(&attempts, 1)
		return connector.OrderResult{}, connector.NewError(connector.ErrOutOfStock, nil)
	}
	fast := stage.Product{ConnectorID: "fast", ExternalID: "sku-1", UnitPrice: 60}
	registry := map[string]connector.Connector{"fast": testConnector("fast", order)}

	e := &Executor{Config: fastCfg(), Ledger: NewLedger(time.Minute)}
	result, err := e.Run(context.Background(), "s1", "r1", registry, testDecision(fast), connector.UserContext{UserID: "u1"}, 1, revalidateOK(60, true))

	require.NoError(t, err)
	assert.Equal(t, stage.PurchaseFailed, result.Status)
	assert.EqualValues(t, 1, attempts, "out_of_stock aborts retries after one attempt")
}

func TestExecutorDryRunSimulatesOrder(t *testing.T) {
	fast := stage.Product{ConnectorID: "fast", ExternalID: "sku-1", UnitPrice: 60}
	registry := map[string]connector.Connector{"fast": testConnector("fast", nil)}

	cfg := fastCfg()
	cfg.DryRun = true
	e := &Executor{Config: cfg, Ledger: NewLedger(time.Minute)}
	result, err := e.Run(context.Background(), "s1", "r1", registry, testDecision(fast), connector.UserContext{UserID: "u1"}, 1, revalidateOK(60, true))

	require.NoError(t, err)
	assert.Equal(t, stage.PurchaseSuccess, result.Status)
	assert.Contains(t, result.OrderID, "dryrun-")
}

func TestExecutorNoSuitableOptionBlocksWithoutAttempt(t *testing.T) {
	e := &Executor{Config: fastCfg()}
	result, err := e.Run(context.Background(), "s1", "r1", nil, stage.Decision{Reason: "no suitable option"}, connector.UserContext{}, 1, revalidateOK(0, true))
	require.NoError(t, err)
	assert.Equal(t, stage.PurchaseBlocked, result.Status)
}
