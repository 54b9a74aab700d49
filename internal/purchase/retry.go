package purchase

import (
	"context"
	"time"

	"concierge/internal/connector"
)

// retryOrder wraps an OrderFunc with the bounded exponential backoff
// spec.md §4.8 phase 4 requires: up to 3 attempts, starting at 2s,
// doubling, capped at 10s, honouring cancellation between retries, and
// aborting immediately (no further retries) on out_of_stock or
// price_changed. Grounded on the teacher's internal/llm/
// middleware_retry.go Retry decorator, adapted from wrapping an
// LLMClient to wrapping a connector.OrderFunc — the backoff shape
// (doubling from a base delay, context-aware sleep, short-circuit on a
// non-retryable error) carries over unchanged.
// retryingOrderFunc is an OrderFunc plus the attempt count its last
// call took, since spec.md §4.8's PurchaseResult.attempts needs to
// surface that count to the caller.
type retryingOrderFunc func(ctx context.Context, product connector.Product, quantity float64, userCtx connector.UserContext, otp connector.OTPChannel, deadline time.Time) (connector.OrderResult, int, error)

func retryOrder(order connector.OrderFunc, maxAttempts int, base, cap time.Duration) retryingOrderFunc {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 2 * time.Second
	}
	if cap <= 0 {
		cap = 10 * time.Second
	}
	return func(ctx context.Context, product connector.Product, quantity float64, userCtx connector.UserContext, otp connector.OTPChannel, deadline time.Time) (connector.OrderResult, int, error) {
		var last error
		delay := base
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			res, err := order(ctx, product, quantity, userCtx, otp, deadline)
			if err == nil {
				return res, attempt, nil
			}
			last = err
			if connector.IsKind(err, connector.ErrOutOfStock) || connector.IsKind(err, connector.ErrPriceChanged) {
				return connector.OrderResult{}, attempt, err
			}
			if !connector.IsKind(err, connector.ErrTransient) && !connector.IsKind(err, connector.ErrUnavailable) {
				return connector.OrderResult{}, attempt, err
			}
			if attempt == maxAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return connector.OrderResult{}, attempt, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > cap {
				delay = cap
			}
		}
		return connector.OrderResult{}, maxAttempts, last
	}
}
