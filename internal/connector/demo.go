package connector

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// requiresOTP flags roughly one in five orders as needing an out-of-band
// code, deterministically from the connector and item so demo runs are
// reproducible rather than flaky.
func requiresOTP(id, externalID string) bool {
	return seed(id, externalID, "otp")%5 == 0
}

// NewDemoConnector builds an in-memory fixture connector: it answers
// every search with one synthetic offer at basePrice and baseETA, with a
// rating derived deterministically from id and the query. Orders succeed,
// except that the ones requiresOTP flags ask for a code over the OTP
// channel and fail as transient when no code or an empty one arrives
// before the deadline. The real
// merchant-automation transports are an external collaborator (spec.md
// §1 Non-goals); this exists purely so the registry, fan-out, ranking,
// and purchase executor have something concrete to run end to end
// without one.
func NewDemoConnector(id string, basePrice float64, baseETA time.Duration) Connector {
	return Connector{
		ID:           id,
		Capabilities: []Capability{CapabilitySearch, CapabilityOrder},
		Search:       demoSearch(id, basePrice, baseETA),
		Order:        demoOrder(id),
	}
}

func demoSearch(id string, basePrice float64, baseETA time.Duration) SearchFunc {
	return func(ctx context.Context, query string, qty float64, hints map[string]string, deadline time.Time) ([]Product, error) {
		select {
		case <-ctx.Done():
			return nil, NewError(ErrUnavailable, ctx.Err())
		case <-time.After(jitter(id, 20*time.Millisecond)):
		}
		rating := 3.5 + rand.New(rand.NewSource(seed(id, query))).Float64()*1.5
		stock := 10
		return []Product{{
			ConnectorID: id,
			ExternalID:  fmt.Sprintf("%s-%s", id, query),
			Title:       query,
			UnitPrice:   basePrice,
			Currency:    "USD",
			DeliveryETA: baseETA,
			Rating:      &rating,
			Stock:       &stock,
			URL:         "https://" + id + ".example/" + query,
		}}, nil
	}
}

func demoOrder(id string) OrderFunc {
	return func(ctx context.Context, product Product, quantity float64, userCtx UserContext, otp OTPChannel, deadline time.Time) (OrderResult, error) {
		select {
		case <-ctx.Done():
			return OrderResult{}, NewError(ErrUnavailable, ctx.Err())
		case <-time.After(jitter(id, 30*time.Millisecond)):
		}

		if requiresOTP(id, product.ExternalID) && otp != nil {
			token := fmt.Sprintf("%s-otp-%d", id, time.Now().UnixNano())
			replyCh := otp.Request(ctx, token)
			timer := time.NewTimer(time.Until(deadline))
			defer timer.Stop()
			select {
			case code, ok := <-replyCh:
				if !ok || code == "" {
					return OrderResult{}, NewError(ErrTransient, fmt.Errorf("otp: no code received"))
				}
			case <-timer.C:
				return OrderResult{}, NewError(ErrTransient, fmt.Errorf("otp: timed out waiting for code"))
			case <-ctx.Done():
				return OrderResult{}, NewError(ErrUnavailable, ctx.Err())
			}
		}

		return OrderResult{OrderID: fmt.Sprintf("%s-ord-%d", id, time.Now().UnixNano())}, nil
	}
}

func seed(parts ...string) int64 {
	var h int64 = 1469598103934665603
	for _, p := range parts {
		for _, c := range p {
			h ^= int64(c)
			h *= 1099511628211
		}
	}
	if h < 0 {
		h = -h
	}
	return h
}

func jitter(id string, base time.Duration) time.Duration {
	n := seed(id) % int64(base)
	if n < 0 {
		n = -n
	}
	return base + time.Duration(n)
}
