// Package connector defines the uniform contract implemented by each
// merchant adapter (spec §4.3) and the runtime registry of configured
// connectors. Modeled on the teacher's internal/mcp tool registry: a
// small capability interface plus a name-keyed, read-mostly registry
// guarded by a RWMutex.
package connector

import (
	"context"
	"errors"
	"time"
)

// Capability is one of the two operations a connector may support.
type Capability string

const (
	CapabilitySearch Capability = "search"
	CapabilityOrder  Capability = "order"
)

// ErrorTaxonomy is the set of error kinds a connector call may surface.
type ErrorTaxonomy string

const (
	ErrUnavailable  ErrorTaxonomy = "unavailable"
	ErrAuthRequired ErrorTaxonomy = "auth_required"
	ErrOutOfStock   ErrorTaxonomy = "out_of_stock"
	ErrPriceChanged ErrorTaxonomy = "price_changed"
	ErrRateLimited  ErrorTaxonomy = "rate_limited"
	ErrTransient    ErrorTaxonomy = "transient"
	ErrPermanent    ErrorTaxonomy = "permanent"
)

// Error wraps one of the ErrorTaxonomy values, optionally carrying the
// new price for price_changed.
type Error struct {
	Kind     ErrorTaxonomy
	NewPrice *float64
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorTaxonomy, err error) *Error { return &Error{Kind: kind, Err: err} }

func IsKind(err error, kind ErrorTaxonomy) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// UserContext carries the caller-side information a connector needs to
// place an order. Address selection is out of scope for this module
// (spec §9 open question) and is modeled as a static field here.
type UserContext struct {
	UserID  string
	Address string
	Budget  *float64
}

// OTPChannel is a one-shot request/reply rendezvous a connector uses when
// an order needs an out-of-band code (spec §4.3 OTP handling). The
// connector calls Request to signal it needs a code and blocks on the
// returned channel until a value arrives or the deadline passes.
type OTPChannel interface {
	// Request publishes an otp_required signal (carrying an opaque
	// transient token) and returns a channel on which the user-supplied
	// code is delivered. The channel is not closed when no code arrives,
	// so the connector bounds its wait with its own deadline.
	Request(ctx context.Context, token string) <-chan string
}

// SearchFunc performs a merchant search.
type SearchFunc func(ctx context.Context, query string, qty float64, hints map[string]string, deadline time.Time) ([]Product, error)

// OrderFunc places an order, optionally negotiating an OTP over otp.
type OrderFunc func(ctx context.Context, product Product, quantity float64, userCtx UserContext, otp OTPChannel, deadline time.Time) (OrderResult, error)

// Product mirrors stage.Product; connector lives below stage in the
// dependency graph so it defines its own shape and the search stage
// translates between the two.
type Product struct {
	ConnectorID string
	ExternalID  string
	Title       string
	UnitPrice   float64
	Currency    string
	DeliveryETA time.Duration
	Rating      *float64
	Stock       *int
	URL         string
	Raw         map[string]any
}

// OrderResult is a successful order placement.
type OrderResult struct {
	OrderID string
}

// Connector is the uniform interface implemented by each merchant
// adapter. Either func field may be nil; the Capabilities field must
// agree with which are non-nil.
type Connector struct {
	ID           string
	Capabilities []Capability
	Search       SearchFunc
	Order        OrderFunc
}

// Has reports whether the connector advertises a capability.
func (c Connector) Has(cap Capability) bool {
	for _, have := range c.Capabilities {
		if have == cap {
			return true
		}
	}
	return false
}
