// Package purchase implements the Purchase Executor stage (spec.md
// §4.8): pre-validation, risk assessment, idempotency, bounded retry
// with fallback, and phase-by-phase audit durability.
package purchase

import (
	"context"
	"log"
	"time"

	"concierge/internal/audit"
	"concierge/internal/connector"
	"concierge/internal/stage"
)

// Config holds the executor's tunable thresholds, all named directly
// from spec.md §4.8.
type Config struct {
	PriceDeltaEscalate    float64 // phase 1: price delta fraction that escalates to risk
	BudgetLarge           float64 // risk factor: total >= this counts as "large"
	MaxAttempts           int     // phase 4: default 3
	RetryBase             time.Duration
	RetryCap              time.Duration
	DryRun                bool
	RiskCriticalThreshold int // spec.md §6 RISK_CRITICAL_THRESHOLD; 0 uses DefaultRiskCriticalThreshold
}

func (c Config) withDefaults() Config {
	if c.PriceDeltaEscalate <= 0 {
		c.PriceDeltaEscalate = 0.10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 10 * time.Second
	}
	return c
}

// ConfirmFunc re-enters await_confirmation for a high-risk purchase
// (spec.md §4.8 phase 2). It returns accepted=false on timeout or
// explicit rejection.
type ConfirmFunc func(ctx context.Context, runID string, detail stage.PurchaseResult) (accepted bool)

// OpenOTPFunc returns the one-shot request/reply channel a connector
// uses to negotiate an out-of-band code during phase 4 (spec.md §4.3,
// §4.8 OTP handling). Left as a caller-supplied func, like ConfirmFunc,
// so this package never needs to import the pipeline package that
// implements the hub.
type OpenOTPFunc func(sessionID, runID string) connector.OTPChannel

// Executor runs the Purchase Executor stage for one Decision.
type Executor struct {
	Config      Config
	Ledger      *Ledger
	Audit       *audit.Log
	IsHealthy   func(connectorID string) float64 // platform_health in [0,1]
	Confirm     ConfirmFunc
	OpenOTPChan OpenOTPFunc
}

// PreValidated is the outcome of phase 1.
type PreValidated struct {
	CurrentPrice float64
	InStock      bool
}

// Revalidate re-queries connector c for price/stock just before
// attempting the order (phase 1). Left as a caller-supplied func
// because it reuses the same Search capability the search stage
// already has; this package only interprets the result.
type Revalidate func(ctx context.Context, c connector.Connector, product stage.Product) (PreValidated, error)

// Run executes phases 1-6 for one purchase attempt against decision,
// falling back through decision.Fallbacks if the primary is exhausted
// (spec.md §4.8 phase 5).
func (e *Executor) Run(ctx context.Context, sessionID, runID string, registry map[string]connector.Connector, decision stage.Decision, userCtx connector.UserContext, quantity float64, revalidate Revalidate) (stage.PurchaseResult, error) {
	cfg := e.Config.withDefaults()

	if decision.NoSuitableOption() {
		return stage.PurchaseResult{Status: stage.PurchaseBlocked, Reason: "no suitable option"}, nil
	}

	candidates := append([]stage.Product{*decision.Selected}, decision.Fallbacks...)
	now := time.Now()
	dayBucket := now

	var result stage.PurchaseResult
	var lastErr error
	usedFallback := false
	var records []audit.Record

	auditf := func(action string, detail map[string]any) {
		rec := audit.Record{SessionID: sessionID, RunID: runID, Actor: "purchase_executor", Action: action, Detail: detail}
		records = append(records, rec)
		if e.Audit != nil {
			e.Audit.Append(rec)
		}
	}

	for i, product := range candidates {
		c, ok := registry[product.ConnectorID]
		if !ok {
			lastErr = stage.NewError(stage.ErrConnectorUnavailable, nil)
			continue
		}

		key := Key(product.ConnectorID, product.ExternalID, userCtx.UserID, dayBucket)
		auditf("validation_start", map[string]any{"connector": c.ID, "external_id": product.ExternalID})

		// Phase 1: pre-validation.
		pv, err := revalidate(ctx, c, product)
		if err != nil {
			lastErr = err
			continue
		}
		priceDelta := 0.0
		if product.UnitPrice > 0 {
			priceDelta = (pv.CurrentPrice - product.UnitPrice) / product.UnitPrice
		}
		escalated := absFloat(priceDelta) > cfg.PriceDeltaEscalate || !pv.InStock
		auditf("validation_result", map[string]any{"price_delta": priceDelta, "in_stock": pv.InStock, "escalated": escalated})

		// Phase 2: risk assessment. Always computed — duplicate/budget/
		// health factors matter regardless of whether phase 1 escalated.
		health := 1.0
		if e.IsHealthy != nil {
			health = e.IsHealthy(c.ID)
		}
		duplicate := e.Ledger != nil && e.Ledger.Seen(key)
		riskIn := RiskInputs{
			PriceSpikePct:     absFloat(priceDelta),
			OutOfStock:        !pv.InStock,
			PlatformHealth:    health,
			Total:             pv.CurrentPrice * quantity,
			BudgetLarge:       cfg.BudgetLarge,
			DuplicateRequest:  duplicate,
			CriticalThreshold: cfg.RiskCriticalThreshold,
		}
		score, level := AssessRisk(riskIn)
		auditf("risk_computed", map[string]any{"score": score, "level": level})

		if level == stage.RiskCritical {
			result = stage.PurchaseResult{Status: stage.PurchaseBlocked, RiskScore: score, RiskLevel: level, Reason: "risk_blocked", UsedFallback: usedFallback}
			auditf("risk_blocked", map[string]any{"score": score})
			return e.finalize(sessionID, runID, result, records), nil
		}
		if level == stage.RiskHigh {
			if e.Confirm == nil || !e.Confirm(ctx, runID, stage.PurchaseResult{RiskScore: score, RiskLevel: level, PlatformUsed: c.ID}) {
				result = stage.PurchaseResult{Status: stage.PurchaseBlocked, RiskScore: score, RiskLevel: level, Reason: "confirmation_declined", UsedFallback: usedFallback}
				return e.finalize(sessionID, runID, result, records), nil
			}
		}

		// Phase 3: idempotency.
		if e.Ledger != nil {
			if prior, ok := e.Ledger.Lookup(key); ok {
				return prior, nil
			}
		}

		// Phase 4: execute (with retry), or simulate under dry-run.
		auditf("attempt_start", map[string]any{"connector": c.ID})
		var orderRes connector.OrderResult
		var attempts int
		if cfg.DryRun {
			orderRes = connector.OrderResult{OrderID: "dryrun-" + key[:12]}
			attempts = 1
			err = nil
		} else {
			retrying := retryOrder(c.Order, cfg.MaxAttempts, cfg.RetryBase, cfg.RetryCap)
			var otpCh connector.OTPChannel
			if e.OpenOTPChan != nil {
				otpCh = e.OpenOTPChan(sessionID, runID)
			}
			deadline := now.Add(60 * time.Second)
			orderRes, attempts, err = retrying(ctx, connectorProduct(product), quantity, userCtx, otpCh, deadline)
			if closer, ok := otpCh.(interface{ Close() }); ok {
				closer.Close()
			}
		}
		auditf("attempt_outcome", map[string]any{"connector": c.ID, "attempts": attempts, "error": errString(err)})

		if err == nil {
			result = stage.PurchaseResult{
				Status: stage.PurchaseSuccess, PlatformUsed: c.ID, OrderID: orderRes.OrderID,
				RiskScore: score, RiskLevel: level, Attempts: attempts, UsedFallback: usedFallback,
			}
			if e.Ledger != nil {
				e.Ledger.Record(key, result)
			}
			return e.finalize(sessionID, runID, result, records), nil
		}

		lastErr = err
		if connector.IsKind(err, connector.ErrOutOfStock) || connector.IsKind(err, connector.ErrPriceChanged) {
			// Abort retries for this candidate per phase 4; fall through to
			// the next fallback candidate per phase 5.
		}
		if i+1 < len(candidates) {
			usedFallback = true
			auditf("fallback_chosen", map[string]any{"next_connector": candidates[i+1].ConnectorID})
		}
	}

	result = stage.PurchaseResult{Status: stage.PurchaseFailed, Reason: errString(lastErr), UsedFallback: usedFallback}
	return e.finalize(sessionID, runID, result, records), nil
}

// finalize appends the terminal audit record, fsyncs the log, and mirrors
// the run's full record set to the configured Archiver (spec.md §4.9a).
// An archival failure is logged but never turns a completed purchase into
// an error: the buyer's outcome does not depend on S3 being reachable.
func (e *Executor) finalize(sessionID, runID string, result stage.PurchaseResult, records []audit.Record) stage.PurchaseResult {
	rec := audit.Record{SessionID: sessionID, RunID: runID, Actor: "purchase_executor", Action: "terminal_result", Detail: map[string]any{"status": result.Status, "risk_level": result.RiskLevel}}
	records = append(records, rec)
	if e.Audit == nil {
		return result
	}
	e.Audit.Append(rec)
	e.Audit.Flush()
	if err := e.Audit.ArchiveRun(runID, records); err != nil {
		log.Printf("purchase: archive run %s: %v", runID, err)
	}
	return result
}

func connectorProduct(p stage.Product) connector.Product {
	return connector.Product{
		ConnectorID: p.ConnectorID, ExternalID: p.ExternalID, Title: p.Title,
		UnitPrice: p.UnitPrice, Currency: p.Currency, DeliveryETA: p.DeliveryETA,
		Rating: p.Rating, Stock: p.Stock, URL: p.URL, Raw: p.Raw,
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
