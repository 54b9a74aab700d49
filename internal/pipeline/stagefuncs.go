package pipeline

import (
	"context"
	"time"

	"concierge/internal/classify"
	"concierge/internal/connector"
	"concierge/internal/purchase"
	"concierge/internal/ranking"
	"concierge/internal/search"
	"concierge/internal/session"
	"concierge/internal/stage"
)

// Default per-stage timeouts (spec.md §5: "Per-stage default:
// intent/plan 5s, search 10s, comparison/decision 5s, purchase 60s"),
// used whenever the corresponding Builder field is left zero. Each is
// individually overridable via spec.md §6's PER_STAGE_TIMEOUT_* env
// vars, threaded in through internal/config.
const (
	DefaultTimeoutIntentPlan = 5 * time.Second
	DefaultTimeoutSearch     = 10 * time.Second
	DefaultTimeoutDecision   = 5 * time.Second
	DefaultTimeoutPurchase   = 60 * time.Second
	DefaultTimeoutNotify     = 5 * time.Second
)

// Builder assembles the two fixed pipelines (spec.md §4.5) from
// concrete stage implementations.
type Builder struct {
	IntentExtractor *classify.IntentExtractor
	Planner         *classify.Planner
	QueryInfo       *classify.QueryInfo

	Registry      *connector.Registry
	Limiter       *search.Limiter
	HealthTracker *connector.HealthTracker
	Weights       ranking.Weights
	Budget        *float64

	Executor *purchase.Executor
	Hub      *ConfirmationHub

	UserCtx    connector.UserContext
	Revalidate purchase.Revalidate

	// Per-stage timeout overrides (spec.md §6 PER_STAGE_TIMEOUT_*); zero
	// falls back to the corresponding Default* const above.
	TimeoutIntentPlan time.Duration
	TimeoutSearch     time.Duration
	TimeoutDecision   time.Duration
	TimeoutPurchase   time.Duration
	TimeoutNotify     time.Duration

	// ConfirmationTimeout overrides DefaultConfirmationDeadline
	// (spec.md §6 CONFIRMATION_TIMEOUT_SEC); zero uses the default.
	ConfirmationTimeout time.Duration
}

func (b *Builder) timeout(configured, def time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return def
}

func (b *Builder) confirmationTimeout() time.Duration {
	return b.timeout(b.ConfirmationTimeout, DefaultConfirmationDeadline)
}

func intentOf(sess *session.Session) (stage.Intent, bool) {
	v, ok := sess.StageOutputs["intent_extraction"]
	if !ok {
		return stage.Intent{}, false
	}
	in, ok := v.(stage.Intent)
	return in, ok
}

func isPurchaseIntent(sess *session.Session) bool {
	in, ok := intentOf(sess)
	return ok && in.Kind == stage.IntentPurchase
}

func isInfoIntent(sess *session.Session) bool {
	in, ok := intentOf(sess)
	return ok && in.Kind == stage.IntentInfo
}

func (b *Builder) intentExtractionNode() Node {
	return Node{
		StageID:   "intent_extraction",
		Predicate: Always,
		Timeout:   b.timeout(b.TimeoutIntentPlan, DefaultTimeoutIntentPlan),
		Stage: StageFunc(func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
			out, err := b.IntentExtractor.Run(ctx, sess.RequestText)
			if err != nil {
				return nil, "", err
			}
			return out, string(out.Kind) + " intent classified", nil
		}),
	}
}

func (b *Builder) taskPlanningNode() Node {
	return Node{
		StageID:   "task_planning",
		Predicate: Always,
		Timeout:   b.timeout(b.TimeoutIntentPlan, DefaultTimeoutIntentPlan),
		Stage: StageFunc(func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
			in, _ := intentOf(sess)
			out, err := b.Planner.Run(ctx, in)
			if err != nil {
				return nil, "", err
			}
			return out, "plan produced", nil
		}),
	}
}

func (b *Builder) searchNode() Node {
	return Node{
		StageID:   "search",
		Predicate: isPurchaseIntent,
		Timeout:   0, // Fanout manages its own global deadline internally
		Stage: StageFunc(func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
			in, _ := intentOf(sess)
			snapshot := b.Registry.Snapshot()
			searchTimeout := b.timeout(b.TimeoutSearch, DefaultTimeoutSearch)
			hits, err := search.Fanout(ctx, b.Limiter, snapshot, search.Query{Item: in.Item, Qty: in.Quantity}, searchTimeout, searchTimeout)
			if err != nil {
				return hits, "", err
			}
			return hits, "search completed", nil
		}),
	}
}

func (b *Builder) comparisonNode() Node {
	return Node{
		StageID:   "comparison",
		Predicate: isPurchaseIntent,
		Timeout:   b.timeout(b.TimeoutDecision, DefaultTimeoutDecision),
		Stage: StageFunc(func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
			hits, _ := sess.StageOutputs["search"].(stage.SearchHits)
			connRating := func(connectorID string) float64 {
				if b.HealthTracker != nil && !b.HealthTracker.Healthy(connectorID, time.Now()) {
					return 0.2
				}
				return 1.0
			}
			weights := b.Weights
			if weights == (ranking.Weights{}) {
				weights = ranking.DefaultWeights
			}
			out := ranking.Rank(hits, weights, connRating)
			return out, "ranking computed", nil
		}),
	}
}

func (b *Builder) decisionNode() Node {
	return Node{
		StageID:   "decision",
		Predicate: isPurchaseIntent,
		Timeout:   b.timeout(b.TimeoutDecision, DefaultTimeoutDecision),
		Stage: StageFunc(func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
			rk, _ := sess.StageOutputs["comparison"].(stage.Ranking)
			in, _ := intentOf(sess)
			pol := ranking.Policies{
				Urgency: in.Urgency,
				Budget:  b.Budget,
			}
			if b.HealthTracker != nil {
				pol.IsHealthy = ranking.ConnectorHealthAdapter(b.HealthTracker, time.Now())
			}
			out := ranking.Decide(rk, pol)
			msg := out.Reasoning
			if out.NoSuitableOption() {
				msg = out.Reason
			}
			return out, msg, nil
		}),
	}
}

func (b *Builder) awaitConfirmationNode() Node {
	return Node{
		StageID:   "await_confirmation",
		Predicate: func(sess *session.Session) bool {
			if !isPurchaseIntent(sess) {
				return false
			}
			d, ok := sess.StageOutputs["decision"].(stage.Decision)
			return ok && !d.NoSuitableOption()
		},
		Timeout: 0, // ConfirmationHub enforces its own deadline
		Stage: StageFunc(func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
			c, err := b.Hub.Await(ctx, run.RunID, b.confirmationTimeout())
			if err != nil {
				return nil, "", err
			}
			if !c.Accepted {
				return c, "rejected", stage.NewError(stage.ErrUserCancelled, nil)
			}
			return c, "confirmed", nil
		}),
		Recoverable: false,
	}
}

func (b *Builder) purchaseNode() Node {
	return Node{
		StageID: "purchase",
		Predicate: func(sess *session.Session) bool {
			if !isPurchaseIntent(sess) {
				return false
			}
			d, ok := sess.StageOutputs["decision"].(stage.Decision)
			return ok && !d.NoSuitableOption()
		},
		Timeout:     b.timeout(b.TimeoutPurchase, DefaultTimeoutPurchase),
		Recoverable: true, // a blocked/failed PurchaseResult is not an engine error (spec.md §4.5)
		Stage: StageFunc(func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
			decision, _ := sess.StageOutputs["decision"].(stage.Decision)
			in, _ := intentOf(sess)
			qty := in.Quantity
			if qty <= 0 {
				qty = 1
			}
			registry := map[string]connector.Connector{}
			for _, c := range b.Registry.Snapshot() {
				registry[c.ID] = c
			}
			result, err := b.Executor.Run(ctx, sess.ID, run.RunID, registry, decision, b.UserCtx, qty, b.Revalidate)
			if err != nil {
				return nil, "", err
			}
			return result, string(result.Status), nil
		}),
	}
}

func (b *Builder) queryInfoNode() Node {
	return Node{
		StageID:   "query_info",
		Predicate: isInfoIntent,
		Timeout:   b.timeout(b.TimeoutIntentPlan, DefaultTimeoutIntentPlan),
		Stage: StageFunc(func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
			out, err := b.QueryInfo.Run(ctx, sess.RequestText)
			if err != nil {
				return nil, "", err
			}
			return out, out.Answer, nil
		}),
	}
}

func (b *Builder) notificationNode() Node {
	return Node{
		StageID:   "notification",
		Predicate: Always,
		Timeout:   b.timeout(b.TimeoutNotify, DefaultTimeoutNotify),
		Stage: StageFunc(func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
			switch {
			case isPurchaseIntent(sess):
				if d, ok := sess.StageOutputs["decision"].(stage.Decision); ok && d.NoSuitableOption() {
					return nil, "no suitable option found for your request", nil
				}
				if r, ok := sess.StageOutputs["purchase"].(stage.PurchaseResult); ok {
					return r, "purchase " + string(r.Status), nil
				}
				return nil, "purchase did not complete", nil
			case isInfoIntent(sess):
				if q, ok := sess.StageOutputs["query_info"].(classify.QueryInfoOut); ok {
					return nil, q.Answer, nil
				}
				return nil, "no information found", nil
			default:
				return nil, "could not determine what you'd like to do", nil
			}
		}),
	}
}

// CombinedPipeline is the single node list the Engine executes per run:
// spec.md §4.5's two fixed pipelines (purchase path and info path)
// share the same intent_extraction/task_planning prefix and
// notification suffix, so both are expressed here as one ordered list
// gated entirely by predicates (isPurchaseIntent/isInfoIntent) rather
// than as two separate lists selected up front — the intent itself is
// only known after the first node completes.
func (b *Builder) CombinedPipeline() []Node {
	return []Node{
		b.intentExtractionNode(),
		b.taskPlanningNode(),
		b.searchNode(),
		b.comparisonNode(),
		b.decisionNode(),
		b.awaitConfirmationNode(),
		b.purchaseNode(),
		b.queryInfoNode(),
		b.notificationNode(),
	}
}
