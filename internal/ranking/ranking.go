// Package ranking implements the Ranking and Decision stages (spec.md
// §4.7): pure functions over a SearchHits set, producing a score-sorted
// Ranking and a policy-gated Decision. Grounded on the teacher's
// internal/pipeline reduce/post stages (p4_reduce.go, p5_post.go),
// which similarly fold a map of per-source results into one ordered,
// policy-filtered output with no I/O.
package ranking

import (
	"math"
	"sort"
	"time"

	"concierge/internal/connector"
	"concierge/internal/stage"
)

// Weights configures the three scoring components (spec.md §4.7,
// Open Question resolved in SPEC_FULL.md §9: configurable with
// sensible defaults).
type Weights struct {
	DeliveryETA float64
	Price       float64
	Reliability float64
}

// DefaultWeights equally favors all three components.
var DefaultWeights = Weights{DeliveryETA: 1.0 / 3, Price: 1.0 / 3, Reliability: 1.0 / 3}

// ConnectorRating scores a connector's own reliability (0-1), combined
// with the product's own rating (if any) to form the reliability
// component.
type ConnectorRating func(connectorID string) float64

// Rank computes a descending-score Ranking from every candidate in hits.
func Rank(hits stage.SearchHits, weights Weights, connRating ConnectorRating) stage.Ranking {
	connectorIDs := make([]string, 0, len(hits))
	for id := range hits {
		connectorIDs = append(connectorIDs, id)
	}
	sort.Strings(connectorIDs)

	var candidates []stage.Product
	for _, id := range connectorIDs {
		if res := hits[id]; res.OK() {
			candidates = append(candidates, res.Products...)
		}
	}
	if len(candidates) == 0 {
		return stage.Ranking{}
	}

	minETA, maxETA := candidates[0].DeliveryETA, candidates[0].DeliveryETA
	minPrice, maxPrice := candidates[0].UnitPrice, candidates[0].UnitPrice
	for _, p := range candidates[1:] {
		if p.DeliveryETA < minETA {
			minETA = p.DeliveryETA
		}
		if p.DeliveryETA > maxETA {
			maxETA = p.DeliveryETA
		}
		if p.UnitPrice < minPrice {
			minPrice = p.UnitPrice
		}
		if p.UnitPrice > maxPrice {
			maxPrice = p.UnitPrice
		}
	}

	scored := make([]stage.ScoredProduct, len(candidates))
	for i, p := range candidates {
		etaNorm := normInverse(float64(p.DeliveryETA), float64(minETA), float64(maxETA))
		priceNorm := normInverse(p.UnitPrice, minPrice, maxPrice)
		reliability := reliabilityOf(p, connRating)

		components := map[string]float64{
			"delivery_eta": etaNorm,
			"price":        priceNorm,
			"reliability":  reliability,
		}
		score := weights.DeliveryETA*etaNorm + weights.Price*priceNorm + weights.Reliability*reliability
		scored[i] = stage.ScoredProduct{Product: p, Score: score, ScoreComponents: components}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Product.DeliveryETA != b.Product.DeliveryETA {
			return a.Product.DeliveryETA < b.Product.DeliveryETA
		}
		if a.Product.UnitPrice != b.Product.UnitPrice {
			return a.Product.UnitPrice < b.Product.UnitPrice
		}
		return false // preserve insertion order (sort.SliceStable)
	})

	return stage.Ranking{Ranked: scored}
}

// normInverse maps v into [0,1] where the smaller raw value scores
// higher (smaller-better per spec.md §4.7). A degenerate range (all
// candidates equal) scores everyone 1.
func normInverse(v, lo, hi float64) float64 {
	if hi <= lo {
		return 1
	}
	return 1 - (v-lo)/(hi-lo)
}

func reliabilityOf(p stage.Product, connRating ConnectorRating) float64 {
	productRating := 0.5
	if p.Rating != nil {
		productRating = math.Max(0, math.Min(1, *p.Rating/5))
	}
	connR := 0.5
	if connRating != nil {
		connR = connRating(p.ConnectorID)
	}
	return productRating * connR
}

// UrgentETAThreshold is the default "high urgency" delivery deadline
// (policy 3, spec.md §4.7).
const UrgentETAThreshold = 60 * time.Minute

// Policies bundles the configurable knobs required to evaluate
// policies 1-6.
type Policies struct {
	Urgency         stage.Urgency
	UrgentThreshold time.Duration
	Budget          *float64
	IsHealthy       func(connectorID string) bool
}

// Decide applies policies 1-6 in order against a Ranking and returns
// the Decision (spec.md §4.7).
func Decide(ranking stage.Ranking, pol Policies) stage.Decision {
	if pol.UrgentThreshold <= 0 {
		pol.UrgentThreshold = UrgentETAThreshold
	}
	candidates := ranking.Ranked
	if len(candidates) == 0 {
		return stage.Decision{Reason: "no candidates returned by search"}
	}

	median := medianPrice(candidates)

	pass := func(sp stage.ScoredProduct) (bool, string) {
		if !sp.Product.InStock() {
			return false, "in_stock"
		}
		if median > 0 {
			lo, hi := 0.5*median, 1.5*median
			if sp.Product.UnitPrice < lo || sp.Product.UnitPrice > hi {
				return false, "price_sanity"
			}
		}
		if pol.Budget != nil && sp.Product.UnitPrice > *pol.Budget {
			return false, "budget"
		}
		if pol.IsHealthy != nil && !pol.IsHealthy(sp.Product.ConnectorID) {
			return false, "connector_health"
		}
		return true, ""
	}

	passing := make([]stage.ScoredProduct, 0, len(candidates))
	flags := map[string]bool{}
	for _, sp := range candidates {
		ok, failedPolicy := pass(sp)
		if ok {
			passing = append(passing, sp)
		} else {
			flags[failedPolicy] = true
		}
	}

	// Policy 3: delivery_meets_urgency. Applied as a filter over the
	// already-passing set; if urgency is high and nothing qualifies, it
	// falls back to lowest-eta among the passing set rather than
	// disqualifying everyone (spec.md §4.7 policy 3).
	if pol.Urgency == stage.UrgencyHigh && len(passing) > 0 {
		urgent := make([]stage.ScoredProduct, 0, len(passing))
		for _, sp := range passing {
			if sp.Product.DeliveryETA <= pol.UrgentThreshold {
				urgent = append(urgent, sp)
			}
		}
		if len(urgent) > 0 {
			passing = urgent
		} else {
			flags["delivery_meets_urgency"] = true
			sort.SliceStable(passing, func(i, j int) bool {
				return passing[i].Product.DeliveryETA < passing[j].Product.DeliveryETA
			})
			passing = passing[:1]
		}
	}

	if len(passing) == 0 {
		return stage.Decision{Reason: "no suitable option", PolicyFlags: setToSlice(flags)}
	}

	selected := passing[0]
	fallbacks := diversify(passing[1:], selected.Product.ConnectorID, 2)

	return stage.Decision{
		Selected:    &selected.Product,
		Fallbacks:   fallbacks,
		Reasoning:   "ranked #1 by score after policy filtering",
		PolicyFlags: setToSlice(flags),
	}
}

// diversify implements policy 6: prefer fallbacks from a connector
// different than selected, when such candidates exist.
func diversify(rest []stage.ScoredProduct, selectedConnector string, n int) []stage.Product {
	if len(rest) == 0 {
		return nil
	}
	var different, same []stage.Product
	for _, sp := range rest {
		if sp.Product.ConnectorID != selectedConnector {
			different = append(different, sp.Product)
		} else {
			same = append(same, sp.Product)
		}
	}
	out := append(different, same...)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func medianPrice(scored []stage.ScoredProduct) float64 {
	prices := make([]float64, len(scored))
	for i, sp := range scored {
		prices[i] = sp.Product.UnitPrice
	}
	sort.Float64s(prices)
	n := len(prices)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return prices[n/2]
	}
	return (prices[n/2-1] + prices[n/2]) / 2
}

func setToSlice(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ConnectorHealthAdapter adapts a connector.HealthTracker to the
// Policies.IsHealthy func shape, keeping internal/ranking free of an
// import-time dependency on "now" (the caller supplies it).
func ConnectorHealthAdapter(tracker *connector.HealthTracker, now time.Time) func(string) bool {
	return func(connectorID string) bool { return tracker.Healthy(connectorID, now) }
}
