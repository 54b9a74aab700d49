// Package search implements the Search Fan-out stage (spec.md §4.6):
// concurrent dispatch of a search to every capable connector, merged
// under a global deadline into a SearchHits map.
package search

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"concierge/internal/connector"
	"concierge/internal/stage"
)

// Query is the search-stage's input: the item to look for, translated
// from the classified Intent.
type Query struct {
	Item  string
	Qty   float64
	Hints map[string]string
}

// Fanout issues q to every connector in snapshot that advertises the
// search capability, under globalDeadline, using perConnector as each
// call's own budget (spec.md §4.6: timeout = min(per_connector,
// remaining_stage_budget)). limiter bounds system-wide concurrency.
func Fanout(ctx context.Context, limiter *Limiter, snapshot []connector.Connector, q Query, globalDeadline, perConnector time.Duration) (stage.SearchHits, error) {
	candidates := connector.WithCapability(snapshot, connector.CapabilitySearch)
	if len(candidates) == 0 {
		return nil, stage.NewError(stage.ErrNoConnectorsAvailable, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, globalDeadline)
	defer cancel()
	deadline, _ := ctx.Deadline()

	hits := make(stage.SearchHits, len(candidates))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var overloaded int32

	for _, c := range candidates {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, isOverload := callOne(ctx, limiter, c, q, perConnector, deadline)
			if isOverload {
				atomic.AddInt32(&overloaded, 1)
			}
			mu.Lock()
			hits[c.ID] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	// The bounded wait queue overflowing is a system-level condition
	// distinct from any individual connector failing (spec.md §4.6:
	// "queue overflow aborts the offending run's search with
	// overloaded"), so it takes priority over the ordinary
	// no-connectors-available outcome below.
	if overloaded > 0 {
		return hits, stage.NewError(stage.ErrOverloaded, nil)
	}

	allFailed := true
	for _, r := range hits {
		if r.OK() {
			allFailed = false
			break
		}
	}
	if allFailed {
		return hits, stage.NewError(stage.ErrNoConnectorsAvailable, nil)
	}
	return hits, nil
}

func callOne(ctx context.Context, limiter *Limiter, c connector.Connector, q Query, budget time.Duration, globalDeadline time.Time) (stage.ConnectorResult, bool) {
	if limiter != nil {
		if err := limiter.Acquire(ctx); err != nil {
			if stage.IsKind(err, stage.ErrOverloaded) {
				return stage.ConnectorResult{Err: string(stage.ErrOverloaded)}, true
			}
			return stage.ConnectorResult{Err: err.Error()}, false
		}
		defer limiter.Release()
	}

	callCtx := ctx
	var cancel context.CancelFunc
	deadline := globalDeadline
	if budget > 0 {
		var budgetDeadline time.Time
		callCtx, cancel = context.WithTimeout(ctx, budget)
		budgetDeadline, _ = callCtx.Deadline()
		if budgetDeadline.Before(deadline) {
			deadline = budgetDeadline
		}
		defer cancel()
	}

	products, err := c.Search(callCtx, q.Item, q.Qty, q.Hints, deadline)
	if err != nil {
		if callCtx.Err() != nil {
			return stage.ConnectorResult{Err: "timeout"}, false
		}
		return stage.ConnectorResult{Err: err.Error()}, false
	}

	out := make([]stage.Product, len(products))
	for i, p := range products {
		out[i] = toStageProduct(p)
	}
	return stage.ConnectorResult{Products: out}, false
}

func toStageProduct(p connector.Product) stage.Product {
	return stage.Product{
		ConnectorID: p.ConnectorID,
		ExternalID:  p.ExternalID,
		Title:       p.Title,
		UnitPrice:   p.UnitPrice,
		Currency:    p.Currency,
		DeliveryETA: p.DeliveryETA,
		Rating:      p.Rating,
		Stock:       p.Stock,
		URL:         p.URL,
		Raw:         p.Raw,
	}
}
