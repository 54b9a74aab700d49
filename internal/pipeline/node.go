// Package pipeline implements the Pipeline Engine (spec.md §4.5): a
// linear, predicate-gated sequence of stage nodes run against one
// session/run pair, with per-stage timeouts, checkpointing, event
// emission, and cooperative cancellation.
//
// Grounded on the teacher's internal/runner.ExecuteWorker (resolve
// inputs, run, persist, continue) generalized from a dependency graph
// of cacheable workers to a fixed, linear list of nodes gated by
// predicates rather than edges (spec.md §9 Design Notes: "branching is
// selection over a fixed node list rather than dynamic graph
// construction"), and on internal/runner/emitter.go's ChannelEmitter
// (non-blocking Emit over a channel) for event delivery, here adapted
// to push onto an eventbus.Bus instead of a bare channel.
package pipeline

import (
	"context"
	"time"

	"concierge/internal/session"
)

// Stage is the uniform interface every pipeline node runs. Concrete
// stages (internal/classify, internal/search, internal/ranking,
// internal/purchase) adapt their typed Run methods to this shape; see
// stagefuncs.go.
type Stage interface {
	// Run executes the stage against the current session/run snapshot.
	// data is returned for checkpointing and event payloads; message is
	// a short human-readable summary.
	Run(ctx context.Context, sess *session.Session, run *session.Run) (data any, message string, err error)
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc func(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error)

func (f StageFunc) Run(ctx context.Context, sess *session.Session, run *session.Run) (any, string, error) {
	return f(ctx, sess, run)
}

// Predicate decides whether a node runs for the current session state.
type Predicate func(sess *session.Session) bool

// Always runs a node unconditionally.
func Always(*session.Session) bool { return true }

// Node is one stage and its gating predicate (spec.md §4.5: "Each node
// is {stage_id, predicate(session)→bool}").
type Node struct {
	StageID   string
	Predicate Predicate
	Stage     Stage
	Timeout   time.Duration
	// A Recoverable node that returns an error is recorded with status
	// error and the run continues with the next node instead of stopping
	// (purchase is marked recoverable; a blocked or failed PurchaseResult
	// is its normal output, not an engine error, spec.md §4.5).
	Recoverable bool
}
