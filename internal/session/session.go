// Package session holds per-session mutable state and the active Run,
// with snapshot/restore to a pluggable journal (spec §4.1).
package session

import (
	"time"
)

// Path is which branch of the pipeline a session's current run is on.
type Path string

const (
	PathUnknown  Path = "unknown"
	PathPurchase Path = "purchase"
	PathInfo     Path = "info"
)

// Session is identified by an opaque string and persists across runs.
type Session struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	CurrentRun  string    `json:"current_run,omitempty"`
	Path        Path      `json:"path"`
	RequestText string    `json:"request_text"`

	// StageOutputs accumulates every completed stage's output across the
	// current run, keyed by stage id. Append-only within one run; a new
	// run starts a fresh map (identity of the Session persists, but
	// outputs do not carry across runs per spec §3 invariant).
	StageOutputs map[string]any `json:"stage_outputs"`
}

// StageStatus is the lifecycle state of one stage within a Run.
type StageStatus string

const (
	StageIdle       StageStatus = "idle"
	StageProcessing StageStatus = "processing"
	StageComplete   StageStatus = "complete"
	StageError      StageStatus = "error"
	StageSkipped    StageStatus = "skipped"
)

// StageState records one stage's progress within a Run.
type StageState struct {
	Status      StageStatus `json:"status"`
	Message     string      `json:"message,omitempty"`
	Data        any         `json:"data,omitempty"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}

// Run is one end-to-end pipeline execution for one user utterance.
type Run struct {
	RunID                string                 `json:"run_id"`
	SessionID            string                 `json:"session_id"`
	StartedAt            time.Time              `json:"started_at"`
	StageStates          map[string]*StageState `json:"stage_states"`
	CancelRequested      bool                   `json:"cancel_requested"`
	AwaitingConfirmation bool                   `json:"awaiting_confirmation"`
	Terminal             bool                   `json:"terminal"`
	TerminalReason       string                 `json:"terminal_reason,omitempty"`
}

// Clone returns a deep-enough copy of the session suitable for a
// consistent point-in-time read (spec §5 per-session serialization: reads
// outside the engine must see a consistent snapshot, never a torn write).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.StageOutputs = make(map[string]any, len(s.StageOutputs))
	for k, v := range s.StageOutputs {
		cp.StageOutputs[k] = v
	}
	return &cp
}

// Clone returns a deep-enough copy of the run for consistent reads.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	cp := *r
	cp.StageStates = make(map[string]*StageState, len(r.StageStates))
	for k, v := range r.StageStates {
		if v == nil {
			continue
		}
		vv := *v
		cp.StageStates[k] = &vv
	}
	return &cp
}
