package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal is the pluggable checkpoint backing store (spec §4.1, treated
// as an external collaborator — a key-value journal). Checkpoint writes
// fsync-equivalent durability; the default implementations are an
// append-only NDJSON file (journal_file.go) and an optional Postgres
// table (journal_pg.go), matching the teacher's file/Postgres fallback
// in internal/gateway/repository/projectstore.
type Journal interface {
	// WriteCheckpoint persists one completed stage's checkpoint record.
	WriteCheckpoint(ctx context.Context, rec Checkpoint) error
}

// Checkpoint is one terminal-stage-per-run record (spec §6: "one
// checkpoint record per terminal stage per run in the journal").
type Checkpoint struct {
	SessionID string      `json:"session_id"`
	RunID     string      `json:"run_id"`
	StageID   string      `json:"stage_id"`
	Status    StageStatus `json:"status"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// entry is the per-session actor: a mutex-guarded session/run pair. The
// Store is single-writer-per-session (spec §5): every mutation goes
// through entry.mu, while reads take a copy-on-read snapshot so they
// never observe a torn write (spec invariant #2).
type entry struct {
	mu      sync.Mutex
	session *Session
	run     *Run
	// restoredStages holds the last-known completed-stage view for a
	// session with no active run (freshly restored, or never started),
	// so Snapshot keeps reporting it until a new run's own StageStates
	// supersede it.
	restoredStages map[string]StageState
	// runCancel stops the run's context, reaching a stage currently
	// blocked in I/O (search fan-out, purchase connector calls) rather
	// than only stopping the next node from starting (spec §4.5, §5).
	// Registered by the Pipeline Engine via SetRunCancel once the run's
	// context exists.
	runCancel context.CancelFunc
}

// Store holds every session's mutable state and active run in memory,
// checkpointing completed stages to a Journal.
type Store struct {
	journal Journal

	mu       sync.Mutex
	sessions map[string]*entry

	// cancelGrace bounds how long start_run waits for a prior run to
	// observe cancellation before proceeding (spec §4.1).
	cancelGrace time.Duration
}

func NewStore(journal Journal) *Store {
	return &Store{
		journal:     journal,
		sessions:    make(map[string]*entry),
		cancelGrace: 2 * time.Second,
	}
}

func (s *Store) lockEntry(sessionID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &entry{}
		s.sessions[sessionID] = e
	}
	return e
}

// GetOrCreate atomically returns the session for sessionID, creating it
// (with a fresh identity) if it doesn't exist yet.
func (s *Store) GetOrCreate(sessionID string) *Session {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		now := time.Now()
		e.session = &Session{
			ID:           sessionID,
			CreatedAt:    now,
			LastUpdated:  now,
			Path:         PathUnknown,
			StageOutputs: map[string]any{},
		}
	}
	return e.session.Clone()
}

// StartRun cancels any active run on the session (setting
// CancelRequested and waiting up to cancelGrace for it to terminate)
// before allocating a new one (spec §4.1, §3 Run invariant).
func (s *Store) StartRun(ctx context.Context, sessionID, requestText string) (*Run, error) {
	e := s.lockEntry(sessionID)

	e.mu.Lock()
	if e.session == nil {
		now := time.Now()
		e.session = &Session{ID: sessionID, CreatedAt: now, Path: PathUnknown, StageOutputs: map[string]any{}}
	}
	prior := e.run
	var priorCancel context.CancelFunc
	if prior != nil && !prior.Terminal {
		prior.CancelRequested = true
		priorCancel = e.runCancel
	}
	e.mu.Unlock()

	// Reach into the prior run's in-flight stage, not just stop the next
	// node from starting (spec §4.1: "cancels the prior" must actually
	// stop it, not merely be superseded by it).
	if priorCancel != nil {
		priorCancel()
	}
	if prior != nil && !prior.Terminal {
		s.waitTerminal(ctx, e, prior.RunID, s.cancelGrace)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	run := &Run{
		RunID:       uuid.NewString(),
		SessionID:   sessionID,
		StartedAt:   time.Now(),
		StageStates: map[string]*StageState{},
	}
	e.run = run
	e.restoredStages = nil
	e.runCancel = nil
	e.session.RequestText = requestText
	e.session.CurrentRun = run.RunID
	e.session.LastUpdated = time.Now()
	e.session.StageOutputs = map[string]any{}
	return run.Clone(), nil
}

// waitTerminal polls (bounded by grace) for the run to observe
// cancellation and mark itself terminal. This is a best-effort wait, not
// a hard guarantee — stages honour cancellation cooperatively (spec §5).
func (s *Store) waitTerminal(ctx context.Context, e *entry, runID string, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		done := e.run == nil || e.run.RunID != runID || e.run.Terminal
		e.mu.Unlock()
		if done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// CurrentRun returns a read-consistent snapshot of the session's active
// run, or nil if none exists.
func (s *Store) CurrentRun(sessionID string) *Run {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run.Clone()
}

// IsCurrent reports whether runID is still the session's active run.
func (s *Store) IsCurrent(sessionID, runID string) bool {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil && e.run.RunID == runID
}

// CancelRequested reports whether the given run has been asked to stop.
func (s *Store) CancelRequested(sessionID, runID string) bool {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil && e.run.RunID == runID && e.run.CancelRequested
}

// RequestCancel marks the session's active run (if it matches runID, or
// any active run if runID is empty) as cancel-requested and, if the
// Pipeline Engine has registered a CancelFunc for it (SetRunCancel),
// cancels its context so a stage currently blocked in I/O observes the
// cancellation immediately rather than only at the next node boundary
// (spec §4.5, §5).
func (s *Store) RequestCancel(sessionID, runID string) bool {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	if e.run == nil || e.run.Terminal {
		e.mu.Unlock()
		return false
	}
	if runID != "" && e.run.RunID != runID {
		e.mu.Unlock()
		return false
	}
	e.run.CancelRequested = true
	cancel := e.runCancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// SetRunCancel registers the CancelFunc that stops runID's context.
// Called once by the Pipeline Engine at the start of Run; a no-op if
// runID is no longer the session's active run (it was already
// superseded or cancelled before the engine got here).
func (s *Store) SetRunCancel(sessionID, runID string, cancel context.CancelFunc) {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil || e.run.RunID != runID {
		return
	}
	e.runCancel = cancel
}

// UpdateStage is a no-op if runID is not the session's current run (spec
// §4.1). On a recognised update it persists a checkpoint for terminal
// statuses (complete/error/skipped); it never marks the run terminal —
// callers (the Pipeline Engine) decide when the run itself is finished
// via SetTerminal.
func (s *Store) UpdateStage(ctx context.Context, sessionID, runID, stageID string, status StageStatus, message string, data any) error {
	e := s.lockEntry(sessionID)

	e.mu.Lock()
	if e.run == nil || e.run.RunID != runID {
		e.mu.Unlock()
		return nil
	}
	st, ok := e.run.StageStates[stageID]
	if !ok {
		st = &StageState{}
		e.run.StageStates[stageID] = st
	}
	if status == StageProcessing {
		st.StartedAt = time.Now()
	}
	st.Status = status
	st.Message = message
	st.Data = data
	if status == StageComplete || status == StageError || status == StageSkipped {
		st.CompletedAt = time.Now()
		if status == StageComplete && data != nil {
			e.session.StageOutputs[stageID] = data
		}
	}
	e.session.LastUpdated = time.Now()
	terminalSnapshot := status == StageComplete || status == StageError || status == StageSkipped
	var rec Checkpoint
	if terminalSnapshot {
		rec = Checkpoint{SessionID: sessionID, RunID: runID, StageID: stageID, Status: status, Data: data, Timestamp: time.Now()}
	}
	e.mu.Unlock()

	if terminalSnapshot && s.journal != nil {
		if err := s.journal.WriteCheckpoint(ctx, rec); err != nil {
			return fmt.Errorf("session: checkpoint write failed: %w", err)
		}
	}
	return nil
}

// SetTerminal marks the run finished (cancelled, completed, or failed)
// so StartRun's cancellation wait can observe it and so CurrentRun stops
// reporting it as the live run's mutable target.
func (s *Store) SetTerminal(sessionID, runID, reason string) {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil || e.run.RunID != runID {
		return
	}
	e.run.Terminal = true
	e.run.TerminalReason = reason
}

// SetAwaitingConfirmation flips the run's awaiting_confirmation flag.
func (s *Store) SetAwaitingConfirmation(sessionID, runID string, awaiting bool) {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil || e.run.RunID != runID {
		return
	}
	e.run.AwaitingConfirmation = awaiting
}

// SetPath records which branch (purchase/info) the session's current run
// took, once intent is known.
func (s *Store) SetPath(sessionID string, path Path) {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	e.session.Path = path
}
