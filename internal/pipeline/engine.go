package pipeline

import (
	"context"
	"errors"
	"time"

	"concierge/internal/eventbus"
	"concierge/internal/session"
	"concierge/internal/stage"
)

// Engine executes one Node list (a "pipeline") for one run.
type Engine struct {
	Store *session.Store
	Bus   *eventbus.Bus
}

// Run executes nodes in order against sessionID/runID. It returns the
// first engine-fatal error (a non-recoverable stage failing, or the run
// being cancelled); a recoverable stage failing (purchase) does not
// stop the run early by itself but the caller's own node list typically
// places it last anyway since nothing meaningful follows a purchase
// attempt in either fixed pipeline.
func (e *Engine) Run(ctx context.Context, sessionID, runID string, nodes []Node) error {
	// runCtx (not ctx) is threaded into every stage below so that a
	// cancellation requested mid-stage — while a stage is blocked in
	// I/O such as a search fan-out or a purchase connector call —
	// actually reaches that in-flight call, not just the next node
	// boundary (spec §4.5: "propagates a cancellation signal into any
	// stage currently blocked in I/O"). SetRunCancel publishes runCancel
	// to the Store so RequestCancel (and StartRun superseding a prior
	// run) can invoke it directly.
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	e.Store.SetRunCancel(sessionID, runID, runCancel)

	for _, node := range nodes {
		if e.Store.CancelRequested(sessionID, runID) {
			e.publishCancelled(sessionID, runID)
			e.Store.SetTerminal(sessionID, runID, "cancelled")
			return stage.NewError(stage.ErrUserCancelled, nil)
		}

		sess := e.Store.GetOrCreate(sessionID)
		run := e.Store.CurrentRun(sessionID)
		if run == nil || run.RunID != runID {
			return stage.NewError(stage.ErrStageInternal, errors.New("pipeline: run no longer current"))
		}

		if node.Predicate != nil && !node.Predicate(sess) {
			if err := e.updateStage(ctx, sessionID, runID, node.StageID, session.StageSkipped, "", nil); err != nil {
				return err
			}
			e.publish(sessionID, runID, node.StageID, "skipped", "", nil)
			continue
		}

		if err := e.updateStage(ctx, sessionID, runID, node.StageID, session.StageProcessing, "", nil); err != nil {
			return err
		}
		e.publish(sessionID, runID, node.StageID, "processing", "", nil)

		if node.StageID == "await_confirmation" {
			e.Store.SetAwaitingConfirmation(sessionID, runID, true)
		}

		stageCtx := runCtx
		var cancel context.CancelFunc
		if node.Timeout > 0 {
			stageCtx, cancel = context.WithTimeout(runCtx, node.Timeout)
		}
		data, message, err := node.Stage.Run(stageCtx, sess, run)
		if cancel != nil {
			cancel()
		}

		if node.StageID == "await_confirmation" {
			e.Store.SetAwaitingConfirmation(sessionID, runID, false)
		}

		if err != nil {
			switch {
			case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
				err = stage.NewError(stage.ErrStageTimeout, err)
			case errors.Is(stageCtx.Err(), context.Canceled):
				e.publishCancelled(sessionID, runID)
				e.Store.SetTerminal(sessionID, runID, "cancelled")
				return stage.NewError(stage.ErrUserCancelled, err)
			}
			if uerr := e.updateStage(ctx, sessionID, runID, node.StageID, session.StageError, err.Error(), nil); uerr != nil {
				return uerr
			}
			e.publish(sessionID, runID, node.StageID, "error", err.Error(), nil)

			if !node.Recoverable {
				e.Store.SetTerminal(sessionID, runID, string(stage.KindOf(err)))
				return err
			}
			continue
		}

		if err := e.updateStage(ctx, sessionID, runID, node.StageID, session.StageComplete, message, data); err != nil {
			return err
		}
		e.publish(sessionID, runID, node.StageID, "complete", message, data)
	}

	e.Store.SetTerminal(sessionID, runID, "complete")
	return nil
}

// updateStage writes a stage checkpoint and treats a journal write failure
// as fatal to the run (spec §7 ErrJournalFailure.Fatal()): the caller must
// stop the run rather than let processing continue against state that
// never made it to durable storage.
func (e *Engine) updateStage(ctx context.Context, sessionID, runID, stageID string, status session.StageStatus, message string, data any) error {
	if uerr := e.Store.UpdateStage(ctx, sessionID, runID, stageID, status, message, data); uerr != nil {
		werr := stage.NewError(stage.ErrJournalFailure, uerr)
		e.publish(sessionID, runID, stageID, "error", werr.Error(), nil)
		e.Store.SetTerminal(sessionID, runID, string(stage.ErrJournalFailure))
		return werr
	}
	return nil
}

func (e *Engine) publish(sessionID, runID, stageID, status, message string, data any) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(sessionID, eventbus.Event{
		Type:      eventbus.EventStageUpdate,
		SessionID: sessionID,
		RunID:     runID,
		StageID:   stageID,
		Status:    status,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (e *Engine) publishCancelled(sessionID, runID string) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(sessionID, eventbus.Event{
		Type:      eventbus.EventRunCancelled,
		SessionID: sessionID,
		RunID:     runID,
		Timestamp: time.Now().UnixMilli(),
	})
}
