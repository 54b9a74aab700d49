package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"concierge/internal/eventbus"
	"concierge/internal/pipeline"
	"concierge/internal/session"
	"concierge/internal/stage"
)

// Transport is the HTTP/WS adapter (spec.md §4.10): it never makes a
// pipeline decision itself, only translates requests into session/run
// operations and relays events.
type Transport struct {
	Store   *session.Store
	Bus     *eventbus.Bus
	Engine  *pipeline.Engine
	Builder *pipeline.Builder
	Hub     *pipeline.ConfirmationHub
	OTPHub  *pipeline.OTPHub
}

// processAwaitTimeout bounds how long handleProcess waits for the run to
// reach a pause or terminal point before answering anyway with whatever
// state the store has — a safety valve, not a normal exit: every fixed
// pipeline reaches notification or await_confirmation's "processing"
// event in well under this.
const processAwaitTimeout = 25 * time.Second

type processRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type processResponse struct {
	Success              bool                  `json:"success"`
	SessionID            string                `json:"session_id"`
	RunID                string                `json:"run_id"`
	Intent               *stage.Intent         `json:"intent,omitempty"`
	PlanSummary          string                `json:"plan_summary,omitempty"`
	RankedProducts       []stage.ScoredProduct `json:"ranked_products,omitempty"`
	Decision             *stage.Decision       `json:"decision,omitempty"`
	Purchase             *stage.PurchaseResult `json:"purchase,omitempty"`
	AwaitingConfirmation bool                  `json:"awaiting_confirmation"`
	Terminal             bool                  `json:"terminal"`
	TerminalReason       string                `json:"terminal_reason,omitempty"`
	TerminalStageEvents  []eventbus.Event      `json:"terminal_stage_events,omitempty"`
}

// handleProcess serves POST /api/chat/process (spec.md §4.10, §6): create
// or resume a session, start a run, and block until the run reaches its
// next pause or terminal point — await_confirmation blocking on user
// input, or the notification stage completing/failing — returning the
// outcome accumulated so far rather than a bare run identifier.
func (s *Transport) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, stage.ErrBadRequest, "session_id and message are required")
		return
	}

	sub := s.Bus.Subscribe(req.SessionID)
	defer s.Bus.Unsubscribe(sub)

	run, err := s.Store.StartRun(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, stage.ErrStageInternal, err.Error())
		return
	}

	// net/http cancels r.Context() the instant ServeHTTP returns, not
	// when the client disconnects, so the run must carry its own
	// request-independent context — otherwise every stage's ctx.Err()
	// would already be non-nil by the time any real I/O checked it. The
	// handler itself only waits on the subscription, it does not tie the
	// run's lifetime to the request.
	go func() {
		_ = s.Engine.Run(context.Background(), req.SessionID, run.RunID, s.Builder.CombinedPipeline())
	}()

	events := s.awaitPauseOrTerminal(run.RunID, sub)
	writeJSON(w, http.StatusOK, s.buildProcessResponse(req.SessionID, run.RunID, events))
}

// awaitPauseOrTerminal drains sub until an event marks run_id's run as
// paused (awaiting confirmation) or terminal, or processAwaitTimeout
// elapses. It returns every stage_update/run_cancelled event observed for
// this run along the way, in emission order, for terminal_stage_events.
func (s *Transport) awaitPauseOrTerminal(runID string, sub *eventbus.Subscription) []eventbus.Event {
	var events []eventbus.Event
	deadline := time.NewTimer(processAwaitTimeout)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return events
			}
			if ev.RunID != runID {
				continue
			}
			events = append(events, ev)
			if isPauseOrTerminalEvent(ev) {
				return events
			}
		case <-deadline.C:
			return events
		}
	}
}

// isPauseOrTerminalEvent reports whether ev marks the point at which
// handleProcess should stop waiting and answer: the run either paused on
// await_confirmation (its "processing" event fires the instant the stage
// starts, before it blocks on the confirmation hub) or reached a terminal
// state. notification is the shared last node of both fixed pipelines
// (spec.md §4.5), so its completion (or, on the rare non-recoverable
// failure that shortcuts past it, any other stage's error besides the
// recoverable "purchase" stage) is the run's terminal point.
func isPauseOrTerminalEvent(ev eventbus.Event) bool {
	if ev.Type == eventbus.EventRunCancelled {
		return true
	}
	if ev.Type != eventbus.EventStageUpdate {
		return false
	}
	if ev.StageID == "await_confirmation" && ev.Status == "processing" {
		return true
	}
	if ev.StageID == "notification" && (ev.Status == "complete" || ev.Status == "error") {
		return true
	}
	if ev.Status == "error" && ev.StageID != "purchase" {
		return true
	}
	return false
}

// buildProcessResponse assembles the documented response shape from
// whatever the run has produced so far. Fields whose stage never ran (a
// non-purchase intent producing no ranked_products/decision, or a run
// still short of a terminal notification) stay zero-valued/omitted.
func (s *Transport) buildProcessResponse(sessionID, runID string, events []eventbus.Event) processResponse {
	sess := s.Store.GetOrCreate(sessionID)
	run := s.Store.CurrentRun(sessionID)

	resp := processResponse{
		SessionID:           sessionID,
		RunID:               runID,
		TerminalStageEvents: events,
	}
	if run != nil {
		resp.AwaitingConfirmation = run.AwaitingConfirmation
		resp.Terminal = run.Terminal
		resp.TerminalReason = run.TerminalReason
		resp.Success = run.Terminal && run.TerminalReason == "complete"
	}
	if in, ok := sess.StageOutputs["intent_extraction"].(stage.Intent); ok {
		resp.Intent = &in
	}
	if plan, ok := sess.StageOutputs["task_planning"].(stage.Plan); ok {
		resp.PlanSummary = "stages: " + joinStages(plan.Stages)
	}
	if rk, ok := sess.StageOutputs["comparison"].(stage.Ranking); ok {
		resp.RankedProducts = rk.Ranked
	}
	if d, ok := sess.StageOutputs["decision"].(stage.Decision); ok {
		resp.Decision = &d
	}
	if pr, ok := sess.StageOutputs["purchase"].(stage.PurchaseResult); ok {
		resp.Purchase = &pr
	}
	return resp
}

func joinStages(stages []string) string {
	out := ""
	for i, st := range stages {
		if i > 0 {
			out += ","
		}
		out += st
	}
	return out
}

type confirmRequest struct {
	SessionID     string `json:"session_id"`
	RunID         string `json:"run_id"`
	Accepted      bool   `json:"accepted"`
	SelectedIndex *int   `json:"selected_index,omitempty"`
}

// handleConfirm serves POST /api/order/confirm (spec.md §4.10, §6):
// delivers into the current run's await_confirmation channel, then blocks
// until the run reaches its next pause or terminal point. It returns the
// PurchaseResult when the purchase stage produced one, and otherwise
// (e.g. the confirmation was rejected) the same response body as
// /api/chat/process.
func (s *Transport) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, stage.ErrBadRequest, "session_id is required")
		return
	}
	runID := req.RunID
	if runID == "" {
		if run := s.Store.CurrentRun(req.SessionID); run != nil {
			runID = run.RunID
		}
	}

	sub := s.Bus.Subscribe(req.SessionID)
	defer s.Bus.Unsubscribe(sub)

	ok := s.Hub.Deliver(runID, pipeline.Confirmation{Accepted: req.Accepted, SelectedIndex: req.SelectedIndex})
	if !ok {
		writeError(w, http.StatusConflict, stage.ErrBadRequest, "no pending confirmation for run")
		return
	}

	events := s.awaitPauseOrTerminal(runID, sub)
	resp := s.buildProcessResponse(req.SessionID, runID, events)
	if resp.Purchase != nil {
		writeJSON(w, http.StatusOK, resp.Purchase)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type otpRequest struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Code      string `json:"code"`
}

// handleOTP serves POST /api/order/otp: relays a user-supplied
// out-of-band code into the run's pending OTP request (spec.md §4.8 "the
// Transport relays a user-supplied code within the connector's
// deadline").
func (s *Transport) handleOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, stage.ErrBadRequest, "session_id and code are required")
		return
	}
	runID := req.RunID
	if runID == "" {
		if run := s.Store.CurrentRun(req.SessionID); run != nil {
			runID = run.RunID
		}
	}
	if s.OTPHub == nil || !s.OTPHub.Deliver(runID, req.Code) {
		writeError(w, http.StatusConflict, stage.ErrBadRequest, "no pending otp request for run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "delivered"})
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

// handleCancel serves POST /api/cancel.
func (s *Transport) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, stage.ErrBadRequest, "session_id is required")
		return
	}
	run := s.Store.CurrentRun(req.SessionID)
	if run == nil {
		writeError(w, http.StatusNotFound, stage.ErrBadRequest, "no active run")
		return
	}
	s.Store.RequestCancel(req.SessionID, run.RunID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

// handleSession serves GET /api/session/{id}: the current session and
// run snapshot.
func (s *Transport) handleSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, stage.ErrBadRequest, "session id is required")
		return
	}
	sess := s.Store.GetOrCreate(sessionID)
	run := s.Store.CurrentRun(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"run":     run,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind stage.ErrorKind, message string) {
	writeJSON(w, status, map[string]string{"error": string(kind), "message": message})
}
