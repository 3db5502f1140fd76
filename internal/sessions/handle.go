package sessions

import (
	"agent-backend/internal/apperr"
	"agent-backend/internal/events"
	"agent-backend/internal/executor"
)

// RunHandle is the RunContext handed to the Executor for one run. It
// translates executor callbacks into event-log writes and store state.
type RunHandle struct {
	store      *Store
	sessionID  string
	runID      string
	message    string
	resumeText string
	resumePath string
	jdText     string
	log        *events.Log
	cancel     <-chan struct{}
}

var _ executor.RunContext = (*RunHandle)(nil)

// Begin transitions a queued run to running, emits run_started, and
// returns the handle the scheduler passes to the Executor. Only the
// scheduler calls Begin.
func (st *Store) Begin(sessionID, runID string) (*RunHandle, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[sessionID]
	if !ok {
		return nil, apperr.New(apperr.CodeSessionNotFound, "session not found")
	}
	run, ok := s.runs[runID]
	if !ok {
		return nil, apperr.New(apperr.CodeRunNotFound, "run not found")
	}
	if run.Status != RunQueued {
		return nil, apperr.Newf(apperr.CodeInternal, "run %s is %s, expected queued", runID, run.Status)
	}

	now := st.now().UTC()
	run.Status = RunRunning
	run.StartedAt = &now
	run.Log.Append(events.TypeRunStarted, map[string]any{"message": run.Message})

	return &RunHandle{
		store:      st,
		sessionID:  sessionID,
		runID:      runID,
		message:    run.Message,
		resumeText: s.ResumeText,
		resumePath: s.ResumePath,
		jdText:     s.JDText,
		log:        run.Log,
		cancel:     run.cancel,
	}, nil
}

// Finish moves a running run to a terminal status, emits the terminal
// event, releases the session's active-run slot, and folds the run's usage
// into the session. Only the scheduler calls Finish. Terminal runs are
// immutable; a second Finish is a no-op.
func (st *Store) Finish(sessionID, runID string, status RunStatus, runErr *RunError) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[sessionID]
	if !ok {
		return
	}
	run, ok := s.runs[runID]
	if !ok || run.Status.Terminal() {
		return
	}
	if !status.Terminal() {
		return
	}

	now := st.now().UTC()
	run.Status = status
	run.EndedAt = &now
	run.Error = runErr
	if s.ActiveRunID == runID {
		s.ActiveRunID = ""
	}
	s.Usage.add(run.Usage)
	st.touchLocked(s)

	switch status {
	case RunCompleted:
		run.Log.Append(events.TypeRunCompleted, map[string]any{"usage": run.Usage})
	case RunFailed:
		payload := map[string]any{}
		if runErr != nil {
			payload["error"] = map[string]any{"code": runErr.Code, "message": runErr.Message}
		}
		run.Log.Append(events.TypeRunFailed, payload)
	case RunInterrupted:
		run.Log.Append(events.TypeRunInterrupted, nil)
	}
}

func (h *RunHandle) SessionID() string      { return h.sessionID }
func (h *RunHandle) RunID() string          { return h.runID }
func (h *RunHandle) Message() string        { return h.message }
func (h *RunHandle) ResumeText() string     { return h.resumeText }
func (h *RunHandle) ResumePath() string     { return h.resumePath }
func (h *RunHandle) JobDescription() string { return h.jdText }

// Delta records streamed assistant output.
func (h *RunHandle) Delta(text string) {
	h.log.Append(events.TypeAssistantDelta, map[string]any{"text": text})
}

// ProposeTool gates a tool call. Under auto-approve the gate is bypassed
// entirely: no proposal event, no approval object. Otherwise the run
// blocks until a human resolves the approval or the run is interrupted.
func (h *RunHandle) ProposeTool(name string, args map[string]any) (bool, error) {
	h.store.mu.Lock()
	s, ok := h.store.sessions[h.sessionID]
	if !ok {
		h.store.mu.Unlock()
		return false, apperr.New(apperr.CodeSessionNotFound, "session not found")
	}
	if s.AutoApprove {
		h.store.mu.Unlock()
		return true, nil
	}
	ap, decision := h.store.gate.Propose(h.store.newID(), h.sessionID, h.runID, name, args, h.store.now().UTC())
	h.log.Append(events.TypeToolCallProposed, map[string]any{
		"approval_id": ap.ID,
		"tool":        name,
		"args":        args,
	})
	h.store.mu.Unlock()

	select {
	case d := <-decision:
		return d.Approved, nil
	case <-h.cancel:
		h.store.gate.Abandon(ap.ID)
		return false, executor.ErrInterrupted
	}
}

// ToolResult records the outcome of an executed tool call.
func (h *RunHandle) ToolResult(name string, result map[string]any) {
	h.log.Append(events.TypeToolResult, map[string]any{
		"tool":   name,
		"result": result,
	})
}

// WriteWorkspaceFile writes into the session sandbox. A write to the
// uploaded resume path marks the rewrite as applied.
func (h *RunHandle) WriteWorkspaceFile(rel string, data []byte) error {
	if h.store.sandbox == nil {
		return apperr.New(apperr.CodeInternal, "no workspace configured")
	}
	if err := h.store.sandbox.WriteFile(h.sessionID, rel, data); err != nil {
		return err
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if s, ok := h.store.sessions[h.sessionID]; ok && s.ResumePath != "" && rel == s.ResumePath {
		s.ResumeText = string(data)
		h.store.advanceLocked(s, StateRewriteApplied)
	}
	return nil
}

// ReadWorkspaceFile reads from the session sandbox.
func (h *RunHandle) ReadWorkspaceFile(rel string) ([]byte, error) {
	if h.store.sandbox == nil {
		return nil, apperr.New(apperr.CodeInternal, "no workspace configured")
	}
	return h.store.sandbox.ReadFile(h.sessionID, rel)
}

// AddUsage accumulates token usage and estimated cost onto the run.
func (h *RunHandle) AddUsage(model string, inputTokens, outputTokens int64) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	s, ok := h.store.sessions[h.sessionID]
	if !ok {
		return
	}
	run, ok := s.runs[h.runID]
	if !ok {
		return
	}
	run.Usage.InputTokens += inputTokens
	run.Usage.OutputTokens += outputTokens
	run.Usage.EstimatedCost += h.store.cost(model, inputTokens, outputTokens)
}

// Cancelled is closed once an interrupt has been requested.
func (h *RunHandle) Cancelled() <-chan struct{} {
	return h.cancel
}

// IsCancelled reports the cancellation flag without blocking.
func (h *RunHandle) IsCancelled() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}
