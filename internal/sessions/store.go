package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-backend/internal/apperr"
	"agent-backend/internal/approvals"
	"agent-backend/internal/events"
	"agent-backend/internal/queue"
	"agent-backend/internal/shared/telemetry"
	"agent-backend/internal/shared/util"
	"agent-backend/internal/workspace"
)

// CostFn estimates the cost of a model invocation from token counts.
type CostFn func(model string, inputTokens, outputTokens int64) float64

// Options configures a Store. Clock and id generator are injected so tests
// control time and ids deterministically.
type Options struct {
	Now               func() time.Time
	NewID             func() string
	MaxRunsPerSession int
	Queue             queue.Client
	Gate              *approvals.Gate
	Sandbox           *workspace.Sandbox
	Cost              CostFn
}

// Store owns every Session and Run in the process. All mutations happen
// under one lock; reads that drive client-visible decisions (active-run
// check, idempotency lookup, quota) are atomic with their writes.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	now     func() time.Time
	newID   func() string
	maxRuns int
	queue   queue.Client
	gate    *approvals.Gate
	sandbox *workspace.Sandbox
	cost    CostFn
}

// NewStore constructs a Store.
func NewStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Gate == nil {
		opts.Gate = approvals.NewGate()
	}
	if opts.Cost == nil {
		opts.Cost = func(string, int64, int64) float64 { return 0 }
	}
	return &Store{
		sessions: make(map[string]*Session),
		now:      opts.Now,
		newID:    opts.NewID,
		maxRuns:  opts.MaxRunsPerSession,
		queue:    opts.Queue,
		gate:     opts.Gate,
		sandbox:  opts.Sandbox,
		cost:     opts.Cost,
	}
}

// Gate exposes the approval gate for wiring and tests.
func (st *Store) Gate() *approvals.Gate {
	return st.gate
}

// sessionLocked resolves a session for a tenant. Cross-tenant access is
// indistinguishable from absence. Caller holds st.mu.
func (st *Store) sessionLocked(tenant, id string) (*Session, error) {
	s, ok := st.sessions[id]
	if !ok || s.TenantID != tenant {
		return nil, apperr.New(apperr.CodeSessionNotFound, "session not found")
	}
	return s, nil
}

func (st *Store) touchLocked(s *Session) {
	s.LastActivityAt = st.now().UTC()
}

// CreateSession allocates a new session for the tenant.
func (st *Store) CreateSession(tenant, workspaceName string, autoApprove bool) SessionView {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now().UTC()
	s := &Session{
		ID:             st.newID(),
		TenantID:       tenant,
		Workspace:      workspaceName,
		CreatedAt:      now,
		LastActivityAt: now,
		AutoApprove:    autoApprove,
		Workflow:       StateDraft,
		runs:           make(map[string]*Run),
		idempotency:    make(map[string]idemRecord),
	}
	st.sessions[s.ID] = s
	return sessionView(s)
}

// GetSession returns the session if it exists and is owned by the tenant.
func (st *Store) GetSession(tenant, id string) (SessionView, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.sessionLocked(tenant, id)
	if err != nil {
		return SessionView{}, err
	}
	return sessionView(s), nil
}

// EnsureSession verifies existence and ownership without returning data.
func (st *Store) EnsureSession(tenant, id string) error {
	_, err := st.GetSession(tenant, id)
	return err
}

// SetAutoApprove flips the session's tool-approval setting.
func (st *Store) SetAutoApprove(tenant, id string, enabled bool) (SessionView, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.sessionLocked(tenant, id)
	if err != nil {
		return SessionView{}, err
	}
	s.AutoApprove = enabled
	st.touchLocked(s)
	return sessionView(s), nil
}

// AttachResume records an uploaded resume and advances the workflow.
func (st *Store) AttachResume(tenant, id, relPath, text string) (SessionView, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.sessionLocked(tenant, id)
	if err != nil {
		return SessionView{}, err
	}
	s.ResumePath = relPath
	s.ResumeText = text
	st.advanceLocked(s, StateResumeUploaded)
	st.touchLocked(s)
	return sessionView(s), nil
}

// SubmitJD records the job description. Valid only once a resume exists.
func (st *Store) SubmitJD(tenant, id, jd string) (SessionView, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, err := st.sessionLocked(tenant, id)
	if err != nil {
		return SessionView{}, err
	}
	if !s.Workflow.AtLeast(StateResumeUploaded) {
		return SessionView{}, apperr.New(apperr.CodeInvalidState, "resume must be uploaded before submitting a job description")
	}
	s.JDText = jd
	st.advanceLocked(s, StateJDProvided)
	st.touchLocked(s)
	return sessionView(s), nil
}

// advanceLocked moves the workflow forward; backward transitions are not
// defined and are silently ignored.
func (st *Store) advanceLocked(s *Session, target WorkflowState) {
	if !s.Workflow.AtLeast(target) {
		s.Workflow = target
	}
}

// Export renders the session's current resume into a markdown artifact,
// records it as the latest export, and advances the workflow. Valid from
// any state once a resume exists.
func (st *Store) Export(tenant, id string) (SessionView, string, error) {
	st.mu.Lock()
	s, err := st.sessionLocked(tenant, id)
	if err != nil {
		st.mu.Unlock()
		return SessionView{}, "", err
	}
	if s.ResumePath == "" {
		st.mu.Unlock()
		return SessionView{}, "", apperr.New(apperr.CodeInvalidState, "no resume to export")
	}
	resumePath := s.ResumePath
	resumeText := s.ResumeText
	workspaceName := s.Workspace
	now := st.now().UTC()
	st.mu.Unlock()

	content := resumeText
	if st.sandbox != nil {
		if raw, readErr := st.sandbox.ReadFile(id, resumePath); readErr == nil {
			content = string(raw)
		}
	}
	artifact := fmt.Sprintf("exports/resume-%s.md", now.Format("20060102T150405"))
	body := fmt.Sprintf("# %s\n\n%s\n", workspaceName, content)
	if st.sandbox != nil {
		if writeErr := st.sandbox.WriteFile(id, artifact, []byte(body)); writeErr != nil {
			return SessionView{}, "", apperr.Newf(apperr.CodeInternal, "write export: %v", writeErr)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	s, err = st.sessionLocked(tenant, id)
	if err != nil {
		return SessionView{}, "", err
	}
	s.LatestExportPath = artifact
	st.advanceLocked(s, StateExported)
	st.touchLocked(s)
	return sessionView(s), artifact, nil
}

// CreateRun allocates and enqueues a run for the session's message.
//
// Idempotent replays are resolved first: a previously seen key with a
// matching message fingerprint returns the existing run without consuming
// quota or enqueuing work, even while that run is still active. A seen key
// with a different fingerprint is a conflict. Only genuinely new runs hit
// the active-run check and the per-session quota.
func (st *Store) CreateRun(tenant, sessionID, message, idempotencyKey string) (RunView, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.sessionLocked(tenant, sessionID)
	if err != nil {
		return RunView{}, false, err
	}

	if idempotencyKey != "" {
		if rec, seen := s.idempotency[idempotencyKey]; seen {
			if rec.fingerprint != util.Fingerprint(message) {
				return RunView{}, false, apperr.New(apperr.CodeIdempotencyConflict, "idempotency key was used with a different message")
			}
			if existing, ok := s.runs[rec.runID]; ok {
				return runView(existing), true, nil
			}
		}
	}

	if s.ActiveRunID != "" {
		if active, ok := s.runs[s.ActiveRunID]; ok && !active.Status.Terminal() {
			return RunView{}, false, apperr.New(apperr.CodeActiveRunExists, "session already has an active run")
		}
	}

	if st.maxRuns > 0 && len(s.runOrder) >= st.maxRuns {
		return RunView{}, false, apperr.New(apperr.CodeRunQuotaExceeded, "session run quota exceeded")
	}

	now := st.now().UTC()
	run := &Run{
		ID:        st.newID(),
		SessionID: sessionID,
		Message:   message,
		Status:    RunQueued,
		CreatedAt: now,
		cancel:    make(chan struct{}),
	}
	run.Log = events.NewLog(sessionID, run.ID, st.now)

	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	s.ActiveRunID = run.ID
	if idempotencyKey != "" {
		s.idempotency[idempotencyKey] = idemRecord{fingerprint: util.Fingerprint(message), runID: run.ID}
	}
	st.touchLocked(s)

	if st.queue != nil {
		if sendErr := st.queue.Send(context.Background(), queue.NewMessage(sessionID, run.ID, now)); sendErr != nil {
			delete(s.runs, run.ID)
			s.runOrder = s.runOrder[:len(s.runOrder)-1]
			s.ActiveRunID = ""
			if idempotencyKey != "" {
				delete(s.idempotency, idempotencyKey)
			}
			return RunView{}, false, apperr.Newf(apperr.CodeInternal, "enqueue run: %v", sendErr)
		}
	}

	return runView(run), false, nil
}

func (st *Store) runLocked(tenant, sessionID, runID string) (*Session, *Run, error) {
	s, err := st.sessionLocked(tenant, sessionID)
	if err != nil {
		return nil, nil, err
	}
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil, apperr.New(apperr.CodeRunNotFound, "run not found")
	}
	return s, run, nil
}

// GetRun returns a run owned by the tenant's session.
func (st *Store) GetRun(tenant, sessionID, runID string) (RunView, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, run, err := st.runLocked(tenant, sessionID, runID)
	if err != nil {
		return RunView{}, err
	}
	return runView(run), nil
}

// RunEvents returns the run's event log for streaming.
func (st *Store) RunEvents(tenant, sessionID, runID string) (*events.Log, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, run, err := st.runLocked(tenant, sessionID, runID)
	if err != nil {
		return nil, err
	}
	return run.Log, nil
}

// Interrupt requests cooperative cancellation. Interrupting an already
// terminal run is a no-op reporting current status.
func (st *Store) Interrupt(tenant, sessionID, runID string) (RunView, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, run, err := st.runLocked(tenant, sessionID, runID)
	if err != nil {
		return RunView{}, false, err
	}
	if run.Status.Terminal() {
		return runView(run), false, nil
	}
	if !run.cancelled {
		run.cancelled = true
		close(run.cancel)
	}
	st.touchLocked(s)
	return runView(run), true, nil
}

// CancelAll requests cooperative cancellation of every non-terminal run.
// Called on shutdown so runs blocked on a pending approval stop waiting.
func (st *Store) CancelAll() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	cancelled := 0
	for _, s := range st.sessions {
		for _, run := range s.runs {
			if run.Status.Terminal() {
				continue
			}
			if !run.cancelled {
				run.cancelled = true
				close(run.cancel)
			}
			cancelled++
		}
	}
	return cancelled
}

// ListApprovals returns the session's approvals, oldest first.
func (st *Store) ListApprovals(tenant, sessionID string) ([]approvals.Approval, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, err := st.sessionLocked(tenant, sessionID); err != nil {
		return nil, err
	}
	return st.gate.ForSession(sessionID), nil
}

// ResolveApproval applies a human decision to a pending approval. The
// resolution event is appended before the blocked run resumes, so it
// always precedes any tool_result. apply_to_future also flips the
// session's auto-approve.
func (st *Store) ResolveApproval(tenant, sessionID, approvalID string, approve, applyToFuture bool) (approvals.Approval, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.sessionLocked(tenant, sessionID)
	if err != nil {
		return approvals.Approval{}, err
	}
	if existing, ok := st.gate.Get(approvalID); !ok || existing.SessionID != sessionID {
		return approvals.Approval{}, apperr.New(apperr.CodeApprovalNotFound, "approval not found")
	}

	resolved, err := st.gate.Resolve(approvalID, approve, applyToFuture, func(ap approvals.Approval) {
		run, ok := s.runs[ap.RunID]
		if !ok {
			return
		}
		if approve {
			run.Log.Append(events.TypeToolCallApproved, map[string]any{
				"approval_id":     ap.ID,
				"tool":            ap.ToolName,
				"apply_to_future": applyToFuture,
			})
		} else {
			run.Log.Append(events.TypeToolCallRejected, map[string]any{
				"approval_id": ap.ID,
				"tool":        ap.ToolName,
			})
		}
	})
	if err != nil {
		return approvals.Approval{}, err
	}
	if approve && applyToFuture {
		s.AutoApprove = true
	}
	st.touchLocked(s)
	return resolved, nil
}

// Cleanup sweeps artifacts past artifactTTL and sessions idle past
// sessionTTL. A zero TTL disables that sweep. Sessions with a live run are
// never removed.
func (st *Store) Cleanup(artifactTTL, sessionTTL time.Duration) (removedFiles, removedSessions int, err error) {
	now := st.now().UTC()

	if artifactTTL > 0 && st.sandbox != nil {
		removedFiles, err = st.sandbox.Sweep(now.Add(-artifactTTL))
		if err != nil {
			return removedFiles, 0, err
		}
	}

	if sessionTTL > 0 {
		var expired []string
		st.mu.Lock()
		for id, s := range st.sessions {
			if now.Sub(s.LastActivityAt) <= sessionTTL {
				continue
			}
			if s.ActiveRunID != "" {
				if active, ok := s.runs[s.ActiveRunID]; ok && !active.Status.Terminal() {
					continue
				}
			}
			expired = append(expired, id)
		}
		for _, id := range expired {
			delete(st.sessions, id)
			st.gate.DropSession(id)
		}
		st.mu.Unlock()

		for _, id := range expired {
			if st.sandbox != nil {
				if rmErr := st.sandbox.RemoveSession(id); rmErr != nil {
					telemetry.Warn("cleanup.session.remove_failed", map[string]any{"session_id": id, "err": rmErr.Error()})
				}
			}
		}
		removedSessions = len(expired)
	}

	return removedFiles, removedSessions, nil
}
