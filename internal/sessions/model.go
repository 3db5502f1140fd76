package sessions

import (
	"time"

	"agent-backend/internal/events"
)

// WorkflowState is the session's position in the fixed
// resume -> JD -> rewrite -> export pipeline. Transitions are monotonic.
type WorkflowState string

const (
	StateDraft          WorkflowState = "draft"
	StateResumeUploaded WorkflowState = "resume_uploaded"
	StateJDProvided     WorkflowState = "jd_provided"
	StateRewriteApplied WorkflowState = "rewrite_applied"
	StateExported       WorkflowState = "exported"
)

func (s WorkflowState) rank() int {
	switch s {
	case StateResumeUploaded:
		return 1
	case StateJDProvided:
		return 2
	case StateRewriteApplied:
		return 3
	case StateExported:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s has reached the given state.
func (s WorkflowState) AtLeast(o WorkflowState) bool {
	return s.rank() >= o.rank()
}

// RunStatus enumerates run lifecycle states.
type RunStatus string

const (
	RunQueued      RunStatus = "queued"
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Terminal reports whether the status is final. Terminal statuses are
// immutable.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunInterrupted:
		return true
	default:
		return false
	}
}

// RunError captures why a run failed. Set only on failed runs.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Usage accumulates token counts and estimated cost.
type Usage struct {
	InputTokens   int64   `json:"inputTokens"`
	OutputTokens  int64   `json:"outputTokens"`
	EstimatedCost float64 `json:"estimatedCost"`
}

func (u *Usage) add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.EstimatedCost += o.EstimatedCost
}

// Run is one asynchronous agent execution of a user message.
type Run struct {
	ID        string
	SessionID string
	Message   string
	Status    RunStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     *RunError
	Usage     Usage

	Log *events.Log

	cancelled bool
	cancel    chan struct{}
}

type idemRecord struct {
	fingerprint string
	runID       string
}

// Session is one conversational workspace owned by a tenant.
type Session struct {
	ID             string
	TenantID       string
	Workspace      string
	CreatedAt      time.Time
	LastActivityAt time.Time

	AutoApprove bool
	Workflow    WorkflowState

	ResumePath string
	ResumeText string
	JDText     string

	ActiveRunID      string
	LatestExportPath string
	Usage            Usage

	runs        map[string]*Run
	runOrder    []string
	idempotency map[string]idemRecord
}
