package sessions

import "time"

// SessionView is the API representation of a session.
type SessionView struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenantId"`
	Workspace        string        `json:"workspace"`
	CreatedAt        time.Time     `json:"createdAt"`
	LastActivityAt   time.Time     `json:"lastActivityAt"`
	AutoApprove      bool          `json:"autoApprove"`
	WorkflowState    WorkflowState `json:"workflowState"`
	ResumePath       string        `json:"resumePath,omitempty"`
	JDProvided       bool          `json:"jdProvided"`
	ActiveRunID      string        `json:"activeRunId,omitempty"`
	LatestExportPath string        `json:"latestExportPath,omitempty"`
	Usage            Usage         `json:"usage"`
}

// RunView is the API representation of a run.
type RunView struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Message   string     `json:"message"`
	Status    RunStatus  `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Error     *RunError  `json:"error,omitempty"`
	Usage     Usage      `json:"usage"`
	Events    int        `json:"events"`
}

func sessionView(s *Session) SessionView {
	return SessionView{
		ID:               s.ID,
		TenantID:         s.TenantID,
		Workspace:        s.Workspace,
		CreatedAt:        s.CreatedAt,
		LastActivityAt:   s.LastActivityAt,
		AutoApprove:      s.AutoApprove,
		WorkflowState:    s.Workflow,
		ResumePath:       s.ResumePath,
		JDProvided:       s.JDText != "",
		ActiveRunID:      s.ActiveRunID,
		LatestExportPath: s.LatestExportPath,
		Usage:            s.Usage,
	}
}

func runView(r *Run) RunView {
	view := RunView{
		ID:        r.ID,
		SessionID: r.SessionID,
		Message:   r.Message,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Error:     r.Error,
		Usage:     r.Usage,
	}
	if r.Log != nil {
		view.Events = r.Log.Len()
	}
	return view
}
