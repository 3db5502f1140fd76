package approvals

import (
	"sort"
	"sync"
	"time"

	"agent-backend/internal/apperr"
)

// Status enumerates approval states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Approval is one gated tool call awaiting a human decision.
type Approval struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	RunID     string         `json:"runId"`
	ToolName  string         `json:"toolName"`
	Args      map[string]any `json:"args,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	Status    Status         `json:"status"`
}

// Decision is delivered to the run blocked on a pending approval.
type Decision struct {
	Approved      bool
	ApplyToFuture bool
}

type entry struct {
	approval Approval
	decision chan Decision
}

// Gate tracks pending approvals indexed globally by id. Resolution is
// checked-and-set under the gate lock, so exactly one resolution wins.
type Gate struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewGate constructs an empty Gate.
func NewGate() *Gate {
	return &Gate{entries: make(map[string]*entry)}
}

// Propose registers a pending approval and returns it along with the
// channel the proposing run must block on.
func (g *Gate) Propose(id, sessionID, runID, toolName string, args map[string]any, now time.Time) (Approval, <-chan Decision) {
	ap := Approval{
		ID:        id,
		SessionID: sessionID,
		RunID:     runID,
		ToolName:  toolName,
		Args:      args,
		CreatedAt: now,
		Status:    StatusPending,
	}
	e := &entry{approval: ap, decision: make(chan Decision, 1)}
	g.mu.Lock()
	g.entries[id] = e
	g.mu.Unlock()
	return ap, e.decision
}

// Resolve transitions a pending approval exactly once and wakes the
// blocked run. A second resolution observes the already-resolved state and
// fails with a conflict. onResolved runs after the checked-and-set but
// before the decision is delivered, so callers can append the resolution
// event ahead of any tool_result the resumed run emits.
func (g *Gate) Resolve(id string, approved, applyToFuture bool, onResolved func(Approval)) (Approval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[id]
	if !ok {
		return Approval{}, apperr.New(apperr.CodeApprovalNotFound, "approval not found")
	}
	if e.approval.Status != StatusPending {
		return Approval{}, apperr.New(apperr.CodeApprovalResolved, "approval already resolved")
	}
	if approved {
		e.approval.Status = StatusApproved
	} else {
		e.approval.Status = StatusRejected
	}
	if onResolved != nil {
		onResolved(e.approval)
	}
	e.decision <- Decision{Approved: approved, ApplyToFuture: applyToFuture}
	return e.approval, nil
}

// Get returns an approval by id.
func (g *Gate) Get(id string) (Approval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[id]
	if !ok {
		return Approval{}, false
	}
	return e.approval, true
}

// ForSession lists approvals belonging to a session, oldest first.
func (g *Gate) ForSession(sessionID string) []Approval {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Approval, 0)
	for _, e := range g.entries {
		if e.approval.SessionID == sessionID {
			out = append(out, e.approval)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Abandon removes a pending approval whose run stopped waiting, e.g. on
// interrupt. Later resolution attempts observe not-found.
func (g *Gate) Abandon(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[id]; ok && e.approval.Status == StatusPending {
		delete(g.entries, id)
	}
}

// DropSession removes every approval owned by a session, used by the TTL
// sweep when a session is cascade-deleted.
func (g *Gate) DropSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, e := range g.entries {
		if e.approval.SessionID == sessionID {
			delete(g.entries, id)
		}
	}
}
