package events

import "time"

// Type enumerates every event kind a run can emit.
type Type string

const (
	TypeRunStarted       Type = "run_started"
	TypeAssistantDelta   Type = "assistant_delta"
	TypeToolCallProposed Type = "tool_call_proposed"
	TypeToolCallApproved Type = "tool_call_approved"
	TypeToolCallRejected Type = "tool_call_rejected"
	TypeToolResult       Type = "tool_result"
	TypeRunCompleted     Type = "run_completed"
	TypeRunFailed        Type = "run_failed"
	TypeRunInterrupted   Type = "run_interrupted"
)

// Terminal reports whether the event type ends a run's stream.
func (t Type) Terminal() bool {
	switch t {
	case TypeRunCompleted, TypeRunFailed, TypeRunInterrupted:
		return true
	default:
		return false
	}
}

// Event is one entry in a run's append-only log. The ID embeds the run id
// and a zero-padded sequence number, so ids sort lexicographically in
// emission order and serve as SSE cursors.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	RunID     string         `json:"runId"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
