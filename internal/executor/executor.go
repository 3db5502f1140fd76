package executor

import (
	"context"
	"errors"
)

// ErrInterrupted is returned by an Executor that stopped at a yield point
// because the run's cancellation flag was set.
var ErrInterrupted = errors.New("run interrupted")

// RunContext is the contract between the runtime core and an Executor. The
// core hands the executor its input plus callbacks that translate progress
// into event-log entries; the executor must honor the cancellation channel
// at every yield point and suspend on ProposeTool until the gate resolves.
type RunContext interface {
	SessionID() string
	RunID() string
	Message() string

	// Session context at run start.
	ResumeText() string
	ResumePath() string
	JobDescription() string

	// Delta records a chunk of assistant output.
	Delta(text string)
	// ProposeTool requests permission for a gated tool call. It blocks
	// until the approval resolves (or returns immediately under
	// auto-approve) and reports whether the call may proceed. It returns
	// ErrInterrupted if the run was cancelled while pending.
	ProposeTool(name string, args map[string]any) (bool, error)
	// ToolResult records the outcome of an executed tool call. Never call
	// it for a rejected proposal.
	ToolResult(name string, result map[string]any)

	// Workspace access for tool execution, sandboxed to the session.
	WriteWorkspaceFile(rel string, data []byte) error
	ReadWorkspaceFile(rel string) ([]byte, error)

	// AddUsage accumulates token usage onto the run.
	AddUsage(model string, inputTokens, outputTokens int64)

	// Cancelled is closed when an interrupt has been requested.
	Cancelled() <-chan struct{}
	IsCancelled() bool
}

// Executor drives one run end-to-end. The runtime core treats it as
// opaque: it only observes the RunContext callbacks and the returned
// error. Retry and fallback policy live inside the Executor, never in the
// core.
type Executor interface {
	Execute(ctx context.Context, rc RunContext) error
}
