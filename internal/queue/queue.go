package queue

import (
	"context"
	"errors"
	"time"
)

// Message is one unit of work handed to the run scheduler.
type Message struct {
	SessionID  string `json:"sessionId"`
	RunID      string `json:"runId"`
	EnqueuedAt string `json:"enqueuedAt"`
}

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// ErrQueueFull is returned when the in-memory queue has no capacity left.
var ErrQueueFull = errors.New("run queue is full")

// NewMessage stamps a message with its enqueue time.
func NewMessage(sessionID, runID string, now time.Time) Message {
	return Message{
		SessionID:  sessionID,
		RunID:      runID,
		EnqueuedAt: now.UTC().Format(time.RFC3339Nano),
	}
}
