package queue

import "context"

// Memory is a bounded FIFO channel queue for single-process deployments.
type Memory struct {
	ch chan Message
}

// NewMemory constructs a Memory queue with the given capacity.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{ch: make(chan Message, size)}
}

// Send enqueues without blocking; a full queue is surfaced to the caller
// rather than stalling the request path.
func (m *Memory) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive exposes the consumption side for scheduler workers.
func (m *Memory) Receive() <-chan Message {
	return m.ch
}

// Close stops the queue; workers drain remaining messages and exit.
func (m *Memory) Close() {
	close(m.ch)
}
