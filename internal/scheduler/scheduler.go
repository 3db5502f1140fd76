package scheduler

import (
	"context"
	"errors"
	"sync"

	"agent-backend/internal/apperr"
	"agent-backend/internal/executor"
	"agent-backend/internal/queue"
	"agent-backend/internal/sessions"
	"agent-backend/internal/shared/telemetry"
)

// Scheduler drains the run queue with a bounded worker pool and drives the
// Executor for each run. It is the only actor that transitions a run out
// of queued/running. Per-session exclusivity is guaranteed by the store's
// active-run invariant, so unrelated sessions execute in parallel.
type Scheduler struct {
	store   *sessions.Store
	exec    executor.Executor
	q       *queue.Memory
	workers int

	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// New constructs a Scheduler over the shared run queue.
func New(store *sessions.Store, exec executor.Executor, q *queue.Memory, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		store:   store,
		exec:    exec,
		q:       q,
		workers: workers,
	}
}

// Start launches the worker pool. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop closes the queue, cancels in-flight runs, and waits for the workers
// to drain. Cancellation unblocks runs suspended on a pending approval, so
// shutdown never waits on a human decision. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.q.Close()
	s.store.CancelAll()
	s.wg.Wait()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for msg := range s.q.Receive() {
		s.process(msg)
	}
}

// process executes one run end-to-end: queued -> running -> terminal.
func (s *Scheduler) process(msg queue.Message) {
	handle, err := s.store.Begin(msg.SessionID, msg.RunID)
	if err != nil {
		telemetry.Error("scheduler.begin_failed", map[string]any{
			"session_id": msg.SessionID,
			"run_id":     msg.RunID,
			"err":        err.Error(),
		})
		return
	}

	// An interrupt that landed while the run sat in the queue still gets a
	// well-formed stream: run_started followed by run_interrupted.
	if handle.IsCancelled() {
		s.store.Finish(msg.SessionID, msg.RunID, sessions.RunInterrupted, nil)
		return
	}

	execErr := s.exec.Execute(context.Background(), handle)

	switch {
	case handle.IsCancelled() || errors.Is(execErr, executor.ErrInterrupted):
		s.store.Finish(msg.SessionID, msg.RunID, sessions.RunInterrupted, nil)
	case execErr != nil:
		appErr := apperr.From(execErr)
		s.store.Finish(msg.SessionID, msg.RunID, sessions.RunFailed, &sessions.RunError{
			Code:    string(appErr.Code),
			Message: appErr.Message,
		})
	default:
		s.store.Finish(msg.SessionID, msg.RunID, sessions.RunCompleted, nil)
	}
}
