package events

import (
	"fmt"
	"sync"
	"time"
)

// Log is an append-only event sequence for one run, safe for concurrent
// use. Appends wake blocked readers by closing the current notification
// channel, so streaming handlers never poll on a fixed sleep.
type Log struct {
	mu        sync.Mutex
	sessionID string
	runID     string
	now       func() time.Time
	seq       int
	entries   []Event
	notify    chan struct{}
}

// NewLog constructs an empty log for the given run.
func NewLog(sessionID, runID string, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{
		sessionID: sessionID,
		runID:     runID,
		now:       now,
		notify:    make(chan struct{}),
	}
}

// Append adds an event and returns it. Sequence numbers are monotonically
// increasing and never reused.
func (l *Log) Append(t Type, payload map[string]any) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := Event{
		ID:        fmt.Sprintf("%s-%06d", l.runID, l.seq),
		SessionID: l.sessionID,
		RunID:     l.runID,
		Type:      t,
		Timestamp: l.now().UTC(),
		Payload:   payload,
	}
	l.seq++
	l.entries = append(l.entries, ev)

	close(l.notify)
	l.notify = make(chan struct{})
	return ev
}

// Snapshot returns a point-in-time copy of the log so callers never hold
// the lock during I/O.
func (l *Log) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// Wait returns a channel closed on the next append. Take it before
// snapshotting to avoid missing a wakeup.
func (l *Log) Wait() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notify
}

// IndexAfter resolves a Last-Event-ID into the index of the next event to
// send. Absent or unknown ids restart the stream from the beginning.
func (l *Log) IndexAfter(lastEventID string) int {
	if lastEventID == "" {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == lastEventID {
			return i + 1
		}
	}
	return 0
}

// Terminal reports whether the log already contains a terminal event.
func (l *Log) Terminal() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) > 0 && l.entries[len(l.entries)-1].Type.Terminal()
}

// Len returns the number of appended events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
