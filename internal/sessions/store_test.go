package sessions

import (
	"fmt"
	"testing"
	"time"

	"agent-backend/internal/apperr"
	"agent-backend/internal/events"
	"agent-backend/internal/queue"
	"agent-backend/internal/workspace"
)

type storeFixture struct {
	store *Store
	queue *queue.Memory
	now   time.Time
}

func newStoreFixture(t *testing.T, maxRuns int) *storeFixture {
	t.Helper()
	f := &storeFixture{
		queue: queue.NewMemory(16),
		now:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	seq := 0
	f.store = NewStore(Options{
		Now: func() time.Time { return f.now },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%04d", seq)
		},
		MaxRunsPerSession: maxRuns,
		Queue:             f.queue,
		Sandbox:           workspace.New(t.TempDir()),
	})
	return f
}

func TestTenantIsolation(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)

	if _, err := f.store.GetSession("tenant-b", sess.ID); !apperr.Is(err, apperr.CodeSessionNotFound) {
		t.Fatalf("cross-tenant read must look like absence, got %v", err)
	}
	if _, err := f.store.GetSession("tenant-a", sess.ID); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
}

func TestSubmitJDRequiresResume(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)

	if _, err := f.store.SubmitJD("tenant-a", sess.ID, "job text"); !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("expected INVALID_STATE before resume upload, got %v", err)
	}

	if _, err := f.store.AttachResume("tenant-a", sess.ID, "uploads/resume.txt", "resume body"); err != nil {
		t.Fatalf("attach resume: %v", err)
	}
	view, err := f.store.SubmitJD("tenant-a", sess.ID, "job text")
	if err != nil {
		t.Fatalf("submit jd: %v", err)
	}
	if view.WorkflowState != StateJDProvided {
		t.Fatalf("expected jd_provided, got %s", view.WorkflowState)
	}
}

func TestWorkflowNeverMovesBackward(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)

	f.store.AttachResume("tenant-a", sess.ID, "uploads/resume.txt", "body")
	f.store.SubmitJD("tenant-a", sess.ID, "jd")

	// A later resume upload must not regress the workflow.
	view, err := f.store.AttachResume("tenant-a", sess.ID, "uploads/v2.txt", "body2")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if view.WorkflowState != StateJDProvided {
		t.Fatalf("workflow regressed to %s", view.WorkflowState)
	}
}

func TestCreateRunActiveConflict(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)

	if _, _, err := f.store.CreateRun("tenant-a", sess.ID, "first", ""); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, _, err := f.store.CreateRun("tenant-a", sess.ID, "second", "")
	if !apperr.Is(err, apperr.CodeActiveRunExists) {
		t.Fatalf("expected ACTIVE_RUN_EXISTS, got %v", err)
	}
}

func TestCreateRunIdempotentReplay(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)

	first, reused, err := f.store.CreateRun("tenant-a", sess.ID, "hello", "key-1")
	if err != nil || reused {
		t.Fatalf("first create: reused=%v err=%v", reused, err)
	}

	// Replay with the same key and message returns the same run even
	// though it is still active.
	replay, reused, err := f.store.CreateRun("tenant-a", sess.ID, "hello", "key-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !reused || replay.ID != first.ID {
		t.Fatalf("expected replay of %s, got reused=%v id=%s", first.ID, reused, replay.ID)
	}
}

func TestCreateRunIdempotencyConflict(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)

	if _, _, err := f.store.CreateRun("tenant-a", sess.ID, "hello", "key-1"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, _, err := f.store.CreateRun("tenant-a", sess.ID, "different", "key-1")
	if !apperr.Is(err, apperr.CodeIdempotencyConflict) {
		t.Fatalf("expected IDEMPOTENCY_CONFLICT, got %v", err)
	}
}

func TestRunQuotaAndReplayBypass(t *testing.T) {
	f := newStoreFixture(t, 1)
	sess := f.store.CreateSession("tenant-a", "ws", false)

	run, _, err := f.store.CreateRun("tenant-a", sess.ID, "hello", "key-1")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	finishRun(t, f, sess.ID, run.ID, RunCompleted)

	if _, _, err := f.store.CreateRun("tenant-a", sess.ID, "another", ""); !apperr.Is(err, apperr.CodeRunQuotaExceeded) {
		t.Fatalf("expected SESSION_RUN_QUOTA_EXCEEDED, got %v", err)
	}

	// The replay of a recorded key does not consume quota.
	replay, reused, err := f.store.CreateRun("tenant-a", sess.ID, "hello", "key-1")
	if err != nil || !reused || replay.ID != run.ID {
		t.Fatalf("replay should bypass quota: reused=%v id=%s err=%v", reused, replay.ID, err)
	}
}

func finishRun(t *testing.T, f *storeFixture, sessionID, runID string, status RunStatus) {
	t.Helper()
	if _, err := f.store.Begin(sessionID, runID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	f.store.Finish(sessionID, runID, status, nil)
}

func TestBeginFinishLifecycle(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)
	run, _, err := f.store.CreateRun("tenant-a", sess.ID, "hello", "")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	handle, err := f.store.Begin(sess.ID, run.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	handle.Delta("working on it")
	f.store.Finish(sess.ID, run.ID, RunCompleted, nil)

	log, err := f.store.RunEvents("tenant-a", sess.ID, run.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	snap := log.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 events, got %d", len(snap))
	}
	if snap[0].Type != events.TypeRunStarted {
		t.Fatalf("stream must begin with run_started, got %s", snap[0].Type)
	}
	if snap[2].Type != events.TypeRunCompleted {
		t.Fatalf("stream must end with run_completed, got %s", snap[2].Type)
	}

	view, err := f.store.GetSession("tenant-a", sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if view.ActiveRunID != "" {
		t.Fatalf("finish must release the active-run slot")
	}

	// Finish is terminal-once: a second call changes nothing.
	f.store.Finish(sess.ID, run.ID, RunFailed, &RunError{Code: "X", Message: "late"})
	got, _ := f.store.GetRun("tenant-a", sess.ID, run.ID)
	if got.Status != RunCompleted || got.Error != nil {
		t.Fatalf("terminal run mutated: %+v", got)
	}
}

func TestFinishFoldsUsageIntoSession(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.store.cost = func(model string, in, out int64) float64 { return 0.5 }
	sess := f.store.CreateSession("tenant-a", "ws", false)
	run, _, _ := f.store.CreateRun("tenant-a", sess.ID, "hello", "")

	handle, err := f.store.Begin(sess.ID, run.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	handle.AddUsage("gpt-4o-mini", 100, 40)
	f.store.Finish(sess.ID, run.ID, RunCompleted, nil)

	view, _ := f.store.GetSession("tenant-a", sess.ID)
	if view.Usage.InputTokens != 100 || view.Usage.OutputTokens != 40 {
		t.Fatalf("usage not folded: %+v", view.Usage)
	}
	if view.Usage.EstimatedCost != 0.5 {
		t.Fatalf("cost not folded: %f", view.Usage.EstimatedCost)
	}
}

func TestInterrupt(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)
	run, _, _ := f.store.CreateRun("tenant-a", sess.ID, "hello", "")

	handle, err := f.store.Begin(sess.ID, run.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if handle.IsCancelled() {
		t.Fatalf("fresh run must not be cancelled")
	}

	_, requested, err := f.store.Interrupt("tenant-a", sess.ID, run.ID)
	if err != nil || !requested {
		t.Fatalf("interrupt: requested=%v err=%v", requested, err)
	}
	if !handle.IsCancelled() {
		t.Fatalf("handle must observe the interrupt")
	}

	// A second interrupt is idempotent while the run is live.
	if _, _, err := f.store.Interrupt("tenant-a", sess.ID, run.ID); err != nil {
		t.Fatalf("repeat interrupt: %v", err)
	}

	f.store.Finish(sess.ID, run.ID, RunInterrupted, nil)
	view, requested, err := f.store.Interrupt("tenant-a", sess.ID, run.ID)
	if err != nil {
		t.Fatalf("terminal interrupt: %v", err)
	}
	if requested {
		t.Fatalf("interrupting a terminal run must be a no-op")
	}
	if view.Status != RunInterrupted {
		t.Fatalf("expected interrupted, got %s", view.Status)
	}
}

func TestResolveApprovalOrderingAndAutoApprove(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)
	run, _, _ := f.store.CreateRun("tenant-a", sess.ID, "hello", "")
	handle, err := f.store.Begin(sess.ID, run.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	type proposal struct {
		approved bool
		err      error
	}
	outcome := make(chan proposal, 1)
	go func() {
		ok, perr := handle.ProposeTool("write_resume", map[string]any{"path": "uploads/resume.txt"})
		outcome <- proposal{approved: ok, err: perr}
	}()

	// Wait for the proposal to land in the gate.
	var approvalID string
	deadline := time.Now().Add(2 * time.Second)
	for {
		list, lerr := f.store.ListApprovals("tenant-a", sess.ID)
		if lerr != nil {
			t.Fatalf("list approvals: %v", lerr)
		}
		if len(list) == 1 {
			approvalID = list[0].ID
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("proposal never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := f.store.ResolveApproval("tenant-a", sess.ID, approvalID, true, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	select {
	case got := <-outcome:
		if got.err != nil || !got.approved {
			t.Fatalf("proposal outcome: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("blocked run never resumed")
	}

	// The resolution event must already be in the log when the run resumes.
	log, _ := f.store.RunEvents("tenant-a", sess.ID, run.ID)
	snap := log.Snapshot()
	var sawProposed, sawApproved bool
	for _, ev := range snap {
		switch ev.Type {
		case events.TypeToolCallProposed:
			sawProposed = true
		case events.TypeToolCallApproved:
			if !sawProposed {
				t.Fatalf("approved before proposed")
			}
			sawApproved = true
		}
	}
	if !sawApproved {
		t.Fatalf("missing tool_call_approved event")
	}

	// apply_to_future flips the session setting.
	view, _ := f.store.GetSession("tenant-a", sess.ID)
	if !view.AutoApprove {
		t.Fatalf("applyToFuture should enable auto-approve")
	}

	// Second resolution of the same approval conflicts.
	if _, err := f.store.ResolveApproval("tenant-a", sess.ID, approvalID, false, false); !apperr.Is(err, apperr.CodeApprovalResolved) {
		t.Fatalf("expected APPROVAL_ALREADY_RESOLVED, got %v", err)
	}

	f.store.Finish(sess.ID, run.ID, RunCompleted, nil)
}

func TestResolveApprovalTenantScoped(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)
	run, _, _ := f.store.CreateRun("tenant-a", sess.ID, "hello", "")
	handle, err := f.store.Begin(sess.ID, run.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	go handle.ProposeTool("write_resume", nil)

	var approvalID string
	deadline := time.Now().Add(2 * time.Second)
	for approvalID == "" {
		list, _ := f.store.ListApprovals("tenant-a", sess.ID)
		if len(list) == 1 {
			approvalID = list[0].ID
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("proposal never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := f.store.ResolveApproval("tenant-b", sess.ID, approvalID, true, false); !apperr.Is(err, apperr.CodeSessionNotFound) {
		t.Fatalf("cross-tenant resolve must fail as not found, got %v", err)
	}

	if _, err := f.store.ResolveApproval("tenant-a", sess.ID, approvalID, false, false); err != nil {
		t.Fatalf("owner resolve: %v", err)
	}
	f.store.Finish(sess.ID, run.ID, RunCompleted, nil)
}

func TestAutoApproveSkipsGate(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", true)
	run, _, _ := f.store.CreateRun("tenant-a", sess.ID, "hello", "")
	handle, err := f.store.Begin(sess.ID, run.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	ok, err := handle.ProposeTool("write_resume", nil)
	if err != nil || !ok {
		t.Fatalf("auto-approve should pass immediately: ok=%v err=%v", ok, err)
	}
	if list, _ := f.store.ListApprovals("tenant-a", sess.ID); len(list) != 0 {
		t.Fatalf("auto-approve must not create approval objects: %+v", list)
	}
	log, _ := f.store.RunEvents("tenant-a", sess.ID, run.ID)
	for _, ev := range log.Snapshot() {
		if ev.Type == events.TypeToolCallProposed {
			t.Fatalf("auto-approve must not emit tool_call_proposed")
		}
	}
	f.store.Finish(sess.ID, run.ID, RunCompleted, nil)
}

func TestInterruptUnblocksPendingProposal(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)
	run, _, _ := f.store.CreateRun("tenant-a", sess.ID, "hello", "")
	handle, err := f.store.Begin(sess.ID, run.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, perr := handle.ProposeTool("write_resume", nil)
		errCh <- perr
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		list, _ := f.store.ListApprovals("tenant-a", sess.ID)
		if len(list) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("proposal never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, _, err := f.store.Interrupt("tenant-a", sess.ID, run.ID); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	select {
	case perr := <-errCh:
		if perr == nil {
			t.Fatalf("expected interrupt error from blocked proposal")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("interrupt did not unblock the proposal")
	}

	// The abandoned approval is gone.
	if list, _ := f.store.ListApprovals("tenant-a", sess.ID); len(list) != 0 {
		t.Fatalf("abandoned approval still listed: %+v", list)
	}
	f.store.Finish(sess.ID, run.ID, RunInterrupted, nil)
}

func TestExport(t *testing.T) {
	f := newStoreFixture(t, 0)
	sess := f.store.CreateSession("tenant-a", "ws", false)

	if _, _, err := f.store.Export("tenant-a", sess.ID); !apperr.Is(err, apperr.CodeInvalidState) {
		t.Fatalf("export without resume must fail, got %v", err)
	}

	f.store.AttachResume("tenant-a", sess.ID, "uploads/resume.txt", "resume body")
	view, artifact, err := f.store.Export("tenant-a", sess.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if artifact == "" || view.LatestExportPath != artifact {
		t.Fatalf("artifact not recorded: %q vs %q", artifact, view.LatestExportPath)
	}
	if view.WorkflowState != StateExported {
		t.Fatalf("expected exported, got %s", view.WorkflowState)
	}
}

func TestCleanupRemovesIdleSessionsOnly(t *testing.T) {
	f := newStoreFixture(t, 0)
	idle := f.store.CreateSession("tenant-a", "ws", false)
	busy := f.store.CreateSession("tenant-a", "ws", false)
	if _, _, err := f.store.CreateRun("tenant-a", busy.ID, "hello", ""); err != nil {
		t.Fatalf("create run: %v", err)
	}

	f.now = f.now.Add(48 * time.Hour)

	_, removed, err := f.store.Cleanup(0, 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed session, got %d", removed)
	}
	if _, err := f.store.GetSession("tenant-a", idle.ID); !apperr.Is(err, apperr.CodeSessionNotFound) {
		t.Fatalf("idle session should be gone, got %v", err)
	}
	if _, err := f.store.GetSession("tenant-a", busy.ID); err != nil {
		t.Fatalf("session with a live run must survive: %v", err)
	}
}
