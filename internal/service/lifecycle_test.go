package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ifuryst/fanout/internal/models"
)

func TestRetryOnlyFromError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "failed", models.StatusError)
	f.seed(t, "queued", models.StatusPending)

	task, err := f.lifecycle.Retry(ctx, "failed")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if task.Status != models.StatusPending || task.RetryCount != 1 || task.LastError != "" {
		t.Fatalf("unexpected retried task %+v", task)
	}
	stored, _ := f.store.Get(ctx, "failed")
	if stored.RetryCount != 1 || stored.LastError != "" {
		t.Fatalf("retry not persisted: %+v", stored)
	}

	if _, err := f.lifecycle.Retry(ctx, "queued"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("retry of pending task should be ErrInvalidState, got %v", err)
	}
	if _, err := f.lifecycle.Retry(ctx, "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("retry of unknown task should be ErrNotFound, got %v", err)
	}
}

func TestCancelGuards(t *testing.T) {
	cases := []struct {
		status models.TaskStatus
		force  bool
		want   error
	}{
		{models.StatusPending, false, nil},
		{models.StatusScheduled, false, nil},
		{models.StatusRunning, false, models.ErrInvalidState},
		{models.StatusRunning, true, nil},
		{models.StatusSuccess, true, models.ErrInvalidState},
		{models.StatusError, false, models.ErrInvalidState},
		{models.StatusCancelled, true, models.ErrInvalidState},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.seed(t, "t", tc.status)
		task, err := f.lifecycle.Cancel(context.Background(), "t", tc.force)
		if tc.want != nil {
			if !errors.Is(err, tc.want) {
				t.Errorf("%s force=%v: expected %v, got %v", tc.status, tc.force, tc.want, err)
			}
			if got := f.status(t, "t"); got != tc.status {
				t.Errorf("%s force=%v: rejected cancel changed status to %s", tc.status, tc.force, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s force=%v: %v", tc.status, tc.force, err)
			continue
		}
		if task.Status != models.StatusCancelled || task.Source != models.SourceHistory || task.FinishedAt == nil {
			t.Errorf("%s force=%v: unexpected task %+v", tc.status, tc.force, task)
		}
	}
}

func TestForcedCancelWithoutLocalExecutionSignalsPublisher(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "remote", models.StatusRunning)

	if _, err := f.lifecycle.Cancel(context.Background(), "remote", true); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if calls := f.publisher.cancelCalls(); len(calls) != 1 || calls[0] != "remote" {
		t.Fatalf("expected publisher cancel for remote, got %v", calls)
	}
	if got := f.status(t, "remote"); got != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
}

func TestForcedCancelRetriesUnavailableStoreOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", models.StatusRunning)
	store := &flakyStore{TaskStore: f.store, failures: map[string]int{"cas": 1}}
	m := NewLifecycleManager(store, f.publisher, f.clock, f.lifecycle.logger, f.lifecycle.opts)

	task, err := m.Cancel(context.Background(), "r1", true)
	if err != nil {
		t.Fatalf("transient store failure should be retried, got %v", err)
	}
	if task.Status != models.StatusCancelled || f.status(t, "r1") != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s / %s", task.Status, f.status(t, "r1"))
	}

	f.seed(t, "r2", models.StatusRunning)
	store.failures = map[string]int{"cas": 2}
	if _, err := m.Cancel(context.Background(), "r2", true); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("second failure should surface, got %v", err)
	}
	if got := f.status(t, "r2"); got != models.StatusRunning {
		t.Fatalf("expected r2 still running, got %s", got)
	}
}

func TestForcedCancelStopsExecutionAndIgnoresItsReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "t", models.StatusPending)

	execCtx, finish, err := f.lifecycle.Claim(ctx, "t")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-execCtx.Done()
		// The execution reports its own failure after being interrupted.
		if _, err := f.lifecycle.ReportResult(ctx, "t", Outcome{Error: execCtx.Err().Error()}); err != nil {
			t.Errorf("report after cancel should be accepted, got %v", err)
		}
		finish()
	}()

	task, err := f.lifecycle.Cancel(ctx, "t", true)
	if err != nil {
		t.Fatalf("forced cancel: %v", err)
	}
	<-stopped
	if task.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", task.Status)
	}
	if got := f.status(t, "t"); got != models.StatusCancelled {
		t.Fatalf("late report rolled status back to %s", got)
	}
}

func TestLateSuccessAfterForcedCancelStaysCancelled(t *testing.T) {
	f := newFixture(t)
	f.lifecycle.opts.CancelTimeout = 20 * time.Millisecond
	ctx := context.Background()
	f.seed(t, "t", models.StatusPending)

	_, finish, err := f.lifecycle.Claim(ctx, "t")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The execution ignores the signal, so the cancel gives up waiting.
	if _, err := f.lifecycle.Cancel(ctx, "t", true); err != nil {
		t.Fatalf("forced cancel: %v", err)
	}

	task, err := f.lifecycle.ReportResult(ctx, "t", Outcome{Success: true, PublishID: "late"})
	if err != nil {
		t.Fatalf("late report should be accepted, got %v", err)
	}
	finish()
	if task.Status != models.StatusCancelled || f.status(t, "t") != models.StatusCancelled {
		t.Fatalf("late success must not override cancellation, got %s", f.status(t, "t"))
	}
	if seen, _ := f.store.HasRecentPublish(ctx, "acct-t", "douyin", "v-t", time.Time{}); seen {
		t.Fatal("cancelled task must not be recorded as published")
	}
}

func TestReportResultRecordsOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "ok", models.StatusRunning)
	f.seed(t, "bad", models.StatusRunning)
	f.seed(t, "idle", models.StatusPending)

	task, err := f.lifecycle.ReportResult(ctx, "ok", Outcome{Success: true})
	if err != nil {
		t.Fatalf("report success: %v", err)
	}
	if task.Status != models.StatusSuccess || task.Source != models.SourceHistory {
		t.Fatalf("unexpected task %+v", task)
	}
	if seen, _ := f.store.HasRecentPublish(ctx, "acct-ok", "douyin", "v-ok", time.Time{}); !seen {
		t.Fatal("successful publish should be appended to history")
	}

	task, err = f.lifecycle.ReportResult(ctx, "bad", Outcome{Error: "quota exceeded"})
	if err != nil {
		t.Fatalf("report failure: %v", err)
	}
	if task.Status != models.StatusError || task.LastError != "quota exceeded" {
		t.Fatalf("unexpected task %+v", task)
	}

	if _, err := f.lifecycle.ReportResult(ctx, "idle", Outcome{Success: true}); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("report for a task that is not running should be ErrInvalidState, got %v", err)
	}
	if _, err := f.lifecycle.ReportResult(ctx, "ghost", Outcome{Success: true}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("report for unknown task should be ErrNotFound, got %v", err)
	}
}

func TestDeleteInAnyState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, s := range models.AllStatuses {
		f.seed(t, string(s), s)
		if err := f.lifecycle.Delete(ctx, string(s)); err != nil {
			t.Fatalf("delete %s: %v", s, err)
		}
	}
	if err := f.lifecycle.Delete(ctx, "pending"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// racingStore lets a competing writer move the task just before the
// manager's compare-and-swap.
type racingStore struct {
	TaskStore
	race func()
}

func (s *racingStore) CompareAndSwapStatus(ctx context.Context, id string, expected, next models.TaskStatus, change models.StatusChange) (bool, error) {
	if s.race != nil {
		race := s.race
		s.race = nil
		race()
	}
	return s.TaskStore.CompareAndSwapStatus(ctx, id, expected, next, change)
}

func TestLostSwapIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "t", models.StatusPending)

	store := &racingStore{TaskStore: f.store}
	store.race = func() {
		f.store.CompareAndSwapStatus(ctx, "t", models.StatusPending, models.StatusRunning, models.StatusChange{})
	}
	m := NewLifecycleManager(store, f.publisher, f.clock, f.lifecycle.logger, f.lifecycle.opts)

	if _, err := m.Cancel(ctx, "t", false); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := f.status(t, "t"); got != models.StatusRunning {
		t.Fatalf("the winning writer's status should stand, got %s", got)
	}
}

func TestClaimRegistersSingleExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "t", models.StatusPending)

	_, finish, err := f.lifecycle.Claim(ctx, "t")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	task, _ := f.store.Get(ctx, "t")
	if task.Status != models.StatusRunning || task.StartedAt == nil {
		t.Fatalf("claimed task should be running with a start time, got %+v", task)
	}
	if _, _, err := f.lifecycle.Claim(ctx, "t"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("second claim should be ErrConflict, got %v", err)
	}
	finish()
	finish()
	if _, _, err := f.lifecycle.Claim(ctx, "t"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("claiming a running task should be ErrInvalidState, got %v", err)
	}
}

func TestPromoteDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soon := f.seed(t, "soon", models.StatusScheduled)
	later := f.seed(t, "later", models.StatusScheduled)
	at1, at2 := t0.Add(time.Minute), t0.Add(time.Hour)
	soon.ScheduledAt, later.ScheduledAt = &at1, &at2
	f.store.Put(ctx, soon)
	f.store.Put(ctx, later)

	n, err := f.lifecycle.PromoteDue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("nothing is due yet, got %d (%v)", n, err)
	}
	f.clock.Advance(2 * time.Minute)
	n, err = f.lifecycle.PromoteDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one promotion, got %d (%v)", n, err)
	}
	if f.status(t, "soon") != models.StatusPending || f.status(t, "later") != models.StatusScheduled {
		t.Fatal("only the due task should be promoted")
	}
}

func TestListAcrossStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "a", models.StatusPending)
	f.seed(t, "b", models.StatusError)

	all, err := f.lifecycle.List(ctx, "", 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d (%v)", len(all), err)
	}
	failed, err := f.lifecycle.List(ctx, models.StatusError, 0)
	if err != nil || len(failed) != 1 || failed[0].TaskID != "b" {
		t.Fatalf("unexpected filtered list %v (%v)", ids(failed), err)
	}
	if _, err := f.lifecycle.List(ctx, "bogus", 0); !errors.Is(err, models.ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
}
