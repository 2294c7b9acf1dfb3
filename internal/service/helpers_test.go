package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/publisher"
)

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (g *seqIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", g.prefix, g.n)
}

// fakePublisher blocks on release when it is set. With honorCtx it returns
// as soon as its context is cancelled; otherwise it waits for release and
// then reports success regardless.
type fakePublisher struct {
	mu        sync.Mutex
	started   chan string
	release   chan struct{}
	honorCtx  bool
	fail      error
	executed  []string
	cancelled []string
}

func (f *fakePublisher) Execute(ctx context.Context, task *models.PublishTask) (*publisher.PublishResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, task.TaskID)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- task.TaskID
	}
	if f.release != nil {
		if f.honorCtx {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-f.release:
			}
		} else {
			<-f.release
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	return &publisher.PublishResult{Success: true, PublishID: "pub-" + task.TaskID, PublishedAt: t0}, nil
}

func (f *fakePublisher) Cancel(taskID string) {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, taskID)
	f.mu.Unlock()
}

func (f *fakePublisher) cancelCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// flakyStore fails the first failures calls of the chosen operations with
// ErrStoreUnavailable.
type flakyStore struct {
	TaskStore
	mu       sync.Mutex
	failures map[string]int
}

func (s *flakyStore) trip(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[op] > 0 {
		s.failures[op]--
		return fmt.Errorf("%s: %w", op, models.ErrStoreUnavailable)
	}
	return nil
}

func (s *flakyStore) Put(ctx context.Context, task *models.PublishTask) error {
	if err := s.trip("put"); err != nil {
		return err
	}
	return s.TaskStore.Put(ctx, task)
}

func (s *flakyStore) Get(ctx context.Context, id string) (*models.PublishTask, error) {
	if err := s.trip("get"); err != nil {
		return nil, err
	}
	return s.TaskStore.Get(ctx, id)
}

func (s *flakyStore) CompareAndSwapStatus(ctx context.Context, id string, expected, next models.TaskStatus, change models.StatusChange) (bool, error) {
	if err := s.trip("cas"); err != nil {
		return false, err
	}
	return s.TaskStore.CompareAndSwapStatus(ctx, id, expected, next, change)
}

func (s *flakyStore) DeleteAll(ctx context.Context, statuses []models.TaskStatus) (int64, error) {
	if err := s.trip("delete_all"); err != nil {
		return 0, err
	}
	return s.TaskStore.DeleteAll(ctx, statuses)
}

type fixture struct {
	clock     *fakeClock
	store     *MemoryStore
	publisher *fakePublisher
	lifecycle *LifecycleManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore(clock)
	pub := &fakePublisher{}
	return &fixture{
		clock:     clock,
		store:     store,
		publisher: pub,
		lifecycle: NewLifecycleManager(store, pub, clock, zap.NewNop(), LifecycleOptions{
			CancelTimeout:    time.Second,
			BatchConcurrency: 4,
		}),
	}
}

// seed stores a task in the given status.
func (f *fixture) seed(t *testing.T, id string, status models.TaskStatus) *models.PublishTask {
	t.Helper()
	task := &models.PublishTask{
		TaskID:       id,
		PlanID:       "plan-1",
		VideoID:      "v-" + id,
		AccountID:    "acct-" + id,
		PlatformCode: "douyin",
		Fingerprint:  "v-" + id,
		Status:       status,
		Source:       models.SourceFor(status),
	}
	if status == models.StatusError {
		task.LastError = "upload rejected"
	}
	if err := f.store.Put(context.Background(), task); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return task
}

func (f *fixture) status(t *testing.T, id string) models.TaskStatus {
	t.Helper()
	task, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return task.Status
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
