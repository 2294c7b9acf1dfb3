package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/observability"
	"github.com/ifuryst/fanout/internal/service/publisher"
)

// Outcome is a publisher's final word on a running task.
type Outcome struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	PublishID string `json:"publish_id,omitempty"`
}

type LifecycleOptions struct {
	// CancelTimeout bounds how long a forced cancel waits for the running
	// execution to stop before marking the task cancelled anyway.
	CancelTimeout    time.Duration
	BatchConcurrency int
}

// execution is the registry entry of a task this process is running.
type execution struct {
	cancel     context.CancelFunc
	done       chan struct{}
	cancelling bool
}

// LifecycleManager applies state transitions to stored tasks. Every mutation
// is a compare-and-swap on the task status; there is no manager-wide lock.
type LifecycleManager struct {
	store     TaskStore
	publisher publisher.Publisher
	clock     Clock
	logger    *zap.Logger
	opts      LifecycleOptions

	mu       sync.Mutex
	inflight map[string]*execution
}

func NewLifecycleManager(store TaskStore, pub publisher.Publisher, clock Clock, logger *zap.Logger, opts LifecycleOptions) *LifecycleManager {
	if clock == nil {
		clock = RealClock{}
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = 10 * time.Second
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 8
	}
	return &LifecycleManager{
		store:     store,
		publisher: pub,
		clock:     clock,
		logger:    logger,
		opts:      opts,
		inflight:  make(map[string]*execution),
	}
}

func (m *LifecycleManager) Get(ctx context.Context, taskID string) (*models.PublishTask, error) {
	return m.store.Get(ctx, taskID)
}

// List returns tasks in the given status, or in every status when status
// is empty.
func (m *LifecycleManager) List(ctx context.Context, status models.TaskStatus, limit int) ([]*models.PublishTask, error) {
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidSelection, status)
		}
		return m.store.ListByStatus(ctx, status, limit)
	}
	var out []*models.PublishTask
	for _, s := range models.AllStatuses {
		tasks, err := m.store.ListByStatus(ctx, s, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, tasks...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Retry puts a failed task back in the queue.
func (m *LifecycleManager) Retry(ctx context.Context, taskID string) (*models.PublishTask, error) {
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, m.reject("retry", err)
	}
	if task.Status != models.StatusError {
		return nil, m.reject("retry", invalidState(task, "only failed tasks can be retried"))
	}
	none := ""
	return m.swap(ctx, "retry", task, models.StatusPending, models.StatusChange{
		IncrementRetry: true,
		LastError:      &none,
	})
}

// Cancel stops a queued task. With force set a running task is cancelled
// too: its execution is signalled and given CancelTimeout to stop.
func (m *LifecycleManager) Cancel(ctx context.Context, taskID string, force bool) (*models.PublishTask, error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle.Cancel",
		attribute.String("task_id", taskID),
		attribute.Bool("force", force))
	task, err := m.cancel(ctx, taskID, force)
	observability.EndSpan(span, err)
	return task, err
}

func (m *LifecycleManager) cancel(ctx context.Context, taskID string, force bool) (*models.PublishTask, error) {
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, m.reject("cancel", err)
	}
	now := m.clock.Now()
	switch task.Status {
	case models.StatusPending, models.StatusScheduled:
		return m.swap(ctx, "cancel", task, models.StatusCancelled, models.StatusChange{FinishedAt: &now})
	case models.StatusRunning:
		if !force {
			return nil, m.reject("cancel", invalidState(task, "running tasks need a forced cancel"))
		}
		return m.forceCancel(ctx, task)
	default:
		return nil, m.reject("cancel", invalidState(task, "task already finished"))
	}
}

func (m *LifecycleManager) forceCancel(ctx context.Context, task *models.PublishTask) (*models.PublishTask, error) {
	m.mu.Lock()
	ex := m.inflight[task.TaskID]
	if ex != nil {
		ex.cancelling = true
	}
	m.mu.Unlock()

	if m.publisher != nil {
		m.publisher.Cancel(task.TaskID)
	}
	if ex != nil {
		ex.cancel()
		timer := time.NewTimer(m.opts.CancelTimeout)
		select {
		case <-ex.done:
		case <-timer.C:
			m.logger.Warn("Execution did not stop before cancel timeout",
				zap.String("task_id", task.TaskID),
				zap.Duration("timeout", m.opts.CancelTimeout))
		case <-ctx.Done():
		}
		timer.Stop()
	}

	// The caller may have given up waiting; the cancellation still lands.
	// The execution is already stopped, so a transient store failure here
	// would leave the task running with nothing to pick it up.
	ctx = context.WithoutCancel(ctx)
	now := m.clock.Now()
	msg := "cancelled while running"
	change := models.StatusChange{LastError: &msg, FinishedAt: &now}
	updated, err := m.swap(ctx, "cancel", task, models.StatusCancelled, change)
	if errors.Is(err, models.ErrStoreUnavailable) {
		updated, err = m.swap(ctx, "cancel", task, models.StatusCancelled, change)
	}
	return updated, err
}

// Delete removes a task in any state. A running execution is not stopped;
// its later report finds the task gone.
func (m *LifecycleManager) Delete(ctx context.Context, taskID string) error {
	if err := m.store.Delete(ctx, taskID); err != nil {
		return m.reject("delete", err)
	}
	m.logger.Info("Task deleted", zap.String("task_id", taskID))
	return nil
}

// Claim moves a pending task to running and registers its execution. The
// returned context is cancelled by a forced cancel; finish must be called
// once the outcome has been reported.
func (m *LifecycleManager) Claim(ctx context.Context, taskID string) (context.Context, func(), error) {
	execCtx, cancel := context.WithCancel(ctx)
	ex := &execution{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, busy := m.inflight[taskID]; busy {
		m.mu.Unlock()
		cancel()
		return nil, nil, m.reject("claim", fmt.Errorf("task %s is already executing: %w", taskID, models.ErrConflict))
	}
	m.inflight[taskID] = ex
	m.mu.Unlock()

	var once sync.Once
	finish := func() {
		once.Do(func() {
			m.mu.Lock()
			if m.inflight[taskID] == ex {
				delete(m.inflight, taskID)
			}
			m.mu.Unlock()
			cancel()
			close(ex.done)
		})
	}

	task, err := m.store.Get(ctx, taskID)
	if err == nil && task.Status != models.StatusPending {
		err = invalidState(task, "only pending tasks can start")
	}
	if err == nil {
		now := m.clock.Now()
		_, err = m.swap(ctx, "claim", task, models.StatusRunning, models.StatusChange{StartedAt: &now})
	} else {
		err = m.reject("claim", err)
	}
	if err != nil {
		finish()
		return nil, nil, err
	}
	return execCtx, finish, nil
}

// ReportResult records the outcome of a running task. Reports for tasks
// cancelled while running are accepted and dropped.
func (m *LifecycleManager) ReportResult(ctx context.Context, taskID string, outcome Outcome) (*models.PublishTask, error) {
	m.mu.Lock()
	ex := m.inflight[taskID]
	cancelling := ex != nil && ex.cancelling
	m.mu.Unlock()

	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, m.reject("report", err)
	}
	if cancelling || task.Status == models.StatusCancelled {
		m.logger.Info("Ignoring result for cancelled task",
			zap.String("task_id", taskID),
			zap.Bool("success", outcome.Success))
		return task, nil
	}
	if task.Status != models.StatusRunning {
		return nil, m.reject("report", invalidState(task, "task is not running"))
	}

	now := m.clock.Now()
	if !outcome.Success {
		msg := outcome.Error
		if msg == "" {
			msg = "publish failed"
		}
		updated, err := m.swap(ctx, "report", task, models.StatusError, models.StatusChange{
			LastError:  &msg,
			FinishedAt: &now,
		})
		if errors.Is(err, models.ErrConflict) {
			return m.settled(ctx, taskID, err)
		}
		return updated, err
	}

	none := ""
	updated, err := m.swap(ctx, "report", task, models.StatusSuccess, models.StatusChange{
		LastError:  &none,
		FinishedAt: &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return m.settled(ctx, taskID, err)
		}
		return nil, err
	}

	record := &models.PublishHistoryRecord{
		AccountID:    updated.AccountID,
		PlatformCode: updated.PlatformCode,
		Fingerprint:  updated.Fingerprint,
		TaskID:       updated.TaskID,
		PublishedAt:  now,
	}
	if err := m.store.AppendHistory(ctx, record); err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			err = m.store.AppendHistory(ctx, record)
		}
		if err != nil {
			m.logger.Error("Failed to record publish history",
				zap.String("task_id", taskID),
				zap.Error(err))
		}
	}
	return updated, nil
}

// settled resolves a report that lost its swap: a concurrent cancel wins
// and the report is dropped.
func (m *LifecycleManager) settled(ctx context.Context, taskID string, lost error) (*models.PublishTask, error) {
	task, err := m.store.Get(ctx, taskID)
	if err == nil && task.Status == models.StatusCancelled {
		return task, nil
	}
	return nil, lost
}

// PromoteDue moves scheduled tasks whose time has come back to pending.
func (m *LifecycleManager) PromoteDue(ctx context.Context) (int, error) {
	tasks, err := m.store.ListByStatus(ctx, models.StatusScheduled, 0)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	promoted := 0
	for _, task := range tasks {
		if !task.Due(now) {
			continue
		}
		if _, err := m.swap(ctx, "promote", task, models.StatusPending, models.StatusChange{}); err != nil {
			if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
				continue
			}
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// swap applies task.Status -> next through the store's compare-and-swap.
func (m *LifecycleManager) swap(ctx context.Context, op string, task *models.PublishTask, next models.TaskStatus, change models.StatusChange) (*models.PublishTask, error) {
	from := task.Status
	if !models.CanTransition(from, next) {
		return nil, m.reject(op, invalidState(task, fmt.Sprintf("cannot move to %s", next)))
	}
	ok, err := m.store.CompareAndSwapStatus(ctx, task.TaskID, from, next, change)
	if err != nil {
		return nil, m.reject(op, err)
	}
	if !ok {
		return nil, m.reject(op, m.lost(ctx, task.TaskID, from))
	}

	updated := task.Clone()
	updated.Apply(next, change, m.clock.Now())
	observability.TaskTransitions.WithLabelValues(string(from), string(next)).Inc()
	m.logger.Info("Task status changed",
		zap.String("task_id", task.TaskID),
		zap.String("operation", op),
		zap.String("from", string(from)),
		zap.String("to", string(next)))
	return updated, nil
}

// lost explains a failed compare-and-swap.
func (m *LifecycleManager) lost(ctx context.Context, taskID string, expected models.TaskStatus) error {
	current, err := m.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("task %s moved from %s to %s concurrently: %w",
		taskID, expected, current.Status, models.ErrConflict)
}

func (m *LifecycleManager) reject(op string, err error) error {
	observability.LifecycleRejections.WithLabelValues(op, models.ReasonOf(err)).Inc()
	return err
}

func invalidState(task *models.PublishTask, why string) error {
	return fmt.Errorf("task %s is %s, %s: %w", task.TaskID, task.Status, why, models.ErrInvalidState)
}
