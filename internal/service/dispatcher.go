package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/fanout/internal/config"
	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/observability"
	"github.com/ifuryst/fanout/internal/service/publisher"
)

// Dispatcher periodically promotes due tasks and runs pending ones through
// the publisher.
type Dispatcher struct {
	config    *config.SchedulerConfig
	logger    *zap.Logger
	lifecycle *LifecycleManager
	store     TaskStore
	publisher publisher.Publisher
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewDispatcher(cfg *config.SchedulerConfig, logger *zap.Logger, lifecycle *LifecycleManager, store TaskStore, pub publisher.Publisher) *Dispatcher {
	return &Dispatcher{
		config:    cfg,
		logger:    logger,
		lifecycle: lifecycle,
		store:     store,
		publisher: pub,
		stopCh:    make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.config.Enabled {
		d.logger.Info("Dispatcher is disabled")
		return nil
	}

	interval, err := time.ParseDuration(d.config.PollInterval)
	if err != nil {
		d.logger.Error("Invalid poll interval", zap.String("interval", d.config.PollInterval), zap.Error(err))
		return err
	}

	d.logger.Info("Starting dispatcher",
		zap.String("poll_interval", d.config.PollInterval),
		zap.Int("concurrency", d.config.Concurrency))

	d.ticker = time.NewTicker(interval)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.tick(ctx)
		for {
			select {
			case <-d.ticker.C:
				d.tick(ctx)
			case <-d.stopCh:
				d.logger.Info("Dispatcher stopped")
				return
			case <-ctx.Done():
				d.logger.Info("Dispatcher context cancelled")
				return
			}
		}
	}()

	return nil
}

func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		if d.ticker != nil {
			d.ticker.Stop()
		}
		close(d.stopCh)
	})
	d.wg.Wait()
	d.logger.Info("Dispatcher shutdown completed")
}

func (d *Dispatcher) tick(ctx context.Context) {
	start := time.Now()
	ran, err := d.RunOnce(ctx)
	if err != nil {
		d.logger.Error("Dispatch round failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	if ran > 0 {
		d.logger.Info("Dispatch round completed", zap.Int("tasks", ran), zap.Duration("duration", time.Since(start)))
	}
}

// RunOnce promotes due scheduled tasks, then runs up to ClaimBatch pending
// tasks with bounded concurrency. It returns how many tasks it started.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if _, err := d.lifecycle.PromoteDue(ctx); err != nil {
		return 0, err
	}
	pending, err := d.store.ListByStatus(ctx, models.StatusPending, d.config.ClaimBatch)
	if err != nil {
		return 0, err
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		started int
	)
	g.SetLimit(max(d.config.Concurrency, 1))
	for _, task := range pending {
		g.Go(func() error {
			if d.run(ctx, task.TaskID) {
				mu.Lock()
				started++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return started, nil
}

// run executes one task end to end. It reports false when another worker
// or an operator got to the task first.
func (d *Dispatcher) run(ctx context.Context, taskID string) bool {
	execCtx, finish, err := d.lifecycle.Claim(ctx, taskID)
	if err != nil {
		if !errors.Is(err, models.ErrConflict) && !errors.Is(err, models.ErrInvalidState) && !errors.Is(err, models.ErrNotFound) {
			d.logger.Warn("Failed to claim task", zap.String("task_id", taskID), zap.Error(err))
		}
		return false
	}
	defer finish()

	task, err := d.store.Get(ctx, taskID)
	if err != nil {
		d.logger.Warn("Claimed task vanished", zap.String("task_id", taskID), zap.Error(err))
		return true
	}

	execCtx, span := observability.StartSpan(execCtx, "dispatcher.Execute")
	start := time.Now()
	result, err := d.publisher.Execute(execCtx, task)
	observability.EndSpan(span, err)

	outcome := Outcome{Success: err == nil && result != nil && result.Success}
	switch {
	case err != nil:
		outcome.Error = err.Error()
	case result == nil:
		outcome.Error = "publisher returned no result"
	case !result.Success:
		outcome.Error = result.Error
	default:
		outcome.PublishID = result.PublishID
	}
	label := "success"
	if !outcome.Success {
		label = "error"
	}
	observability.PublishDuration.WithLabelValues(task.PlatformCode, label).Observe(time.Since(start).Seconds())

	if _, err := d.lifecycle.ReportResult(context.WithoutCancel(ctx), taskID, outcome); err != nil {
		d.logger.Warn("Failed to report task outcome",
			zap.String("task_id", taskID),
			zap.Bool("success", outcome.Success),
			zap.Error(err))
	}
	return true
}
