package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/pkg/util"
)

type BatchError struct {
	ID      string `json:"id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type BatchResult struct {
	SuccessCount int          `json:"success_count"`
	FailedCount  int          `json:"failed_count"`
	Errors       []BatchError `json:"errors"`
}

// ClearBucket names a group of statuses removed together.
type ClearBucket string

const (
	ClearPending   ClearBucket = "pending"
	ClearFailed    ClearBucket = "failed"
	ClearSuccess   ClearBucket = "success"
	ClearCancelled ClearBucket = "cancelled"
	ClearAll       ClearBucket = "all"
)

// Statuses returns the task statuses covered by b. An empty slice means
// every status.
func (b ClearBucket) Statuses() ([]models.TaskStatus, error) {
	switch b {
	case ClearPending:
		return []models.TaskStatus{models.StatusPending, models.StatusScheduled}, nil
	case ClearFailed:
		return []models.TaskStatus{models.StatusError}, nil
	case ClearSuccess:
		return []models.TaskStatus{models.StatusSuccess}, nil
	case ClearCancelled:
		return []models.TaskStatus{models.StatusCancelled}, nil
	case ClearAll:
		return []models.TaskStatus{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status bucket %q", models.ErrInvalidSelection, b)
	}
}

func (m *LifecycleManager) BatchRetry(ctx context.Context, ids []string) BatchResult {
	return m.batch(ctx, "retry", ids, func(ctx context.Context, id string) error {
		_, err := m.Retry(ctx, id)
		return err
	})
}

func (m *LifecycleManager) BatchCancel(ctx context.Context, ids []string, force bool) BatchResult {
	return m.batch(ctx, "cancel", ids, func(ctx context.Context, id string) error {
		_, err := m.Cancel(ctx, id, force)
		return err
	})
}

func (m *LifecycleManager) BatchDelete(ctx context.Context, ids []string) BatchResult {
	return m.batch(ctx, "delete", ids, func(ctx context.Context, id string) error {
		return m.Delete(ctx, id)
	})
}

// ClearByStatus deletes every task in the bucket and reports how many went.
func (m *LifecycleManager) ClearByStatus(ctx context.Context, bucket ClearBucket) (int64, error) {
	statuses, err := bucket.Statuses()
	if err != nil {
		return 0, err
	}
	n, err := m.store.DeleteAll(ctx, statuses)
	if errors.Is(err, models.ErrStoreUnavailable) {
		n, err = m.store.DeleteAll(ctx, statuses)
	}
	if err != nil {
		return 0, err
	}
	m.logger.Info("Tasks cleared", zap.String("bucket", string(bucket)), zap.Int64("deleted", n))
	return n, nil
}

// batch runs op for each distinct id with bounded parallelism. Items are
// independent: one failure never stops the others, and each guard is
// checked when its item is processed.
func (m *LifecycleManager) batch(ctx context.Context, op string, ids []string, fn func(context.Context, string) error) BatchResult {
	ids = util.Unique(ids)
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(m.opts.BatchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			err := fn(ctx, id)
			if errors.Is(err, models.ErrStoreUnavailable) {
				err = fn(ctx, id)
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Errors: []BatchError{}}
	for i, err := range errs {
		if err == nil {
			res.SuccessCount++
			continue
		}
		res.FailedCount++
		res.Errors = append(res.Errors, BatchError{
			ID:      ids[i],
			Reason:  models.ReasonOf(err),
			Message: err.Error(),
		})
	}

	m.logger.Info("Batch operation finished",
		zap.String("operation", op),
		zap.Int("requested", len(ids)),
		zap.Int("succeeded", res.SuccessCount),
		zap.Int("failed", res.FailedCount))
	return res
}
