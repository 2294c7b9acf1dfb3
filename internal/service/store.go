package service

import (
	"context"
	"time"

	"github.com/ifuryst/fanout/internal/models"
)

// TaskStore is durable keyed storage for publish tasks and publish history.
//
// Implementations report unknown ids with models.ErrNotFound and transient
// persistence failures with models.ErrStoreUnavailable.
type TaskStore interface {
	Get(ctx context.Context, taskID string) (*models.PublishTask, error)
	// Put inserts the task, or replaces the stored copy with the same TaskID.
	Put(ctx context.Context, task *models.PublishTask) error
	// CompareAndSwapStatus moves taskID from expected to next and applies
	// change in the same write. It returns false, without error, when the
	// task is missing or its status is no longer expected.
	CompareAndSwapStatus(ctx context.Context, taskID string, expected, next models.TaskStatus, change models.StatusChange) (bool, error)
	// ListByStatus returns tasks in creation order; limit <= 0 means all.
	ListByStatus(ctx context.Context, status models.TaskStatus, limit int) ([]*models.PublishTask, error)
	Delete(ctx context.Context, taskID string) error
	// DeleteAll removes every task whose status is in statuses, or every
	// task when statuses is empty, and returns how many were removed.
	DeleteAll(ctx context.Context, statuses []models.TaskStatus) (int64, error)
	CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error)

	AppendHistory(ctx context.Context, record *models.PublishHistoryRecord) error
	HasRecentPublish(ctx context.Context, accountID, platform, fingerprint string, since time.Time) (bool, error)
}
