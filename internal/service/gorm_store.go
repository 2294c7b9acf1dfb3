package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ifuryst/fanout/internal/models"
)

// GormStore keeps tasks and history in the relational database.
type GormStore struct {
	db    *gorm.DB
	clock Clock
}

func NewGormStore(db *gorm.DB, clock Clock) *GormStore {
	if clock == nil {
		clock = RealClock{}
	}
	return &GormStore{db: db, clock: clock}
}

func (s *GormStore) Get(ctx context.Context, taskID string) (*models.PublishTask, error) {
	var task models.PublishTask
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error; err != nil {
		return nil, storeError("get task "+taskID, err)
	}
	return &task, nil
}

// Put inserts task or overwrites the row with the same task id.
func (s *GormStore) Put(ctx context.Context, task *models.PublishTask) error {
	if task.TaskID == "" {
		return errors.New("task id is required")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PublishTask
		err := tx.Select("id", "created_at").Where("task_id = ?", task.TaskID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			task.ID = 0
			return tx.Create(task).Error
		case err != nil:
			return err
		}
		task.ID = existing.ID
		task.CreatedAt = existing.CreatedAt
		return tx.Save(task).Error
	})
	return storeError("put task "+task.TaskID, err)
}

func (s *GormStore) CompareAndSwapStatus(ctx context.Context, taskID string, expected, next models.TaskStatus, change models.StatusChange) (bool, error) {
	updates := map[string]interface{}{
		"status":     next,
		"source":     models.SourceFor(next),
		"updated_at": s.clock.Now(),
	}
	if change.IncrementRetry {
		updates["retry_count"] = gorm.Expr("retry_count + ?", 1)
	}
	if change.LastError != nil {
		updates["last_error"] = *change.LastError
	}
	if change.StartedAt != nil {
		updates["started_at"] = *change.StartedAt
	}
	if change.FinishedAt != nil {
		updates["finished_at"] = *change.FinishedAt
	}

	res := s.db.WithContext(ctx).
		Model(&models.PublishTask{}).
		Where("task_id = ? AND status = ?", taskID, expected).
		Updates(updates)
	if res.Error != nil {
		return false, storeError("swap status of "+taskID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListByStatus(ctx context.Context, status models.TaskStatus, limit int) ([]*models.PublishTask, error) {
	q := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var tasks []*models.PublishTask
	if err := q.Find(&tasks).Error; err != nil {
		return nil, storeError("list "+string(status)+" tasks", err)
	}
	return tasks, nil
}

func (s *GormStore) Delete(ctx context.Context, taskID string) error {
	res := s.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&models.PublishTask{})
	if res.Error != nil {
		return storeError("delete task "+taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	return nil
}

func (s *GormStore) DeleteAll(ctx context.Context, statuses []models.TaskStatus) (int64, error) {
	q := s.db.WithContext(ctx)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	} else {
		q = q.Where("1 = 1")
	}
	res := q.Delete(&models.PublishTask{})
	if res.Error != nil {
		return 0, storeError("bulk delete tasks", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	var rows []struct {
		Status models.TaskStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.PublishTask{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, storeError("count tasks", err)
	}
	out := make(map[models.TaskStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (s *GormStore) AppendHistory(ctx context.Context, record *models.PublishHistoryRecord) error {
	if record.PublishedAt.IsZero() {
		record.PublishedAt = s.clock.Now()
	}
	return storeError("append history", s.db.WithContext(ctx).Create(record).Error)
}

func (s *GormStore) HasRecentPublish(ctx context.Context, accountID, platform, fingerprint string, since time.Time) (bool, error) {
	q := s.db.WithContext(ctx).
		Model(&models.PublishHistoryRecord{}).
		Where("account_id = ? AND platform_code = ? AND fingerprint = ?", accountID, platform, fingerprint)
	if !since.IsZero() {
		q = q.Where("published_at >= ?", since)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, storeError("lookup history", err)
	}
	return n > 0, nil
}

// storeError maps driver errors onto the task error taxonomy.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
	}
}

var _ TaskStore = (*GormStore)(nil)
