package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ifuryst/fanout/internal/models"
)

// MemoryStore is a TaskStore held in process memory. It backs tests and
// the preview CLI; tasks are copied on the way in and out.
type MemoryStore struct {
	mu      sync.Mutex
	clock   Clock
	tasks   map[string]*models.PublishTask
	history []models.PublishHistoryRecord
	nextID  uint
}

func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = RealClock{}
	}
	return &MemoryStore{
		clock:  clock,
		tasks:  make(map[string]*models.PublishTask),
		nextID: 1,
	}
}

func (m *MemoryStore) Get(_ context.Context, taskID string) (*models.PublishTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	return t.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, task *models.PublishTask) error {
	if task.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	t := task.Clone()
	if existing, ok := m.tasks[t.TaskID]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		t.ID = m.nextID
		m.nextID++
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
	}
	t.UpdatedAt = now
	m.tasks[t.TaskID] = t
	task.ID, task.CreatedAt, task.UpdatedAt = t.ID, t.CreatedAt, t.UpdatedAt
	return nil
}

func (m *MemoryStore) CompareAndSwapStatus(_ context.Context, taskID string, expected, next models.TaskStatus, change models.StatusChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status != expected {
		return false, nil
	}
	t.Apply(next, change, m.clock.Now())
	return true, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status models.TaskStatus, limit int) ([]*models.PublishTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.PublishTask, 0)
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.PublishTask) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return int(a.ID) - int(b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	delete(m.tasks, taskID)
	return nil
}

func (m *MemoryStore) DeleteAll(_ context.Context, statuses []models.TaskStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tasks {
		if len(statuses) == 0 || slices.Contains(statuses, t.Status) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context) (map[models.TaskStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.TaskStatus]int64)
	for _, t := range m.tasks {
		out[t.Status]++
	}
	return out, nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, record *models.PublishHistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.PublishedAt.IsZero() {
		record.PublishedAt = m.clock.Now()
	}
	record.ID = uint(len(m.history) + 1)
	m.history = append(m.history, *record)
	return nil
}

func (m *MemoryStore) HasRecentPublish(_ context.Context, accountID, platform, fingerprint string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.history {
		if r.AccountID != accountID || r.PlatformCode != platform || r.Fingerprint != fingerprint {
			continue
		}
		if since.IsZero() || !r.PublishedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

var _ TaskStore = (*MemoryStore)(nil)
