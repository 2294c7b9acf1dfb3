package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
)

// TaskStats is the number of stored tasks per status.
type TaskStats struct {
	Total    int64                       `json:"total"`
	ByStatus map[models.TaskStatus]int64 `json:"by_status"`
}

type StatsService struct {
	store  TaskStore
	logger *zap.Logger
}

func NewStatsService(store TaskStore, logger *zap.Logger) *StatsService {
	return &StatsService{store: store, logger: logger}
}

// TaskStats reports every status, including those with no tasks.
func (s *StatsService) TaskStats(ctx context.Context) (*TaskStats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &TaskStats{ByStatus: make(map[models.TaskStatus]int64, len(models.AllStatuses))}
	for _, status := range models.AllStatuses {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}
