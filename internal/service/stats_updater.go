package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/observability"
)

// StatsUpdater periodically publishes task counts to the status gauge.
type StatsUpdater struct {
	stats    *StatsService
	logger   *zap.Logger
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func NewStatsUpdater(stats *StatsService, logger *zap.Logger, interval time.Duration) *StatsUpdater {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatsUpdater{
		stats:    stats,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic stats update process
func (s *StatsUpdater) Start(ctx context.Context) {
	go func() {
		s.logger.Info("Starting stats updater", zap.Duration("interval", s.interval))
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.UpdateStats(ctx)
		for {
			select {
			case <-s.done:
				s.logger.Info("Stats updater stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Stats updater stopped due to context cancellation")
				return
			case <-ticker.C:
				s.UpdateStats(ctx)
			}
		}
	}()
}

func (s *StatsUpdater) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// UpdateStats refreshes the gauge once.
func (s *StatsUpdater) UpdateStats(ctx context.Context) {
	stats, err := s.stats.TaskStats(ctx)
	if err != nil {
		s.logger.Error("Failed to update task stats", zap.Error(err))
		return
	}
	for status, n := range stats.ByStatus {
		observability.TasksByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	s.logger.Debug("Statistics updated", zap.Int64("total", stats.Total))
}
