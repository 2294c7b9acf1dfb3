package publisher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
)

// Manager routes tasks to the publisher registered for their platform and
// remembers which platform is running each task so Cancel can find it.
type Manager struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
	configs    map[string]PublishConfig
	running    map[string]string
	logger     *zap.Logger
}

func NewPublishManager(logger *zap.Logger) *Manager {
	return &Manager{
		publishers: make(map[string]Publisher),
		configs:    make(map[string]PublishConfig),
		running:    make(map[string]string),
		logger:     logger,
	}
}

func (m *Manager) RegisterPublisher(cfg PublishConfig, p Publisher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.publishers[cfg.PlatformCode]; exists {
		return fmt.Errorf("publisher for platform %s already registered", cfg.PlatformCode)
	}
	m.publishers[cfg.PlatformCode] = p
	m.configs[cfg.PlatformCode] = cfg
	m.logger.Info("Publisher registered",
		zap.String("platform", cfg.PlatformCode),
		zap.String("kind", cfg.Kind),
		zap.Bool("enabled", cfg.Enabled))
	return nil
}

func (m *Manager) GetPublisher(platformCode string) (Publisher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, exists := m.publishers[platformCode]
	if !exists {
		return nil, fmt.Errorf("%w: no publisher for platform %s", models.ErrPublisherFailure, platformCode)
	}
	if !m.configs[platformCode].Enabled {
		return nil, fmt.Errorf("%w: platform %s is disabled", models.ErrPublisherFailure, platformCode)
	}
	return p, nil
}

// Platforms lists the registered platform codes in sorted order.
func (m *Manager) Platforms() []PublishConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PublishConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlatformCode < out[j].PlatformCode })
	return out
}

func (m *Manager) Execute(ctx context.Context, task *models.PublishTask) (*PublishResult, error) {
	p, err := m.GetPublisher(task.PlatformCode)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.running[task.TaskID] = task.PlatformCode
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, task.TaskID)
		m.mu.Unlock()
	}()

	result, err := p.Execute(ctx, task)
	if err != nil {
		m.logger.Warn("Publish failed",
			zap.String("task_id", task.TaskID),
			zap.String("platform", task.PlatformCode),
			zap.Error(err))
		return nil, err
	}
	m.logger.Info("Publishing completed",
		zap.String("task_id", task.TaskID),
		zap.String("platform", task.PlatformCode),
		zap.Bool("success", result.Success),
		zap.String("publish_id", result.PublishID))
	return result, nil
}

func (m *Manager) Cancel(taskID string) {
	m.mu.RLock()
	code, ok := m.running[taskID]
	p := m.publishers[code]
	m.mu.RUnlock()
	if !ok || p == nil {
		return
	}
	m.logger.Info("Cancelling publish", zap.String("task_id", taskID), zap.String("platform", code))
	p.Cancel(taskID)
}

var _ Publisher = (*Manager)(nil)
