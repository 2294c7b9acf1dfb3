// Package webhook hands tasks to an external uploader over HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/publisher"
)

type Publisher struct {
	config   publisher.PublishConfig
	client   *http.Client
	logger   *zap.Logger
	inflight publisher.Inflight
}

func NewWebhookPublisher(cfg publisher.PublishConfig, logger *zap.Logger) (*Publisher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("webhook publisher for %s requires an endpoint", cfg.PlatformCode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Publisher{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type request struct {
	TaskID      string     `json:"task_id"`
	PlanID      string     `json:"plan_id"`
	VideoID     string     `json:"video_id"`
	AccountID   string     `json:"account_id"`
	Platform    string     `json:"platform"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	Cover       string     `json:"cover,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
}

func (p *Publisher) Execute(ctx context.Context, task *models.PublishTask) (*publisher.PublishResult, error) {
	ctx, release := p.inflight.Track(ctx, task.TaskID)
	defer release()

	body, err := json.Marshal(request{
		TaskID:      task.TaskID,
		PlanID:      task.PlanID,
		VideoID:     task.VideoID,
		AccountID:   task.AccountID,
		Platform:    task.PlatformCode,
		Title:       task.Title,
		Description: task.Description,
		Tags:        task.Tags,
		Cover:       task.Cover,
		ScheduledAt: task.ScheduledAt,
		RetryCount:  task.RetryCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", task.TaskID)
	if p.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: request to %s failed: %w", models.ErrPublisherFailure, p.config.PlatformCode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s webhook returned status %d: %s",
			models.ErrPublisherFailure, p.config.PlatformCode, resp.StatusCode, bytes.TrimSpace(msg))
	}

	result := publisher.PublishResult{Success: true}
	if resp.ContentLength != 0 {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: failed to decode response: %w", models.ErrPublisherFailure, err)
		}
	}
	if result.PublishedAt.IsZero() {
		result.PublishedAt = time.Now().UTC()
	}

	p.logger.Debug("Webhook accepted task",
		zap.String("task_id", task.TaskID),
		zap.String("platform", p.config.PlatformCode),
		zap.Bool("success", result.Success),
		zap.String("publish_id", result.PublishID))
	return &result, nil
}

func (p *Publisher) Cancel(taskID string) {
	p.inflight.Cancel(taskID)
}

var _ publisher.Publisher = (*Publisher)(nil)
