// Package dryrun provides a publisher that only logs what it would upload.
package dryrun

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/publisher"
)

type Publisher struct {
	platform string
	// Delay simulates upload time.
	Delay    time.Duration
	logger   *zap.Logger
	inflight publisher.Inflight
}

func NewDryRunPublisher(platform string, logger *zap.Logger) *Publisher {
	return &Publisher{platform: platform, logger: logger}
}

func (p *Publisher) Execute(ctx context.Context, task *models.PublishTask) (*publisher.PublishResult, error) {
	ctx, release := p.inflight.Track(ctx, task.TaskID)
	defer release()

	if p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	p.logger.Info("Dry run publish",
		zap.String("task_id", task.TaskID),
		zap.String("platform", p.platform),
		zap.String("account_id", task.AccountID),
		zap.String("video_id", task.VideoID),
		zap.String("title", task.Title))
	return &publisher.PublishResult{
		Success:     true,
		PublishID:   "dryrun-" + task.TaskID,
		Metadata:    map[string]string{"platform": p.platform},
		PublishedAt: time.Now().UTC(),
	}, nil
}

func (p *Publisher) Cancel(taskID string) {
	p.inflight.Cancel(taskID)
}

var _ publisher.Publisher = (*Publisher)(nil)
