package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/observability"
	"github.com/ifuryst/fanout/internal/planner"
)

// Content is the publishable metadata copied onto each task.
type Content struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Cover       string   `json:"cover"`
}

// ContentMetadata holds the plan-wide default and per-video overrides.
// Empty fields of a per-video entry fall back to the default.
type ContentMetadata struct {
	Default  Content            `json:"default"`
	PerVideo map[string]Content `json:"per_video"`
}

func (m ContentMetadata) For(videoID string) Content {
	c := m.Default
	v, ok := m.PerVideo[videoID]
	if !ok {
		return c
	}
	if v.Title != "" {
		c.Title = v.Title
	}
	if v.Description != "" {
		c.Description = v.Description
	}
	if len(v.Tags) > 0 {
		c.Tags = v.Tags
	}
	if v.Cover != "" {
		c.Cover = v.Cover
	}
	return c
}

type MaterializeRequest struct {
	PlanID      string
	Pairings    []planner.ScheduledPairing
	Content     ContentMetadata
	Strategy    planner.Strategy
	BaseTime    time.Time
	Fingerprint planner.Fingerprinter
}

type MaterializeFailure struct {
	VideoID   string `json:"video_id"`
	AccountID string `json:"account_id"`
	Platform  string `json:"platform"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

type MaterializeResult struct {
	PlanID   string                `json:"plan_id"`
	Created  int                   `json:"created"`
	Failed   int                   `json:"failed"`
	Tasks    []*models.PublishTask `json:"tasks"`
	Failures []MaterializeFailure  `json:"failures,omitempty"`
}

// Materializer turns scheduled pairings into stored tasks.
type Materializer struct {
	store  TaskStore
	ids    IDGenerator
	logger *zap.Logger
}

func NewMaterializer(store TaskStore, ids IDGenerator, logger *zap.Logger) *Materializer {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Materializer{store: store, ids: ids, logger: logger}
}

// Materialize writes one task per pairing. A failed write is reported in the
// result and does not undo the writes before it.
func (m *Materializer) Materialize(ctx context.Context, req MaterializeRequest) MaterializeResult {
	ctx, span := observability.StartSpan(ctx, "materializer.Materialize")
	defer observability.EndSpan(span, nil)

	fingerprint := req.Fingerprint
	if fingerprint == nil {
		fingerprint = planner.VideoFingerprint
	}

	res := MaterializeResult{
		PlanID: req.PlanID,
		Tasks:  make([]*models.PublishTask, 0, len(req.Pairings)),
	}
	for _, sp := range req.Pairings {
		task := m.build(req, sp, fingerprint)
		if err := m.put(ctx, task); err != nil {
			res.Failed++
			res.Failures = append(res.Failures, MaterializeFailure{
				VideoID:   sp.VideoID,
				AccountID: sp.AccountID,
				Platform:  sp.Platform,
				Reason:    models.ReasonOf(err),
				Message:   err.Error(),
			})
			observability.TasksMaterialized.WithLabelValues(sp.Platform, "failed").Inc()
			m.logger.Warn("Failed to store task",
				zap.String("plan_id", req.PlanID),
				zap.String("video_id", sp.VideoID),
				zap.String("account_id", sp.AccountID),
				zap.Error(err))
			continue
		}
		res.Created++
		res.Tasks = append(res.Tasks, task)
		observability.TasksMaterialized.WithLabelValues(sp.Platform, string(task.Status)).Inc()
	}

	m.logger.Info("Plan materialized",
		zap.String("plan_id", req.PlanID),
		zap.Int("created", res.Created),
		zap.Int("failed", res.Failed))
	return res
}

func (m *Materializer) build(req MaterializeRequest, sp planner.ScheduledPairing, fingerprint planner.Fingerprinter) *models.PublishTask {
	content := req.Content.For(sp.VideoID)
	task := &models.PublishTask{
		TaskID:       m.ids.New(),
		PlanID:       req.PlanID,
		VideoID:      sp.VideoID,
		AccountID:    sp.AccountID,
		PlatformCode: sp.Platform,
		Title:        content.Title,
		Description:  content.Description,
		Tags:         models.StringArray(content.Tags).Clone(),
		Cover:        content.Cover,
		Strategy:     string(req.Strategy),
		Fingerprint:  fingerprint(sp.Pairing),
		Status:       models.StatusPending,
		Source:       models.SourceQueue,
	}
	if sp.ScheduledAt.After(req.BaseTime) {
		at := sp.ScheduledAt
		task.ScheduledAt = &at
		task.Status = models.StatusScheduled
	}
	return task
}

func (m *Materializer) put(ctx context.Context, task *models.PublishTask) error {
	err := m.store.Put(ctx, task)
	if errors.Is(err, models.ErrStoreUnavailable) {
		err = m.store.Put(ctx, task)
	}
	if err != nil {
		return fmt.Errorf("store task for %s/%s: %w", task.VideoID, task.AccountID, err)
	}
	return nil
}
