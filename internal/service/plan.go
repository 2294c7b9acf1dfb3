package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/config"
	"github.com/ifuryst/fanout/internal/observability"
	"github.com/ifuryst/fanout/internal/planner"
	"github.com/ifuryst/fanout/pkg/util"
)

// PlanInput is the wire form of a plan request. Nil pointers take the
// configured planning defaults; a nil seed or start time is filled from the
// clock here and nowhere deeper.
type PlanInput struct {
	Videos             []string          `json:"videos"`
	Accounts           []planner.Account `json:"accounts"`
	Strategy           string            `json:"strategy"`
	Distribution       string            `json:"distribution"`
	Seed               *int64            `json:"seed"`
	PlatformStrategies map[string]string `json:"platform_strategies"`

	IntervalMode    string     `json:"interval_mode"`
	IntervalSeconds *int       `json:"interval_seconds"`
	JitterSeconds   *int       `json:"jitter_seconds"`
	StartTime       *time.Time `json:"start_time"`

	AllowDuplicate  bool `json:"allow_duplicate_publish"`
	DedupWindowDays *int `json:"dedup_window_days"`

	Content ContentMetadata `json:"content"`
}

type PlanPreview struct {
	planner.PreviewResult
	Seed      int64     `json:"seed"`
	StartTime time.Time `json:"start_time"`
}

type PlanExecution struct {
	MaterializeResult
	TotalPairings int   `json:"total_pairings"`
	Suppressed    int   `json:"suppressed"`
	Seed          int64 `json:"seed"`
}

// PlanService runs the planning pipeline and stores its output.
type PlanService struct {
	store        TaskStore
	materializer *Materializer
	planning     config.PlanningConfig
	platforms    map[string]config.PlatformConfig
	strategies   map[string]string
	clock        Clock
	ids          IDGenerator
	logger       *zap.Logger
}

func NewPlanService(cfg *config.Config, store TaskStore, clock Clock, ids IDGenerator, logger *zap.Logger) *PlanService {
	if clock == nil {
		clock = RealClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &PlanService{
		store:        store,
		materializer: NewMaterializer(store, ids, logger),
		planning:     cfg.Planning,
		platforms:    cfg.Platforms,
		strategies:   cfg.StrategyOverrides(),
		clock:        clock,
		ids:          ids,
		logger:       logger,
	}
}

// Preview computes the task count and a bounded schedule sample. Nothing is
// stored and empty selections are allowed.
func (s *PlanService) Preview(ctx context.Context, in PlanInput) (*PlanPreview, error) {
	_, span := observability.StartSpan(ctx, "plan.Preview",
		attribute.Int("videos", len(in.Videos)),
		attribute.Int("accounts", len(in.Accounts)))
	req := s.request(in)
	res, err := planner.Preview(req, planner.PreviewLimits{
		Videos:   s.planning.PreviewVideos,
		Accounts: s.planning.PreviewAccounts,
	})
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return &PlanPreview{PreviewResult: res, Seed: req.Seed, StartTime: req.BaseTime}, nil
}

// Execute plans the selection, drops recently published pairings and
// materializes the rest under a fresh plan id.
func (s *PlanService) Execute(ctx context.Context, in PlanInput) (res *PlanExecution, err error) {
	ctx, span := observability.StartSpan(ctx, "plan.Execute",
		attribute.Int("videos", len(in.Videos)),
		attribute.Int("accounts", len(in.Accounts)))
	defer func() { observability.EndSpan(span, err) }()

	req := s.request(in)
	planned, err := planner.Plan(ctx, req, s.store)
	if err != nil {
		return nil, fmt.Errorf("plan selection: %w", err)
	}
	for _, p := range planned.Suppressed {
		observability.DedupSuppressed.WithLabelValues(p.Platform).Inc()
	}

	planID := s.ids.New()
	span.SetAttributes(attribute.String("plan_id", planID))
	out := s.materializer.Materialize(ctx, MaterializeRequest{
		PlanID:      planID,
		Pairings:    planned.Kept,
		Content:     in.Content,
		Strategy:    req.Strategy,
		BaseTime:    req.BaseTime,
		Fingerprint: req.Fingerprint,
	})

	s.logger.Info("Plan executed",
		zap.String("plan_id", planID),
		zap.String("strategy", string(req.Strategy)),
		zap.Int("pairings", len(planned.Kept)+len(planned.Suppressed)),
		zap.Int("suppressed", len(planned.Suppressed)),
		zap.Int("created", out.Created),
		zap.Int("failed", out.Failed))

	return &PlanExecution{
		MaterializeResult: out,
		TotalPairings:     len(planned.Kept) + len(planned.Suppressed),
		Suppressed:        len(planned.Suppressed),
		Seed:              req.Seed,
	}, nil
}

func (s *PlanService) request(in PlanInput) planner.PlanRequest {
	now := s.clock.Now()
	req := planner.PlanRequest{
		Selection: planner.Selection{
			Videos:       in.Videos,
			Accounts:     in.Accounts,
			Strategy:     planner.Strategy(in.Strategy),
			Distribution: planner.Distribution(in.Distribution),
			Seed:         now.UnixNano(),
			Overrides:    s.overrides(in.PlatformStrategies),
		},
		Mode:            planner.IntervalMode(in.IntervalMode),
		IntervalSeconds: s.planning.DefaultIntervalSeconds,
		JitterSeconds:   s.planning.DefaultJitterSeconds,
		BaseTime:        now,
		AllowDuplicate:  in.AllowDuplicate,
		DedupWindowDays: s.planning.DedupWindowDays,
		Now:             now,
		Fingerprint:     s.fingerprint,
	}
	if req.Mode == "" {
		req.Mode = planner.AccountFirst
	}
	if in.Seed != nil {
		req.Seed = *in.Seed
	}
	if in.IntervalSeconds != nil {
		req.IntervalSeconds = *in.IntervalSeconds
	}
	if in.JitterSeconds != nil {
		req.JitterSeconds = *in.JitterSeconds
	}
	if in.StartTime != nil && !in.StartTime.IsZero() {
		req.BaseTime = in.StartTime.UTC()
	}
	if in.DedupWindowDays != nil {
		req.DedupWindowDays = *in.DedupWindowDays
	}
	return req
}

// overrides merges the configured per-platform strategies with the
// request's; the request wins.
func (s *PlanService) overrides(fromRequest map[string]string) map[string]planner.Strategy {
	out := make(map[string]planner.Strategy)
	for code, st := range s.strategies {
		out[code] = planner.Strategy(st)
	}
	for code, st := range fromRequest {
		out[code] = planner.Strategy(st)
	}
	return out
}

func (s *PlanService) fingerprint(p planner.Pairing) string {
	return util.ContentFingerprint(p.VideoID, s.platforms[p.Platform].ContentTransform)
}

var _ planner.HistoryLookup = TaskStore(nil)
