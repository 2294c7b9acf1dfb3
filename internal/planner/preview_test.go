package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ifuryst/fanout/internal/models"
)

func TestPreviewAcceptsEmptySelection(t *testing.T) {
	res, err := Preview(PlanRequest{
		Selection: Selection{Strategy: AllPerAccount},
		Mode:      VideoFirst,
		BaseTime:  base,
	}, PreviewLimits{Videos: 3, Accounts: 3})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if res.TotalTasks != 0 || len(res.Sample) != 0 {
		t.Fatalf("expected empty preview, got %+v", res)
	}
}

func TestPreviewBoundsSampleButCountsEverything(t *testing.T) {
	req := PlanRequest{
		Selection: Selection{
			Videos:   []string{"v0", "v1", "v2", "v3", "v4"},
			Accounts: accountsOf("x", "a0", "a1", "a2", "a3"),
			Strategy: AllPerAccount,
		},
		Mode:            VideoFirst,
		IntervalSeconds: 300,
		BaseTime:        base,
	}
	res, err := Preview(req, PreviewLimits{Videos: 2, Accounts: 2})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if res.TotalTasks != 20 {
		t.Fatalf("expected 20 total tasks, got %d", res.TotalTasks)
	}
	if len(res.Sample) != 4 {
		t.Fatalf("expected 2x2 sample, got %d", len(res.Sample))
	}
}

func TestPreviewRejectsMalformedInput(t *testing.T) {
	_, err := Preview(PlanRequest{
		Selection: Selection{Videos: []string{"v0"}, Accounts: accountsOf("x", "a0"), Strategy: "nope"},
		Mode:      VideoFirst,
		BaseTime:  base,
	}, PreviewLimits{})
	if !errors.Is(err, models.ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
}

func TestPlanRunsFullPipeline(t *testing.T) {
	history := &fakeHistory{records: []published{{"a0", "x", "v0", base}}}
	res, err := Plan(context.Background(), PlanRequest{
		Selection: Selection{
			Videos:   []string{"v0", "v1"},
			Accounts: accountsOf("x", "a0", "a1"),
			Strategy: AllPerAccount,
		},
		Mode:            AccountFirst,
		IntervalSeconds: 60,
		BaseTime:        base,
		DedupWindowDays: 7,
	}, history)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Kept) != 3 || len(res.Suppressed) != 1 {
		t.Fatalf("expected 3 kept / 1 suppressed, got %d / %d", len(res.Kept), len(res.Suppressed))
	}

	if _, err := Plan(context.Background(), PlanRequest{Selection: Selection{Strategy: AllPerAccount}, Mode: VideoFirst, BaseTime: base}, history); !errors.Is(err, models.ErrInvalidSelection) {
		t.Fatalf("execution path must reject empty selection, got %v", err)
	}
}

func TestPlanDedupWindowEndsAtNow(t *testing.T) {
	history := &fakeHistory{records: []published{{"a0", "x", "v0", base.Add(-48 * time.Hour)}}}
	req := PlanRequest{
		Selection: Selection{
			Videos:   []string{"v0"},
			Accounts: accountsOf("x", "a0"),
			Strategy: AllPerAccount,
		},
		Mode:            VideoFirst,
		BaseTime:        base.AddDate(0, 0, 10),
		Now:             base,
		DedupWindowDays: 7,
	}
	res, err := Plan(context.Background(), req, history)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Kept) != 0 || len(res.Suppressed) != 1 {
		t.Fatalf("a publish two days ago must be suppressed for a plan starting in ten days, got %d kept / %d suppressed",
			len(res.Kept), len(res.Suppressed))
	}

	// Without a clock reading the window ends at the base time.
	req.Now = time.Time{}
	res, err = Plan(context.Background(), req, history)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Kept) != 1 {
		t.Fatalf("expected the window to end at base time, got %d kept", len(res.Kept))
	}
}
