package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/planner"
)

func scheduled(video, account string, offset time.Duration) planner.ScheduledPairing {
	return planner.ScheduledPairing{
		Pairing:     planner.Pairing{VideoID: video, AccountID: account, Platform: "douyin"},
		ScheduledAt: t0.Add(offset),
	}
}

func TestMaterializeStatusFollowsScheduledTime(t *testing.T) {
	store := NewMemoryStore(newFakeClock())
	m := NewMaterializer(store, &seqIDs{prefix: "task-"}, zap.NewNop())

	res := m.Materialize(context.Background(), MaterializeRequest{
		PlanID: "plan-7",
		Pairings: []planner.ScheduledPairing{
			scheduled("v1", "a1", 0),
			scheduled("v1", "a2", 5*time.Minute),
		},
		Strategy: planner.AllPerAccount,
		BaseTime: t0,
	})
	if res.Created != 2 || res.Failed != 0 {
		t.Fatalf("expected 2 created, got %+v", res)
	}

	first, _ := store.Get(context.Background(), "task-1")
	if first.Status != models.StatusPending || first.ScheduledAt != nil {
		t.Fatalf("task at base time should be pending without a schedule, got %s %v", first.Status, first.ScheduledAt)
	}
	second, _ := store.Get(context.Background(), "task-2")
	if second.Status != models.StatusScheduled || second.ScheduledAt == nil || !second.ScheduledAt.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("future task should be scheduled, got %s %v", second.Status, second.ScheduledAt)
	}
	if second.PlanID != "plan-7" || second.Strategy != "all_per_account" || second.Fingerprint != "v1" {
		t.Fatalf("unexpected task fields %+v", second)
	}
}

func TestMaterializeContentFallsBackPerField(t *testing.T) {
	store := NewMemoryStore(newFakeClock())
	m := NewMaterializer(store, &seqIDs{prefix: "task-"}, zap.NewNop())

	res := m.Materialize(context.Background(), MaterializeRequest{
		PlanID:   "plan-1",
		Pairings: []planner.ScheduledPairing{scheduled("v1", "a1", 0), scheduled("v2", "a1", 0)},
		Content: ContentMetadata{
			Default: Content{Title: "Default", Description: "shared", Tags: []string{"all"}},
			PerVideo: map[string]Content{
				"v2": {Title: "Second video"},
			},
		},
		BaseTime: t0,
	})
	if res.Created != 2 {
		t.Fatalf("expected 2 created, got %+v", res)
	}
	v1, v2 := res.Tasks[0], res.Tasks[1]
	if v1.Title != "Default" || v1.Description != "shared" {
		t.Fatalf("v1 should use defaults, got %+v", v1)
	}
	if v2.Title != "Second video" || v2.Description != "shared" || len(v2.Tags) != 1 || v2.Tags[0] != "all" {
		t.Fatalf("v2 should override only the title, got %+v", v2)
	}
}

func TestMaterializeRetriesUnavailableStoreOnce(t *testing.T) {
	store := &flakyStore{TaskStore: NewMemoryStore(newFakeClock()), failures: map[string]int{"put": 1}}
	m := NewMaterializer(store, &seqIDs{prefix: "task-"}, zap.NewNop())

	res := m.Materialize(context.Background(), MaterializeRequest{
		Pairings: []planner.ScheduledPairing{scheduled("v1", "a1", 0)},
		BaseTime: t0,
	})
	if res.Created != 1 || res.Failed != 0 {
		t.Fatalf("one transient failure should be absorbed, got %+v", res)
	}
}

func TestMaterializeReportsFailuresWithoutRollback(t *testing.T) {
	// Two consecutive failures exhaust the retry for the second pairing.
	store := &flakyStore{TaskStore: NewMemoryStore(newFakeClock())}
	m := NewMaterializer(store, &seqIDs{prefix: "task-"}, zap.NewNop())
	ctx := context.Background()

	pairings := []planner.ScheduledPairing{scheduled("v1", "a1", 0), scheduled("v2", "a1", 0), scheduled("v3", "a1", 0)}
	// Arm the failure after the first write lands.
	first := m.Materialize(ctx, MaterializeRequest{Pairings: pairings[:1], BaseTime: t0})
	store.failures = map[string]int{"put": 2}
	rest := m.Materialize(ctx, MaterializeRequest{Pairings: pairings[1:], BaseTime: t0})

	if first.Created != 1 {
		t.Fatalf("first write should land, got %+v", first)
	}
	if rest.Created != 1 || rest.Failed != 1 {
		t.Fatalf("expected one failure and one success, got %+v", rest)
	}
	f := rest.Failures[0]
	if f.VideoID != "v2" || f.AccountID != "a1" || f.Platform != "douyin" || f.Reason != "StoreUnavailable" {
		t.Fatalf("unexpected failure entry %+v", f)
	}
	counts, _ := store.CountByStatus(ctx)
	if counts[models.StatusPending] != 2 {
		t.Fatalf("earlier writes must survive, got %v", counts)
	}
}
