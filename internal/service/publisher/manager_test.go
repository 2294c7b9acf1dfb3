package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
)

type stubPublisher struct {
	mu        sync.Mutex
	inflight  Inflight
	started   chan struct{}
	cancelled []string
}

func (s *stubPublisher) Execute(ctx context.Context, task *models.PublishTask) (*PublishResult, error) {
	ctx, release := s.inflight.Track(ctx, task.TaskID)
	defer release()
	if s.started != nil {
		close(s.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &PublishResult{Success: true, PublishID: "stub-" + task.TaskID}, nil
}

func (s *stubPublisher) Cancel(taskID string) {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, taskID)
	s.mu.Unlock()
	s.inflight.Cancel(taskID)
}

func TestManagerRoutesByPlatform(t *testing.T) {
	m := NewPublishManager(zap.NewNop())
	douyin := &stubPublisher{}
	if err := m.RegisterPublisher(PublishConfig{PlatformCode: "douyin", Enabled: true}, douyin); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.RegisterPublisher(PublishConfig{PlatformCode: "douyin", Enabled: true}, douyin); err == nil {
		t.Fatal("duplicate registration should fail")
	}
	if err := m.RegisterPublisher(PublishConfig{PlatformCode: "bilibili"}, &stubPublisher{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := m.Execute(context.Background(), &models.PublishTask{TaskID: "t1", PlatformCode: "douyin"})
	if err != nil || !res.Success || res.PublishID != "stub-t1" {
		t.Fatalf("unexpected result %+v (%v)", res, err)
	}

	for _, code := range []string{"bilibili", "youtube"} {
		_, err := m.Execute(context.Background(), &models.PublishTask{TaskID: "t2", PlatformCode: code})
		if !errors.Is(err, models.ErrPublisherFailure) {
			t.Errorf("%s: expected ErrPublisherFailure, got %v", code, err)
		}
	}

	platforms := m.Platforms()
	if len(platforms) != 2 || platforms[0].PlatformCode != "bilibili" {
		t.Fatalf("expected sorted platform list, got %+v", platforms)
	}
}

func TestManagerCancelReachesRunningPublisher(t *testing.T) {
	m := NewPublishManager(zap.NewNop())
	stub := &stubPublisher{started: make(chan struct{})}
	m.RegisterPublisher(PublishConfig{PlatformCode: "douyin", Enabled: true}, stub)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), &models.PublishTask{TaskID: "t1", PlatformCode: "douyin"})
		errCh <- err
	}()
	<-stub.started
	m.Cancel("t1")
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the execution to stop with context.Canceled, got %v", err)
	}

	// Unknown tasks are ignored.
	m.Cancel("t1")
	if len(stub.cancelled) != 1 {
		t.Fatalf("expected exactly one cancel to reach the publisher, got %v", stub.cancelled)
	}
}
