package publisher

import (
	"context"
	"sync"
)

// Inflight tracks cancel functions of running uploads by task id.
type Inflight struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Track derives a cancellable context for taskID. The returned release
// must be called when the upload ends.
func (f *Inflight) Track(ctx context.Context, taskID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	if f.cancels == nil {
		f.cancels = make(map[string]context.CancelFunc)
	}
	f.cancels[taskID] = cancel
	f.mu.Unlock()
	return ctx, func() {
		f.mu.Lock()
		delete(f.cancels, taskID)
		f.mu.Unlock()
		cancel()
	}
}

func (f *Inflight) Cancel(taskID string) {
	f.mu.Lock()
	cancel, ok := f.cancels[taskID]
	f.mu.Unlock()
	if ok {
		cancel()
	}
}
