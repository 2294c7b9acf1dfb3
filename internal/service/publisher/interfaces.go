package publisher

import (
	"context"
	"time"

	"github.com/ifuryst/fanout/internal/models"
)

// PublishResult is what a platform reports after an upload.
type PublishResult struct {
	Success     bool              `json:"success"`
	PublishID   string            `json:"publish_id,omitempty"`
	URL         string            `json:"url,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	PublishedAt time.Time         `json:"published_at"`
}

// Publisher performs the upload for a single task.
//
// Execute must return promptly once ctx is cancelled. Cancel asks an
// in-flight Execute for taskID to stop; it is a no-op for unknown ids.
type Publisher interface {
	Execute(ctx context.Context, task *models.PublishTask) (*PublishResult, error)
	Cancel(taskID string)
}

// PublishConfig is the per-platform publisher setup.
type PublishConfig struct {
	PlatformCode string        `json:"platform_code"`
	Enabled      bool          `json:"enabled"`
	Kind         string        `json:"kind"`
	Endpoint     string        `json:"endpoint"`
	Token        string        `json:"-"`
	Timeout      time.Duration `json:"timeout"`
}
