package service

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/config"
	"github.com/ifuryst/fanout/internal/service/publisher"
	"github.com/ifuryst/fanout/internal/service/publisher/dryrun"
	"github.com/ifuryst/fanout/internal/service/publisher/webhook"
)

// NewPublisherManager registers one publisher per configured platform.
func NewPublisherManager(platforms map[string]config.PlatformConfig, logger *zap.Logger) (*publisher.Manager, error) {
	manager := publisher.NewPublishManager(logger)

	codes := make([]string, 0, len(platforms))
	for code := range platforms {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		p := platforms[code]
		cfg := publisher.PublishConfig{
			PlatformCode: code,
			Enabled:      p.Enabled,
			Kind:         p.Publisher,
			Endpoint:     p.Endpoint,
			Token:        p.Token,
			Timeout:      config.Duration(p.Timeout),
		}

		var pub publisher.Publisher
		switch p.Publisher {
		case "webhook":
			wh, err := webhook.NewWebhookPublisher(cfg, logger)
			if err != nil {
				return nil, err
			}
			pub = wh
		case "dryrun", "":
			cfg.Kind = "dryrun"
			dr := dryrun.NewDryRunPublisher(code, logger)
			dr.Delay = config.Duration(p.DryRunDelay)
			pub = dr
		default:
			return nil, fmt.Errorf("unknown publisher %q for platform %s", p.Publisher, code)
		}

		if err := manager.RegisterPublisher(cfg, pub); err != nil {
			return nil, err
		}
	}
	return manager, nil
}
