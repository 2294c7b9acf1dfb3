package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/fanout/pkg/logger"
)

type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	Logger    logger.Config             `yaml:"logger"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Planning  PlanningConfig            `yaml:"planning"`
	Platforms map[string]PlatformConfig `yaml:"platforms"`
	Tracing   TracingConfig             `yaml:"tracing"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	// Type is "postgres" or "sqlite".
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	// Path is the sqlite file, ":memory:" for a throwaway database.
	Path string `yaml:"path"`
}

// SchedulerConfig drives the dispatcher that runs due tasks.
type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PollInterval  string `yaml:"poll_interval"`
	Concurrency   int    `yaml:"concurrency"`
	ClaimBatch    int    `yaml:"claim_batch"`
	StatsInterval string `yaml:"stats_interval"`
}

type PlanningConfig struct {
	DefaultIntervalSeconds int    `yaml:"default_interval_seconds"`
	DefaultJitterSeconds   int    `yaml:"default_jitter_seconds"`
	DedupWindowDays        int    `yaml:"dedup_window_days"`
	PreviewVideos          int    `yaml:"preview_videos"`
	PreviewAccounts        int    `yaml:"preview_accounts"`
	BatchConcurrency       int    `yaml:"batch_concurrency"`
	CancelTimeout          string `yaml:"cancel_timeout"`
}

type PlatformConfig struct {
	Enabled bool `yaml:"enabled"`
	// Strategy overrides the assignment strategy under per_platform_custom.
	Strategy string `yaml:"strategy"`
	// ContentTransform names the platform-specific content rewrite; it is
	// folded into the content fingerprint.
	ContentTransform string `yaml:"content_transform"`
	// Publisher is "webhook" or "dryrun".
	Publisher string `yaml:"publisher"`
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
	Timeout   string `yaml:"timeout"`
	// DryRunDelay simulates upload time for the dryrun publisher.
	DryRunDelay string `yaml:"dry_run_delay"`
}

type TracingConfig struct {
	// Exporter is "none", "stdout" or "otlphttp".
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Environment string  `yaml:"environment"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "fanout.db"
	}
	if cfg.Scheduler.PollInterval == "" {
		cfg.Scheduler.PollInterval = "5s"
	}
	if cfg.Scheduler.Concurrency <= 0 {
		cfg.Scheduler.Concurrency = 4
	}
	if cfg.Scheduler.ClaimBatch <= 0 {
		cfg.Scheduler.ClaimBatch = 20
	}
	if cfg.Scheduler.StatsInterval == "" {
		cfg.Scheduler.StatsInterval = "1m"
	}
	if cfg.Planning.DefaultIntervalSeconds < 0 {
		cfg.Planning.DefaultIntervalSeconds = 0
	}
	if cfg.Planning.DedupWindowDays < 0 {
		cfg.Planning.DedupWindowDays = 0
	}
	if cfg.Planning.PreviewVideos <= 0 {
		cfg.Planning.PreviewVideos = 5
	}
	if cfg.Planning.PreviewAccounts <= 0 {
		cfg.Planning.PreviewAccounts = 5
	}
	if cfg.Planning.BatchConcurrency <= 0 {
		cfg.Planning.BatchConcurrency = 8
	}
	if cfg.Planning.CancelTimeout == "" {
		cfg.Planning.CancelTimeout = "10s"
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "none"
	}
	if cfg.Tracing.SampleRatio <= 0 {
		cfg.Tracing.SampleRatio = 1
	}
	for code, p := range cfg.Platforms {
		if p.Publisher == "" {
			p.Publisher = "dryrun"
		}
		if p.Timeout == "" {
			p.Timeout = "30s"
		}
		cfg.Platforms[code] = p
	}
}

// Validate checks values that defaults cannot repair.
func (cfg *Config) Validate() error {
	for name, d := range map[string]string{
		"scheduler.poll_interval":  cfg.Scheduler.PollInterval,
		"scheduler.stats_interval": cfg.Scheduler.StatsInterval,
		"planning.cancel_timeout":  cfg.Planning.CancelTimeout,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, d, err)
		}
	}
	switch cfg.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
	for code, p := range cfg.Platforms {
		if _, err := time.ParseDuration(p.Timeout); err != nil {
			return fmt.Errorf("invalid timeout for platform %s: %w", code, err)
		}
		if p.DryRunDelay != "" {
			if _, err := time.ParseDuration(p.DryRunDelay); err != nil {
				return fmt.Errorf("invalid dry_run_delay for platform %s: %w", code, err)
			}
		}
		if p.Publisher == "webhook" && p.Endpoint == "" {
			return fmt.Errorf("platform %s uses the webhook publisher but has no endpoint", code)
		}
	}
	return nil
}

// Duration parses a duration that Validate has already checked.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// StrategyOverrides returns the per-platform strategy table.
func (cfg *Config) StrategyOverrides() map[string]string {
	out := make(map[string]string)
	for code, p := range cfg.Platforms {
		if p.Strategy != "" {
			out[code] = p.Strategy
		}
	}
	return out
}
