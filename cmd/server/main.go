package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/config"
	"github.com/ifuryst/fanout/internal/observability"
	"github.com/ifuryst/fanout/internal/planner"
	"github.com/ifuryst/fanout/internal/server"
	"github.com/ifuryst/fanout/internal/service"
	"github.com/ifuryst/fanout/pkg/logger"
	"github.com/ifuryst/fanout/pkg/util"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "fanout",
	Short: "Fanout - multi-platform publish task engine",
	Long:  `Fanout expands video and account selections into scheduled publish tasks and drives them through their lifecycle.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Fanout %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var previewFlags struct {
	videos       string
	accounts     string
	strategy     string
	distribution string
	mode         string
	interval     int
	jitter       int
	seed         int64
	start        string
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the task count and a schedule sample for a selection",
	Example: `  fanout preview --videos v1,v2,v3 --accounts a1:douyin,a2:kuaishou \
    --strategy all_per_account --mode video_first --interval 300`,
	RunE: runPreview,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")

	f := previewCmd.Flags()
	f.StringVar(&previewFlags.videos, "videos", "", "comma separated video ids")
	f.StringVar(&previewFlags.accounts, "accounts", "", "comma separated account:platform pairs")
	f.StringVar(&previewFlags.strategy, "strategy", string(planner.AllPerAccount), "assignment strategy")
	f.StringVar(&previewFlags.distribution, "distribution", string(planner.DistributeSequential), "distribution for one_per_account")
	f.StringVar(&previewFlags.mode, "mode", string(planner.AccountFirst), "interval mode")
	f.IntVar(&previewFlags.interval, "interval", -1, "seconds between tasks (default from config)")
	f.IntVar(&previewFlags.jitter, "jitter", -1, "jitter bound in seconds (default from config)")
	f.Int64Var(&previewFlags.seed, "seed", 0, "seed for random distribution and jitter")
	f.StringVar(&previewFlags.start, "start", "", "base time in RFC3339 (default now)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(previewCmd)
}

func runServer(*cobra.Command, []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Fanout server", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, "fanout", cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := shutdownTracing(flushCtx); err != nil {
			appLogger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func runPreview(cmd *cobra.Command, _ []string) error {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err = config.LoadConfig(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	accounts, err := parseAccounts(previewFlags.accounts)
	if err != nil {
		return err
	}
	in := service.PlanInput{
		Videos:       util.ParseList(previewFlags.videos),
		Accounts:     accounts,
		Strategy:     previewFlags.strategy,
		Distribution: previewFlags.distribution,
		IntervalMode: previewFlags.mode,
	}
	if previewFlags.interval >= 0 {
		in.IntervalSeconds = &previewFlags.interval
	}
	if previewFlags.jitter >= 0 {
		in.JitterSeconds = &previewFlags.jitter
	}
	if cmd.Flags().Changed("seed") {
		in.Seed = &previewFlags.seed
	}
	if previewFlags.start != "" {
		start, err := time.Parse(time.RFC3339, previewFlags.start)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		in.StartTime = &start
	}

	plans := service.NewPlanService(cfg, service.NewMemoryStore(nil), nil, nil, zap.NewNop())
	preview, err := plans.Preview(cmd.Context(), in)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(preview)
}

// parseAccounts reads "id:platform" pairs.
func parseAccounts(s string) ([]planner.Account, error) {
	var out []planner.Account
	for _, item := range util.ParseList(s) {
		id, platform, ok := strings.Cut(item, ":")
		if !ok || id == "" || platform == "" {
			return nil, fmt.Errorf("invalid account %q, want id:platform", item)
		}
		out = append(out, planner.Account{ID: id, Platform: platform})
	}
	return out, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
