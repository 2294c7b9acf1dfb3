package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/fanout/internal/config"
	"github.com/ifuryst/fanout/internal/service"
	"github.com/ifuryst/fanout/internal/service/publisher"
)

// Services are the application services the HTTP layer exposes.
type Services struct {
	Plans        *service.PlanService
	Lifecycle    *service.LifecycleManager
	Stats        *service.StatsService
	Dispatcher   *service.Dispatcher
	StatsUpdater *service.StatsUpdater
	Publishers   *publisher.Manager
}

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	Services
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	publishers, err := service.NewPublisherManager(cfg.Platforms, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publishers: %w", err)
	}

	clock := service.RealClock{}
	store := service.NewGormStore(db, clock)
	lifecycle := service.NewLifecycleManager(store, publishers, clock, logger, service.LifecycleOptions{
		CancelTimeout:    config.Duration(cfg.Planning.CancelTimeout),
		BatchConcurrency: cfg.Planning.BatchConcurrency,
	})
	stats := service.NewStatsService(store, logger)

	srv := newServer(cfg, logger, Services{
		Plans:        service.NewPlanService(cfg, store, clock, service.UUIDGenerator{}, logger),
		Lifecycle:    lifecycle,
		Stats:        stats,
		Dispatcher:   service.NewDispatcher(&cfg.Scheduler, logger, lifecycle, store, publishers),
		StatsUpdater: service.NewStatsUpdater(stats, logger, config.Duration(cfg.Scheduler.StatsInterval)),
		Publishers:   publishers,
	})
	srv.DB = db
	return srv, nil
}

func newServer(cfg *config.Config, logger *zap.Logger, svcs Services) *Server {
	gin.SetMode(cfg.Server.Mode)

	srv := &Server{
		Config:   cfg,
		Router:   gin.New(),
		Logger:   logger,
		Services: svcs,
	}
	srv.setupMiddleware()
	srv.setupRoutes()
	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", s.handleHealth)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.Router.Group("/api/v1")
	{
		plans := api.Group("/plans")
		{
			plans.POST("/preview", s.handlePreviewPlan)
			plans.POST("", s.handleExecutePlan)
		}

		tasks := api.Group("/tasks")
		{
			tasks.GET("", s.handleListTasks)
			tasks.DELETE("", s.handleClearTasks)
			tasks.GET("/stats", s.handleTaskStats)

			tasks.POST("/batch/retry", s.handleBatchRetry)
			tasks.POST("/batch/cancel", s.handleBatchCancel)
			tasks.POST("/batch/delete", s.handleBatchDelete)

			tasks.GET("/:id", s.handleGetTask)
			tasks.DELETE("/:id", s.handleDeleteTask)
			tasks.POST("/:id/retry", s.handleRetryTask)
			tasks.POST("/:id/cancel", s.handleCancelTask)
			tasks.POST("/:id/result", s.handleReportResult)
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s.Dispatcher != nil {
		if err := s.Dispatcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start dispatcher: %w", err)
		}
	}
	if s.StatsUpdater != nil {
		s.StatsUpdater.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.Dispatcher != nil {
		s.Dispatcher.Stop()
	}
	if s.StatsUpdater != nil {
		s.StatsUpdater.Stop()
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
