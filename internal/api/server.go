package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"deltayield/internal/config"
	"deltayield/internal/logger"
	"deltayield/internal/middleware"
	"deltayield/internal/monitor"
	"deltayield/internal/predictor"
	"deltayield/internal/scheduler"

	"github.com/gin-gonic/gin"
)

// Dependencies are the services the API exposes. Metrics, Health and Scheduler are optional.
type Dependencies struct {
	Runner    BacktestRunner
	Predictor predictor.Predictor
	Metrics   *monitor.MetricsCollector
	Health    *monitor.SystemHealthChecker
	Scheduler *scheduler.Scheduler
	Logger    logger.Logger
}

// Server represents the API server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	deps       Dependencies
	log        logger.Logger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	gin.SetMode(cfg.Server.Mode)

	log := deps.Logger
	if log == nil {
		log = logger.Named("api")
	}

	s := &Server{
		config: cfg,
		router: gin.New(),
		deps:   deps,
		log:    log,
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:           cfg.Server.Addr(),
		Handler:        s.router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.ErrorHandler(s.log))
	s.router.Use(middleware.RequestLogger(s.log))
	if s.deps.Metrics != nil {
		s.router.Use(middleware.Metrics(s.deps.Metrics))
	}
	s.router.Use(middleware.HandleError(s.log))

	health := NewHealthHandler(s.deps.Health, s.config.App.Name, s.config.App.Version)
	s.router.GET("/health", health.Health)

	if s.config.Monitoring.PrometheusEnabled && s.deps.Metrics != nil {
		s.router.GET(s.config.Monitoring.PrometheusPath, gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		if s.deps.Runner != nil {
			backtests := NewBacktestHandler(s.deps.Runner, s.config.Server.RunTimeout, s.log)
			v1.POST("/backtests", backtests.Run)
		}
		if s.deps.Predictor != nil {
			predictions := NewPredictionHandler(s.deps.Predictor, s.log)
			v1.POST("/predictions", predictions.Predict)
		}
		if s.deps.Scheduler != nil {
			schedules := NewScheduleHandler(s.deps.Scheduler)
			v1.GET("/schedules", schedules.List)
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "route not found"})
	})
}

// Router exposes the handler, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.log.Info("Starting API server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Shutting down server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("Server stopped gracefully")
	return nil
}
