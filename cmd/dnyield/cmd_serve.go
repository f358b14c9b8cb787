package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deltayield/internal/api"
	"deltayield/internal/logger"
	"deltayield/internal/scheduler"
)

// serveCmd implements 'dnyield serve'
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the backtest scheduler",
	Long: `Serve backtests and predictions over HTTP and run the configured schedules
until SIGINT or SIGTERM.

Endpoints:
  POST /api/v1/backtests
  POST /api/v1/predictions
  GET  /api/v1/schedules
  GET  /health
  GET  /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close()

	sched := scheduler.New(a.engine,
		scheduler.WithMetrics(a.metrics),
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithRunTimeout(cfg.Server.RunTimeout),
	)
	for _, job := range cfg.Schedules {
		if err := sched.AddJob(job); err != nil {
			return err
		}
	}

	srv := api.NewServer(cfg, api.Dependencies{
		Runner:    a.engine,
		Predictor: a.newPredictor(),
		Metrics:   a.metrics,
		Health:    a.health,
		Scheduler: sched,
		Logger:    logger.Named("api"),
	})

	a.log.Info("Starting dnyield",
		"version", cfg.App.Version,
		"env", cfg.App.Env,
		"data_mode", string(cfg.Data.Mode),
		"schedules", len(cfg.Schedules),
	)

	sched.Start()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.log.Info("Received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		sched.Stop()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Stop(ctx); err != nil {
		a.log.Error("Server forced to shutdown", "error", err)
		return err
	}
	return <-errCh
}
