package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/extraction-api/internal/config"
	"github.com/ahmethakanbesel/extraction-api/internal/extractor/mock"
	"github.com/ahmethakanbesel/extraction-api/internal/job"
	"github.com/ahmethakanbesel/extraction-api/internal/metrics"
	"github.com/ahmethakanbesel/extraction-api/internal/platform/sqlite"
	jobrepo "github.com/ahmethakanbesel/extraction-api/internal/repository/job"
)

func main() {
	// Cancelled on SIGINT/SIGTERM so the worker pool and in-flight requests
	// stop promptly during graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:          "extraction-api",
		Short:        "Extraction job API",
		Long:         "Starts, tracks and stores data extraction jobs against a third-party user directory.",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}

	root.AddCommand(serve, newSeedCmd(), newProcessCmd())
	return root
}

// app holds the components shared by every command.
type app struct {
	cfg     config.Config
	db      *sqlite.DB
	repo    *jobrepo.Repository
	metrics *metrics.Metrics
	svc     *job.Service
}

func newApp() (*app, error) {
	cfg := config.Load()
	slog.SetDefault(cfg.Logger(os.Stderr))

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	repo := jobrepo.NewRepository(db.DB)
	m := metrics.New()
	ex := mock.New(mock.WithDelayUnit(cfg.DelayUnit))

	return &app{
		cfg:     cfg,
		db:      db,
		repo:    repo,
		metrics: m,
		svc:     job.NewService(repo, ex, job.WithMetrics(m)),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		slog.Error("close database", "error", err)
	}
}
