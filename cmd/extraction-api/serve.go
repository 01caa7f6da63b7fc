package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/extraction-api/internal/job"
	"github.com/ahmethakanbesel/extraction-api/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.AutoProcess {
		pool := job.NewWorkerPool(a.repo, a.svc, a.cfg.Workers)
		a.svc.SetNotify(pool.Notify)

		// Re-queue runs interrupted by the previous shutdown.
		if err := a.svc.RecoverStaleJobs(ctx); err != nil {
			slog.Error("failed to recover stale jobs", "error", err)
		}

		g.Go(func() error {
			pool.Run(ctx)
			return nil
		})
		pool.Notify()
	} else {
		slog.Info("auto processing disabled, jobs run through the process endpoint")
	}

	srv := server.New(ctx, a.cfg.Port, a.svc, a.metrics)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("server started", "port", a.cfg.Port, "workers", a.cfg.Workers, "auto_process", a.cfg.AutoProcess)
	err := g.Wait()
	slog.Info("server stopped")
	return err
}
