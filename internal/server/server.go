package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ahmethakanbesel/extraction-api/internal/job"
	"github.com/ahmethakanbesel/extraction-api/internal/metrics"
)

type Server struct {
	srv *http.Server
}

// New creates the extraction API server. Requests derive from baseCtx, so
// cancelling it stops reads and listings that are still in flight. A job run
// started through /scan/process is detached from it and finishes, or is left
// in_progress for RecoverStaleJobs, on its own terms.
func New(baseCtx context.Context, port string, jobSvc *job.Service, m *metrics.Metrics) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%s", port),
			Handler: newMux(jobSvc, m),
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting connections and waits for active requests until
// ctx expires. Queued jobs stay pending in the store for the next start.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	return s.srv.Shutdown(ctx)
}
