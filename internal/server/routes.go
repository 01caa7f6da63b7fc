package server

import (
	"net/http"

	"github.com/ahmethakanbesel/extraction-api/internal/job"
	"github.com/ahmethakanbesel/extraction-api/internal/metrics"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(jobSvc *job.Service, m *metrics.Metrics) http.Handler {
	return newMux(jobSvc, m)
}

func newMux(jobSvc *job.Service, m *metrics.Metrics) http.Handler {
	h := &handler{jobSvc: jobSvc}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /scan/start/{$}", h.startExtraction)
	mux.HandleFunc("GET /scan/status/{id}/{$}", h.getStatus)
	mux.HandleFunc("GET /scan/result/{id}/{$}", h.getResults)
	mux.HandleFunc("POST /scan/cancel/{id}/{$}", h.cancelJob)
	mux.HandleFunc("DELETE /scan/remove/{id}/{$}", h.removeJob)
	mux.HandleFunc("POST /scan/process/{id}/{$}", h.processJob)

	mux.HandleFunc("GET /jobs/jobs/{$}", h.listJobs)
	mux.HandleFunc("GET /jobs/statistics/{$}", h.statistics)
	mux.HandleFunc("GET /jobs/{$}", h.legacyListJobs)
	mux.HandleFunc("POST /jobs/{$}", h.legacyCreateJob)

	mux.HandleFunc("GET /health/{$}", h.health)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	// Apply middleware stack: recovery -> requestID -> logging -> instrument
	var handler http.Handler = mux
	handler = instrument(m)(handler)
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
