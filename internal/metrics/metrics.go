// Package metrics holds the Prometheus collectors for the extraction API.
// All collectors live on a private registry so that tests can create as many
// instances as they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "extraction_api"

type Metrics struct {
	registry *prometheus.Registry

	jobsStarted        prometheus.Counter
	jobsFinished       *prometheus.CounterVec
	jobsCancelled      prometheus.Counter
	recordsExtracted   prometheus.Counter
	extractionDuration *prometheus.HistogramVec
	jobsInProgress     prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.jobsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_started_total",
		Help:      "Extraction jobs created.",
	})
	m.jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Extraction runs that reached a terminal status, by status.",
	}, []string{"status"})
	m.jobsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_cancelled_total",
		Help:      "Extraction jobs cancelled by a client.",
	})
	m.recordsExtracted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_extracted_total",
		Help:      "Records persisted by completed extraction runs.",
	})
	m.extractionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "extraction_duration_seconds",
		Help:      "Wall time of extraction runs, by outcome.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30},
	}, []string{"status"})
	m.jobsInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_in_progress",
		Help:      "Extraction runs currently executing in this process.",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "code"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsStarted,
		m.jobsFinished,
		m.jobsCancelled,
		m.recordsExtracted,
		m.extractionDuration,
		m.jobsInProgress,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (used by tests to gather values).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// The recording methods below are safe on a nil *Metrics so callers can run
// without instrumentation.

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsStarted.Inc()
}

func (m *Metrics) JobCancelled() {
	if m == nil {
		return
	}
	m.jobsCancelled.Inc()
}

// RunStarted marks an extraction run as executing and returns a func that
// records its outcome.
func (m *Metrics) RunStarted() func(status string, records int) {
	if m == nil {
		return func(string, int) {}
	}
	start := time.Now()
	m.jobsInProgress.Inc()
	return func(status string, records int) {
		m.jobsInProgress.Dec()
		m.jobsFinished.WithLabelValues(status).Inc()
		m.extractionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		if records > 0 {
			m.recordsExtracted.Add(float64(records))
		}
	}
}

func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
