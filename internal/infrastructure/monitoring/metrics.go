package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transport label values.
const (
	TransportPipe    = "pipe"
	TransportMailbox = "mailbox"
)

// Session status label values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Registration and session metrics
	Registrations  prometheus.Counter
	SessionsTotal  *prometheus.CounterVec
	SessionsActive *prometheus.GaugeVec

	// Worker metrics
	WorkersActive  prometheus.Gauge
	WorkerFailures prometheus.Counter

	// Classification metrics
	RequestsTotal    *prometheus.CounterVec
	ClassifyDuration *prometheus.HistogramVec

	// HTTP metrics for the observability endpoint itself
	HTTPRequests *prometheus.CounterVec

	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the health endpoint.
type Snapshot struct {
	Registrations  int64   `json:"registrations"`
	Sessions       int64   `json:"sessions"`
	ActiveSessions int64   `json:"active_sessions"`
	ActiveWorkers  int64   `json:"active_workers"`
	WorkerFailures int64   `json:"worker_failures"`
	Requests       int64   `json:"requests"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a collector backed by its own registry, so several
// servers in one process (tests) never collide on registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		Registrations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "knn_registrations_total",
				Help: "Total number of client registrations read from REQUESTS",
			},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knn_sessions_total",
				Help: "Total number of completed client sessions",
			},
			[]string{"transport", "status"},
		),
		SessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "knn_sessions_active",
				Help: "Number of sessions currently being served",
			},
			[]string{"transport"},
		),

		WorkersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "knn_workers_active",
				Help: "Number of running pipe workers",
			},
		),
		WorkerFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "knn_worker_failures_total",
				Help: "Total number of pipe workers that ended with an error or panic",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knn_requests_total",
				Help: "Total number of classified vectors",
			},
			[]string{"transport"},
		),
		ClassifyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knn_classify_duration_seconds",
				Help:    "Time spent classifying one vector",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"transport"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knn_http_requests_total",
				Help: "Total number of requests to the observability endpoint",
			},
			[]string{"method", "path", "status"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "knn_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry every metric is registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRegistration counts one token read from the accept pipe.
func (m *Metrics) RecordRegistration() {
	m.Registrations.Inc()
	m.mu.Lock()
	m.snapshot.Registrations++
	m.mu.Unlock()
}

// SessionStarted marks a session as active on transport.
func (m *Metrics) SessionStarted(transport string) {
	m.SessionsActive.WithLabelValues(transport).Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// SessionFinished records the outcome of a session on transport.
func (m *Metrics) SessionFinished(transport, status string) {
	m.SessionsActive.WithLabelValues(transport).Dec()
	m.SessionsTotal.WithLabelValues(transport, status).Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.snapshot.Sessions++
	m.mu.Unlock()
}

// WorkerStarted increments the active worker gauge.
func (m *Metrics) WorkerStarted() {
	m.WorkersActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveWorkers++
	m.mu.Unlock()
}

// WorkerFinished decrements the active worker gauge and counts failures.
func (m *Metrics) WorkerFinished(failed bool) {
	m.WorkersActive.Dec()
	if failed {
		m.WorkerFailures.Inc()
	}
	m.mu.Lock()
	m.snapshot.ActiveWorkers--
	if failed {
		m.snapshot.WorkerFailures++
	}
	m.mu.Unlock()
}

// RecordClassify records one classified vector.
func (m *Metrics) RecordClassify(transport string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(transport).Inc()
	m.ClassifyDuration.WithLabelValues(transport).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.Requests++
	m.mu.Unlock()
}

// RecordHTTPRequest records a request to the observability endpoint.
func (m *Metrics) RecordHTTPRequest(method, path, status string) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
}

// Snapshot returns a copy of the tracked values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
