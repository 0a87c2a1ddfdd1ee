package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. It implements the pipeline's
// observer interface.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP API metrics
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	HTTPResponseSize *prometheus.HistogramVec

	// Fetch pipeline metrics
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CacheEvents     *prometheus.CounterVec
	RobotsDecisions *prometheus.CounterVec
	Subrequests     *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON health endpoint.
type Snapshot struct {
	Fetches       int64   `json:"fetches"`
	FetchErrors   int64   `json:"fetch_errors"`
	CacheHits     int64   `json:"cache_hits"`
	TotalDuration float64 `json:"total_duration_seconds"`
}

// NewMetrics creates metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webfetch_http_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webfetch_http_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webfetch_http_response_size_bytes",
				Help:    "API response size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"method", "path"},
		),

		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webfetch_requests_total",
				Help: "Fetch requests by rendering method and outcome code",
			},
			[]string{"method", "outcome"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webfetch_request_duration_seconds",
				Help:    "Fetch pipeline duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"method"},
		),
		CacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webfetch_cache_events_total",
				Help: "Document cache lookups and writes",
			},
			[]string{"event"},
		),
		RobotsDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webfetch_robots_decisions_total",
				Help: "robots.txt checks by decision",
			},
			[]string{"decision"},
		),
		Subrequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webfetch_subrequests_total",
				Help: "Browser subrequests by resource type and result",
			},
			[]string{"type", "result"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webfetch_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webfetch_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RegisterGaugeFunc exposes a value read on every scrape, such as browser
// pool occupancy.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// RecordHTTPRequest records an API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// Request records a finished fetch.
func (m *Metrics) Request(method, outcome string, d time.Duration) {
	m.Requests.WithLabelValues(method, outcome).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())

	m.mu.Lock()
	m.snapshot.Fetches++
	m.snapshot.TotalDuration += d.Seconds()
	if outcome != "ok" {
		m.snapshot.FetchErrors++
	}
	m.mu.Unlock()
}

// CacheEvent records a cache hit, miss or write result.
func (m *Metrics) CacheEvent(event string) {
	m.CacheEvents.WithLabelValues(event).Inc()
	if event == "hit" {
		m.mu.Lock()
		m.snapshot.CacheHits++
		m.mu.Unlock()
	}
}

// RobotsDecision records the outcome of a robots.txt check.
func (m *Metrics) RobotsDecision(decision string) {
	m.RobotsDecisions.WithLabelValues(decision).Inc()
}

// Subrequest records a browser subrequest.
func (m *Metrics) Subrequest(resourceType, result string) {
	m.Subrequests.WithLabelValues(resourceType, result).Inc()
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections.
func (m *Metrics) IncWSConnections() { m.WSConnections.Inc() }

// DecWSConnections decrements WebSocket connections.
func (m *Metrics) DecWSConnections() { m.WSConnections.Dec() }

// Snapshot returns the running totals.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
