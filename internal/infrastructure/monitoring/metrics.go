package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Execution metrics
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	Runs              *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec

	// Preview metrics
	Renders        *prometheus.CounterVec
	RenderDuration prometheus.Histogram
	Console        *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON stats endpoint
type Snapshot struct {
	TotalRequests     int64            `json:"totalRequests"`
	TotalErrors       int64            `json:"totalErrors"`
	ActiveConnections int64            `json:"activeConnections"`
	Executions        map[string]int64 `json:"executions"`
	Renders           int64            `json:"renders"`
	RenderFailures    int64            `json:"renderFailures"`
	UptimeSeconds     float64          `json:"uptimeSeconds"`
}

var latencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// NewMetrics registers the collectors with reg. Pass prometheus.NewRegistry()
// in tests so instances don't collide on the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),
		snapshot:  Snapshot{Executions: map[string]int64{}},

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Execution metrics
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_executions_total",
				Help: "Execute calls by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_execution_duration_seconds",
				Help:    "Execute call duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"strategy"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_isolated_runs_total",
				Help: "Isolated runs by terminal state",
			},
			[]string{"state"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_isolated_run_duration_seconds",
				Help:    "Isolated run duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"state"},
		),

		// Preview metrics
		Renders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_preview_renders_total",
				Help: "Preview renders by status",
			},
			[]string{"status"},
		),
		RenderDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sandbox_preview_render_duration_seconds",
				Help:    "Preview render duration in seconds",
				Buckets: latencyBuckets,
			},
		),
		Console: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_console_messages_total",
				Help: "Console messages relayed by strategy and channel",
			},
			[]string{"strategy", "channel"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandbox_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sandbox_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// ObserveExecute records one router Execute call
func (m *Metrics) ObserveExecute(strategy sandbox.Strategy, outcome string, d time.Duration) {
	m.Executions.WithLabelValues(string(strategy), outcome).Inc()
	m.ExecutionDuration.WithLabelValues(string(strategy)).Observe(d.Seconds())

	m.mu.Lock()
	m.snapshot.Executions[outcome]++
	m.mu.Unlock()
}

// ObserveRun records one finished isolated run
func (m *Metrics) ObserveRun(_ sandbox.Strategy, state sandbox.State, d time.Duration) {
	m.Runs.WithLabelValues(state.String()).Inc()
	m.RunDuration.WithLabelValues(state.String()).Observe(d.Seconds())
}

// ObserveRender records one preview render
func (m *Metrics) ObserveRender(err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.Renders.WithLabelValues(status).Inc()
	m.RenderDuration.Observe(d.Seconds())

	m.mu.Lock()
	m.snapshot.Renders++
	if err != nil {
		m.snapshot.RenderFailures++
	}
	m.mu.Unlock()
}

// ObserveConsole records one relayed console message
func (m *Metrics) ObserveConsole(strategy sandbox.Strategy, channel sandbox.Channel) {
	m.Console.WithLabelValues(string(strategy), string(channel)).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.Executions = make(map[string]int64, len(m.snapshot.Executions))
	for k, v := range m.snapshot.Executions {
		s.Executions[k] = v
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
