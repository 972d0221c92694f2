package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the chainlog store. Metrics
// register against an explicit registry so tests can build isolated
// instances.
type Metrics struct {
	Registry *prometheus.Registry

	// Append path metrics
	AppendsTotal   *prometheus.CounterVec
	AppendFailures prometheus.Counter
	AppendDuration prometheus.Histogram
	ChainLength    prometheus.Gauge
	LogSizeBytes   prometheus.Gauge

	// Rotation metrics
	RotationsTotal        prometheus.Counter
	RotationFailuresTotal prometheus.Counter

	// Replication metrics
	ReplicationUploadsTotal  prometheus.Counter
	ReplicationFailuresTotal prometheus.Counter
	ReplicationQueueLength   prometheus.Gauge

	// Verification metrics
	VerifyRunsTotal       prometheus.Counter
	TamperDetectionsTotal prometheus.Counter

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ComponentHealth *prometheus.GaugeVec
}

// New creates and registers all chainlog metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		AppendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainlog_appends_total",
				Help: "Total number of log entries appended",
			},
			[]string{"level"},
		),

		AppendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chainlog_append_failures_total",
				Help: "Total number of rejected or failed appends",
			},
		),

		AppendDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chainlog_append_duration_seconds",
				Help:    "Time spent on the full append sequence",
				Buckets: prometheus.DefBuckets,
			},
		),

		ChainLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainlog_chain_length",
				Help: "Number of blocks in the hash chain",
			},
		),

		LogSizeBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainlog_log_size_bytes",
				Help: "Size of the live append log in bytes",
			},
		),

		RotationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chainlog_rotations_total",
				Help: "Total number of completed log rotations",
			},
		),

		RotationFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chainlog_rotation_failures_total",
				Help: "Total number of aborted log rotations",
			},
		),

		ReplicationUploadsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chainlog_replication_uploads_total",
				Help: "Total number of blocks and archives uploaded",
			},
		),

		ReplicationFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chainlog_replication_failures_total",
				Help: "Total number of failed uploads",
			},
		),

		ReplicationQueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainlog_replication_queue_length",
				Help: "Number of tasks waiting in the replication queue",
			},
		),

		VerifyRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chainlog_verify_runs_total",
				Help: "Total number of chain verification runs",
			},
		),

		TamperDetectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chainlog_tamper_detections_total",
				Help: "Total number of verification runs that found a broken chain",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainlog_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainlog_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainlog_component_health",
				Help: "Health status of application components (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),
	}
}

// UpdateComponentHealth sets a component's health gauge.
func (m *Metrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}
