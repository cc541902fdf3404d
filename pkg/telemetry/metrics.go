package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for resgen.
// All methods are safe on a nil or disabled instance.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	activeOperations    prometheus.Gauge

	// Discovery metrics
	providersDiscovered prometheus.Gauge
	discoveryFailures   *prometheus.CounterVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Artifact metrics
	artifactsCreated *prometheus.CounterVec
	artifactsChanged *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Total number of orchestrated operations started",
			},
			[]string{"operation"},
		),
		operationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_completed_total",
				Help:      "Total number of orchestrated operations completed",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of orchestrated operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of running operations",
			},
		),
		providersDiscovered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "providers_discovered",
				Help:      "Number of providers found by the last discovery pass",
			},
		),
		discoveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_failures_total",
				Help:      "Total number of partial discovery failures",
			},
			[]string{"source"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of failed provider runs",
			},
			[]string{"provider", "class"},
		),
		artifactsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_created_total",
				Help:      "Total number of artifacts created by providers",
			},
			[]string{"provider"},
		),
		artifactsChanged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_changed_total",
				Help:      "Total number of artifacts changed by providers",
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		m.operationsStarted,
		m.operationsCompleted,
		m.operationDuration,
		m.activeOperations,
		m.providersDiscovered,
		m.discoveryFailures,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.artifactsCreated,
		m.artifactsChanged,
	)

	return m, nil
}

// RecordOperationStarted increments the started counter for an operation.
func (m *Metrics) RecordOperationStarted(operation string) {
	if m == nil || m.operationsStarted == nil {
		return
	}
	m.operationsStarted.WithLabelValues(operation).Inc()
	m.activeOperations.Inc()
}

// RecordOperationCompleted records a completed operation with its status and duration.
func (m *Metrics) RecordOperationCompleted(operation, status string, duration time.Duration) {
	if m == nil || m.operationsCompleted == nil {
		return
	}
	m.operationsCompleted.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// SetProvidersDiscovered sets the size of the last discovered provider set.
func (m *Metrics) SetProvidersDiscovered(count int) {
	if m == nil || m.providersDiscovered == nil {
		return
	}
	m.providersDiscovered.Set(float64(count))
}

// RecordDiscoveryFailure records a partial enumeration failure of a source.
func (m *Metrics) RecordDiscoveryFailure(source string) {
	if m == nil || m.discoveryFailures == nil {
		return
	}
	m.discoveryFailures.WithLabelValues(source).Inc()
}

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(provider, operation string, duration time.Duration) {
	if m == nil || m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a failed provider run by error class.
func (m *Metrics) RecordProviderError(provider, class string) {
	if m == nil || m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, class).Inc()
}

// RecordArtifacts adds a provider's created and changed counts.
func (m *Metrics) RecordArtifacts(provider string, created, changed int) {
	if m == nil || m.artifactsCreated == nil {
		return
	}
	m.artifactsCreated.WithLabelValues(provider).Add(float64(created))
	m.artifactsChanged.WithLabelValues(provider).Add(float64(changed))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewServer returns an HTTP server exposing the metrics endpoint on addr.
// An empty addr uses the configured listen address.
func (m *Metrics) NewServer(addr string) *http.Server {
	if addr == "" {
		addr = m.config.ListenAddress
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
