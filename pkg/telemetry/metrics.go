package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the Weld mutation pipeline.
type Metrics struct {
	config MetricsConfig

	// Retry metrics
	retryAttempts *prometheus.CounterVec

	// Sandbox lifecycle metrics
	sandboxResolves   *prometheus.CounterVec
	sandboxRecreated  prometheus.Counter
	restoreFailures   prometheus.Counter
	resolveDuration   prometheus.Histogram

	// Schema pipeline metrics
	schemaRuns     *prometheus.CounterVec
	schemaDuration prometheus.Histogram

	// Patch metrics
	patchApplies     *prometheus.CounterVec
	validationLoops  prometheus.Histogram

	// Failure classification metrics
	failuresByKind *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "weld"
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retry attempts by operation and failure kind",
		}, []string{"operation", "kind"}),

		sandboxResolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_resolves_total",
			Help:      "Sandbox resolutions by outcome (connected, recreated, failed)",
		}, []string{"outcome"}),

		sandboxRecreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_recreations_total",
			Help:      "Sandboxes recreated after reconnection failure",
		}),

		restoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_restore_failures_total",
			Help:      "Snapshot entries that failed to replay during recreation",
		}),

		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_resolve_duration_seconds",
			Help:      "Duration of sandbox resolution including restore",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		schemaRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_runs_total",
			Help:      "Schema provisioning runs by final state",
		}, []string{"state"}),

		schemaDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "schema_run_duration_seconds",
			Help:      "Duration of schema provisioning runs",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 90},
		}),

		patchApplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_applies_total",
			Help:      "Patch applications by outcome (applied, rejected, stale)",
		}, []string{"outcome"}),

		validationLoops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_loop_iterations",
			Help:      "Compile-check iterations per validation loop",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),

		failuresByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Classified failures by kind and retryability",
		}, []string{"kind", "retryable"}),
	}

	collectors := []prometheus.Collector{
		m.retryAttempts, m.sandboxResolves, m.sandboxRecreated,
		m.restoreFailures, m.resolveDuration, m.schemaRuns,
		m.schemaDuration, m.patchApplies, m.validationLoops,
		m.failuresByKind,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// RecordRetry records a retry attempt for an operation.
func (m *Metrics) RecordRetry(operation, kind string) {
	if m.retryAttempts == nil {
		return
	}
	m.retryAttempts.WithLabelValues(operation, kind).Inc()
}

// RecordResolve records a sandbox resolution outcome and duration.
func (m *Metrics) RecordResolve(outcome string, recreated bool, duration time.Duration) {
	if m.sandboxResolves == nil {
		return
	}
	m.sandboxResolves.WithLabelValues(outcome).Inc()
	if recreated {
		m.sandboxRecreated.Inc()
	}
	m.resolveDuration.Observe(duration.Seconds())
}

// RecordRestoreFailure records a single snapshot entry that failed to replay.
func (m *Metrics) RecordRestoreFailure() {
	if m.restoreFailures == nil {
		return
	}
	m.restoreFailures.Inc()
}

// RecordSchemaRun records a schema provisioning run.
func (m *Metrics) RecordSchemaRun(state string, duration time.Duration) {
	if m.schemaRuns == nil {
		return
	}
	m.schemaRuns.WithLabelValues(state).Inc()
	m.schemaDuration.Observe(duration.Seconds())
}

// RecordPatchApply records a patch application outcome.
func (m *Metrics) RecordPatchApply(outcome string) {
	if m.patchApplies == nil {
		return
	}
	m.patchApplies.WithLabelValues(outcome).Inc()
}

// RecordValidationIterations records how many compile-check rounds a
// validation loop took.
func (m *Metrics) RecordValidationIterations(n int) {
	if m.validationLoops == nil {
		return
	}
	m.validationLoops.Observe(float64(n))
}

// RecordFailure records a classified failure.
func (m *Metrics) RecordFailure(kind string, retryable bool) {
	if m.failuresByKind == nil {
		return
	}
	m.failuresByKind.WithLabelValues(kind, fmt.Sprintf("%t", retryable)).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. It blocks until the server stops.
func (m *Metrics) Serve() error {
	if !m.config.Enabled {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
