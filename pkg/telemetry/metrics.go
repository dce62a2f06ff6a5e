package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Gantry.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	plansComputed *prometheus.CounterVec
	planDuration  prometheus.Histogram

	// Render and assembly metrics
	rendersTotal    prometheus.Counter
	renderDuration  prometheus.Histogram
	assembliesTotal *prometheus.CounterVec

	// Drift metrics
	driftClassifications *prometheus.CounterVec
	driftDetections      *prometheus.CounterVec
	correctiveActions    *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		plansComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_computed_total",
				Help:      "Total number of plans computed, by outcome (noop, changes, error).",
			},
			[]string{"outcome"},
		),
		planDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_duration_seconds",
				Help:      "Duration of plan computation in seconds.",
				Buckets:   buckets,
			},
		),

		rendersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Total number of service descriptor renders.",
			},
		),
		renderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Duration of compose assembly in seconds.",
				Buckets:   buckets,
			},
		),
		assembliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assemblies_total",
				Help:      "Total number of compose assemblies, by mode (full, subset).",
			},
			[]string{"mode"},
		),

		driftClassifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_classifications_total",
				Help:      "Total drift classifications, by class.",
			},
			[]string{"class"},
		),
		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total drift detection passes, by result (clean, dirty, unknown).",
			},
			[]string{"result"},
		),
		correctiveActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corrective_actions_total",
				Help:      "Total corrective actions, by type and result.",
			},
			[]string{"action", "result"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total errors by classification.",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total errors by error code.",
			},
			[]string{"code"},
		),
	}

	m.registry.MustRegister(
		m.plansComputed,
		m.planDuration,
		m.rendersTotal,
		m.renderDuration,
		m.assembliesTotal,
		m.driftClassifications,
		m.driftDetections,
		m.correctiveActions,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// RecordPlanComputed records one plan computation.
func (m *Metrics) RecordPlanComputed(outcome string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.plansComputed.WithLabelValues(outcome).Inc()
	m.planDuration.Observe(duration.Seconds())
}

// RecordRender records one service descriptor render.
func (m *Metrics) RecordRender() {
	if m.registry == nil {
		return
	}
	m.rendersTotal.Inc()
}

// RecordAssembly records one compose assembly.
func (m *Metrics) RecordAssembly(mode string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.assembliesTotal.WithLabelValues(mode).Inc()
	m.renderDuration.Observe(duration.Seconds())
}

// RecordDriftClassification records one classified drift item.
func (m *Metrics) RecordDriftClassification(class string) {
	if m.registry == nil {
		return
	}
	m.driftClassifications.WithLabelValues(class).Inc()
}

// RecordDriftDetection records one drift detection pass.
func (m *Metrics) RecordDriftDetection(result string) {
	if m.registry == nil {
		return
	}
	m.driftDetections.WithLabelValues(result).Inc()
}

// RecordCorrectiveAction records one corrective action attempt.
func (m *Metrics) RecordCorrectiveAction(action, result string) {
	if m.registry == nil {
		return
	}
	m.correctiveActions.WithLabelValues(action, result).Inc()
}

// RecordError records an error by class and code.
func (m *Metrics) RecordError(class, code string) {
	if m.registry == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server. It blocks until the server
// stops, so callers run it in their own goroutine when they want one.
func (m *Metrics) StartServer() error {
	if m.registry == nil {
		return fmt.Errorf("metrics are disabled")
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
