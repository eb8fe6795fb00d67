package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for agentai.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Dispatch metrics: one observation per call, labelled by operation
	// name and outcome ("success" or the failure kind).
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	DispatchInFlight prometheus.Gauge

	// Failure share per operation over the anomaly window. Only set when
	// anomaly detection is enabled.
	DispatchErrorRate *prometheus.GaugeVec

	// Containment rejections by operation.
	ContainmentRejectionsTotal *prometheus.CounterVec

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec
	SandboxOutputTruncated   *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentai",
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Total dispatched calls by operation and outcome.",
		}, []string{"operation", "outcome"}),

		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentai",
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Dispatched call duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"operation"}),

		DispatchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentai",
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Calls currently being dispatched.",
		}),

		DispatchErrorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentai",
			Subsystem: "dispatch",
			Name:      "error_rate",
			Help:      "Share of failed calls per operation within the anomaly window.",
		}, []string{"operation"}),

		ContainmentRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentai",
			Subsystem: "security",
			Name:      "containment_rejections_total",
			Help:      "Paths rejected for resolving outside the working root.",
		}, []string{"operation"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentai",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions.",
		}, []string{"type", "status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentai",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"type"}),

		SandboxOutputTruncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentai",
			Subsystem: "sandbox",
			Name:      "output_truncated_total",
			Help:      "Executions whose captured output hit the cap, by stream.",
		}, []string{"stream"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentai",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentai",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.DispatchTotal,
		m.DispatchDuration,
		m.DispatchInFlight,
		m.DispatchErrorRate,
		m.ContainmentRejectionsTotal,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.SandboxOutputTruncated,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// ObserveDispatch records one finished call. Nil-safe.
func (m *MetricsCollector) ObserveDispatch(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(operation, outcome).Inc()
	m.DispatchDuration.WithLabelValues(operation).Observe(seconds)
	if outcome == "containment_violation" {
		m.ContainmentRejectionsTotal.WithLabelValues(operation).Inc()
	}
}

// SetErrorRate publishes the windowed failure share of operation. Nil-safe.
func (m *MetricsCollector) SetErrorRate(operation string, rate float64) {
	if m == nil {
		return
	}
	m.DispatchErrorRate.WithLabelValues(operation).Set(rate)
}
