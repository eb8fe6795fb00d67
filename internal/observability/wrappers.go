package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jazzman94/agentai/internal/sandbox"
)

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics and tracing.
type InstrumentedSandbox struct {
	inner       sandbox.Sandbox
	sandboxType string
	metrics     *MetricsCollector
	tracer      trace.Tracer
}

// NewInstrumentedSandbox wraps a sandbox with observability. Any of
// metrics or ts may be nil.
func NewInstrumentedSandbox(inner sandbox.Sandbox, sandboxType string, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:       inner,
		sandboxType: sandboxType,
		metrics:     metrics,
		tracer:      tracer,
	}
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	var span trace.Span
	if s.tracer != nil {
		program := ""
		if len(req.Command) > 0 {
			program = req.Command[0]
		}
		ctx, span = s.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.String("sandbox.type", s.sandboxType),
				attribute.String("sandbox.program", program),
			))
	}

	start := time.Now()
	result, err := s.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := sandboxStatus(result, err)
	if span != nil {
		var attrs []attribute.KeyValue
		if result != nil {
			attrs = append(attrs, attribute.Int("sandbox.exit_code", result.ExitCode))
		}
		EndSpan(span, err, attrs...)
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(s.sandboxType, status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(s.sandboxType).Observe(duration)
		if result != nil && result.StdoutTruncated {
			s.metrics.SandboxOutputTruncated.WithLabelValues("stdout").Inc()
		}
		if result != nil && result.StderrTruncated {
			s.metrics.SandboxOutputTruncated.WithLabelValues("stderr").Inc()
		}
	}

	return result, err
}

func sandboxStatus(result *sandbox.ExecutionResult, err error) string {
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		return "timeout"
	case err != nil:
		return "error"
	case result != nil && result.ExitCode != 0:
		return "nonzero_exit"
	default:
		return "success"
	}
}

var _ sandbox.Sandbox = (*InstrumentedSandbox)(nil)
