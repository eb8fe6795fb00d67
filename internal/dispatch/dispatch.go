// Package dispatch routes named calls from an orchestrator to the registered
// tools. It is the only entry point into the operations: it injects the
// working root, validates argument shape, and converts every outcome
// (including panics) into a tools.Result.
package dispatch

import (
	"context"
	"log/slog"
	"maps"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Jazzman94/agentai/internal/audit"
	"github.com/Jazzman94/agentai/internal/observability"
	"github.com/Jazzman94/agentai/internal/tools"
)

const (
	defaultBatchLimit = 8

	// unknownLabel replaces unregistered names in metrics and anomaly windows
	// so arbitrary caller input cannot grow label cardinality.
	unknownLabel = "unknown"
)

// Call is a single named request from the orchestrator.
type Call struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Envelope is the JSON form of a finished call.
type Envelope struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Output   string          `json:"output"`
	Success  bool            `json:"success"`
	Kind     tools.ErrorKind `json:"kind,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// NewEnvelope pairs a call with its result.
func NewEnvelope(call Call, r *tools.Result) Envelope {
	return Envelope{
		ID:       call.ID,
		Name:     call.Name,
		Output:   r.Output,
		Success:  r.Success,
		Kind:     r.Kind,
		Metadata: r.Metadata,
	}
}

// Dispatcher routes calls to tools. Safe for concurrent use.
type Dispatcher struct {
	registry   *tools.Registry
	logger     *slog.Logger
	metrics    *observability.MetricsCollector
	tracer     trace.Tracer
	anomaly    *observability.AnomalyDetector
	recorder   audit.Recorder
	batchLimit int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Without it, log output is discarded.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics enables Prometheus recording.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer enables a dispatch.call span per call.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithAnomaly enables failure-rate detection per operation.
func WithAnomaly(a *observability.AnomalyDetector) Option {
	return func(d *Dispatcher) { d.anomaly = a }
}

// WithAudit records every call to r.
func WithAudit(r audit.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithBatchLimit caps how many calls DispatchAll runs at once.
func WithBatchLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchLimit = n
		}
	}
}

// New creates a Dispatcher over reg.
func New(reg *tools.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   reg,
		logger:     slog.New(slog.DiscardHandler),
		batchLimit: defaultBatchLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Definitions returns the declared schema of every registered tool.
func (d *Dispatcher) Definitions() []tools.Definition {
	return d.registry.Definitions()
}

// Dispatch runs one call against root and always returns a result.
// root must be the canonical working root; callers never choose it through Args.
// When call.ID is empty a fresh ID is assigned.
func (d *Dispatcher) Dispatch(ctx context.Context, root string, call *Call) *tools.Result {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}

	tool := d.registry.Get(call.Name)
	label := call.Name
	if tool == nil {
		label = unknownLabel
	}

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "dispatch.call",
			trace.WithAttributes(
				attribute.String("call.id", call.ID),
				attribute.String("call.operation", label),
			))
		defer span.End()
	}

	if d.metrics != nil {
		d.metrics.DispatchInFlight.Inc()
		defer d.metrics.DispatchInFlight.Dec()
	}

	start := time.Now()
	var result *tools.Result
	if tool == nil {
		result = tools.Failure(tools.NewError(tools.KindUnknownOp, nil, "Error: Unknown function: %s", call.Name))
	} else {
		result = d.run(ctx, tool, root, call.Args)
	}
	took := time.Since(start)

	d.finish(ctx, root, call, label, result, took)
	return result
}

// run executes tool with the root injected, converting errors and panics.
func (d *Dispatcher) run(ctx context.Context, tool tools.Tool, root string, args map[string]any) (result *tools.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "tool panicked",
				slog.String("operation", tool.Name()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = tools.Failure(tools.NewError(tools.KindInternal, nil,
				"Error: internal failure in %s: %v", tool.Name(), r))
		}
	}()

	params := make(map[string]any, len(args)+1)
	maps.Copy(params, args)
	params[tools.RootParam] = root

	if err := tool.Validate(params); err != nil {
		return tools.Failure(tools.NewError(tools.KindInvalidArgument, nil,
			"Error: invalid arguments for %s: %s", tool.Name(), err.Error()))
	}

	res, err := tool.Execute(ctx, params)
	if err != nil {
		return tools.Failure(err)
	}
	if res == nil {
		return tools.Failure(tools.NewError(tools.KindInternal, nil,
			"Error: %s returned no result", tool.Name()))
	}
	return res
}

// finish logs, counts, traces and audits a completed call.
func (d *Dispatcher) finish(ctx context.Context, root string, call *Call, label string, result *tools.Result, took time.Duration) {
	outcome := "success"
	if !result.Success {
		outcome = string(result.Kind)
	}

	level := slog.LevelInfo
	if !result.Success {
		level = slog.LevelWarn
	}
	d.logger.Log(ctx, level, "call dispatched",
		slog.String("call_id", call.ID),
		slog.String("operation", call.Name),
		slog.String("outcome", outcome),
		slog.Duration("duration", took),
	)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("call.outcome", outcome),
			attribute.Bool("call.success", result.Success),
		)
		if !result.Success {
			span.SetStatus(codes.Error, outcome)
		}
	}

	d.metrics.ObserveDispatch(label, outcome, took.Seconds())

	if d.anomaly != nil {
		if result.Success {
			d.anomaly.RecordSuccess(label)
		} else {
			d.anomaly.RecordError(label)
		}
		d.metrics.SetErrorRate(label, d.anomaly.ErrorRate(label))
	}

	if d.recorder != nil {
		e := audit.NewEntry(call.ID, call.Name, root, call.Args, result.Success, string(result.Kind), result.Output, took)
		e.Caller = audit.CallerFrom(ctx)
		if err := d.recorder.Record(ctx, e); err != nil {
			d.logger.ErrorContext(ctx, "audit record failed",
				slog.String("call_id", call.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// DispatchAll runs calls concurrently, at most the batch limit at once.
// Results are returned in input order. Calls without an ID get one assigned.
func (d *Dispatcher) DispatchAll(ctx context.Context, root string, calls []Call) []*tools.Result {
	results := make([]*tools.Result, len(calls))

	var g errgroup.Group
	g.SetLimit(d.batchLimit)
	for i := range calls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = tools.Failure(tools.NewError(tools.KindInternal, err,
					"Error: call %s not started", calls[i].Name))
				return nil
			}
			results[i] = d.Dispatch(ctx, root, &calls[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

