package observability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Jazzman94/agentai/internal/config"
	"github.com/Jazzman94/agentai/internal/sandbox"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
	// Accessors on nil must not panic.
	if obs.MetricsOrNil() != nil || obs.TracerOrNil() != nil || obs.AnomalyOrNil() != nil || obs.HealthOrNil() != nil {
		t.Error("nil Observability returned non-nil components")
	}
	if obs.TraceAPI() != nil {
		t.Error("nil Observability returned a tracer")
	}
	obs.Shutdown(context.Background())
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Anomaly != nil {
		t.Error("anomaly should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestNew_MetricsAndAnomaly(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
		Anomaly: &config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.5},
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.MetricsOrNil() == nil {
		t.Error("metrics should be enabled")
	}
	if obs.AnomalyOrNil() == nil {
		t.Error("anomaly should be enabled")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_ObserveDispatch(t *testing.T) {
	m := NewMetricsCollector()

	m.ObserveDispatch("write_file", "success", 0.01)
	m.ObserveDispatch("write_file", "success", 0.02)
	m.ObserveDispatch("get_file_content", "containment_violation", 0.001)

	if v := counterValue(t, m.Registry, "agentai_dispatch_calls_total", prometheus.Labels{"operation": "write_file", "outcome": "success"}); v != 2 {
		t.Errorf("write_file success = %v, want 2", v)
	}
	if v := counterValue(t, m.Registry, "agentai_security_containment_rejections_total", prometheus.Labels{"operation": "get_file_content"}); v != 1 {
		t.Errorf("containment rejections = %v, want 1", v)
	}
}

func TestMetricsCollector_NilSafe(t *testing.T) {
	var m *MetricsCollector
	m.ObserveDispatch("write_file", "success", 0.01)
	m.SetErrorRate("write_file", 0.5)
}

// --- Tracing ---

func TestTracerSetup_Disabled(t *testing.T) {
	ts, err := NewTracerSetup(&config.TracingConfig{Enabled: false})
	if err != nil || ts != nil {
		t.Fatalf("NewTracerSetup(disabled) = %v, %v", ts, err)
	}
	// A nil setup hands out a usable no-op tracer.
	_, span := ts.Tracer().Start(context.Background(), "noop")
	span.End()
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown(nil) = %v", err)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	ts, err := NewTracerSetupWithExporter("test", exp)
	if err != nil {
		t.Fatal(err)
	}
	defer ts.Shutdown(context.Background())

	_, span := ts.Tracer().Start(context.Background(), "op")
	EndSpan(span, errors.New("boom"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "op" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if len(spans[0].Events) == 0 {
		t.Error("error was not recorded as a span event")
	}
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	if status := h.CheckReady(context.Background()); status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("audit", func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddCheck("workdir", WorkdirCheck(t.TempDir()))

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["audit"].Status != "fail" {
		t.Errorf("audit check = %q, want fail", status.Checks["audit"].Status)
	}
	if status.Checks["workdir"].Status != "ok" {
		t.Errorf("workdir check = %q, want ok", status.Checks["workdir"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	if status := NewHealthChecker(nil).CheckHealth(); status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

func TestWorkdirCheck_Missing(t *testing.T) {
	if err := WorkdirCheck("/nonexistent/agentai/root")(context.Background()); err == nil {
		t.Error("expected error for missing workdir")
	}
}

func TestHealthChecker_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthChecker(nil)
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for _, name := range []string{"a", "b"} {
		h.AddCheck(name, func(ctx context.Context) error {
			started.Done()
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	go func() {
		// Both checks must be running at once before either may finish.
		started.Wait()
		close(release)
	}()
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %+v, want ok", status)
	}
}

func TestHealthChecker_ReplaceCheck(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("store", func(context.Context) error { return errors.New("down") })
	h.AddCheck("store", func(context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" || len(status.Checks) != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestWorkdirCheck_ReadOnly(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0700) })

	if err := WorkdirCheck(dir)(context.Background()); err == nil {
		t.Error("expected error for read-only workdir")
	}
}

func TestInterpreterCheck_Missing(t *testing.T) {
	if err := InterpreterCheck("agentai-no-such-interpreter")(context.Background()); err == nil {
		t.Error("expected error for missing interpreter")
	}
}

// --- AnomalyDetector ---

func TestAnomalyDetector_NilSafe(t *testing.T) {
	var a *AnomalyDetector
	if a.RecordError("test") {
		t.Error("nil detector reported an anomaly")
	}
	a.RecordSuccess("test")
	if a.ErrorRate("test") != 0 {
		t.Error("nil detector reported a rate")
	}
}

func TestAnomalyDetector_ErrorRateThreshold(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:            true,
		ErrorRateThreshold: 0.5,
		WindowSeconds:      60,
	}, nil)

	for i := 0; i < 4; i++ {
		a.RecordSuccess("run_python_file")
	}
	var flagged bool
	for i := 0; i < 6; i++ {
		flagged = a.RecordError("run_python_file")
	}
	if !flagged {
		t.Error("60% failure rate not flagged with a 50% threshold")
	}
	if rate := a.ErrorRate("run_python_file"); rate != 0.6 {
		t.Errorf("ErrorRate = %v, want 0.6", rate)
	}
}

func TestAnomalyDetector_NotEnoughSamples(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.1}, nil)
	for i := 0; i < minSamples-1; i++ {
		if a.RecordError("write_file") {
			t.Fatalf("flagged after %d samples", i+1)
		}
	}
}

func TestAnomalyDetector_WindowExpiry(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	a := NewAnomalyDetector(&config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.5, WindowSeconds: 60}, logger)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for i := 0; i < minSamples; i++ {
		a.RecordError("run_python_file")
	}
	if got := strings.Count(logs.String(), "anomaly detected"); got != 1 {
		t.Errorf("anomaly logged %d times, want once per crossing", got)
	}

	now = now.Add(2 * time.Minute)
	if a.ErrorRate("run_python_file") != 0 {
		t.Error("failures outside the window still counted")
	}
	for i := 0; i < minSamples; i++ {
		a.RecordSuccess("run_python_file")
	}
	if !strings.Contains(logs.String(), "back under threshold") {
		t.Errorf("recovery not logged: %s", logs.String())
	}
}

// --- InstrumentedSandbox ---

type mockSandbox struct {
	result *sandbox.ExecutionResult
	err    error
}

func (m *mockSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	return m.result, m.err
}

func TestInstrumentedSandbox_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		inner  *mockSandbox
		status string
	}{
		{"success", &mockSandbox{result: &sandbox.ExecutionResult{Duration: 100 * time.Millisecond}}, "success"},
		{"nonzero", &mockSandbox{result: &sandbox.ExecutionResult{ExitCode: 1}}, "nonzero_exit"},
		{"timeout", &mockSandbox{err: fmt.Errorf("%w after 1s", sandbox.ErrTimeout)}, "timeout"},
		{"error", &mockSandbox{err: errors.New("spawn failed")}, "error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			metrics := NewMetricsCollector()
			s := NewInstrumentedSandbox(tc.inner, "process", metrics, nil)
			_, _ = s.Execute(context.Background(), sandbox.ExecutionRequest{Command: []string{"python3"}})

			val := counterValue(t, metrics.Registry, "agentai_sandbox_executions_total", prometheus.Labels{"type": "process", "status": tc.status})
			if val != 1 {
				t.Errorf("sandbox executions{status=%s} = %v, want 1", tc.status, val)
			}
		})
	}
}

func TestInstrumentedSandbox_TruncationAndSpan(t *testing.T) {
	metrics := NewMetricsCollector()
	exp := tracetest.NewInMemoryExporter()
	ts, err := NewTracerSetupWithExporter("test", exp)
	if err != nil {
		t.Fatal(err)
	}
	defer ts.Shutdown(context.Background())

	inner := &mockSandbox{result: &sandbox.ExecutionResult{StdoutTruncated: true}}
	s := NewInstrumentedSandbox(inner, "process", metrics, ts)
	if _, err := s.Execute(context.Background(), sandbox.ExecutionRequest{Command: []string{"python3"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v := counterValue(t, metrics.Registry, "agentai_sandbox_output_truncated_total", prometheus.Labels{"stream": "stdout"}); v != 1 {
		t.Errorf("truncated{stdout} = %v, want 1", v)
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Name != "sandbox.execute" {
		t.Errorf("spans = %v, want one sandbox.execute span", spans)
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/calls", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	val := counterValue(t, metrics.Registry, "agentai_http_requests_total", prometheus.Labels{"method": "POST", "path": "/v1/calls", "status_code": "401"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want prometheus.Labels) bool {
	got := make(map[string]string, len(pairs))
	for _, p := range pairs {
		got[p.GetName()] = p.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
