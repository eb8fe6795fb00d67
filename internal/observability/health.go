package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 3 * time.Second

// Status values reported by readiness.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// HealthChecker runs the readiness checks behind /readyz: the working root,
// the script interpreter and, when configured, the audit store.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]func(ctx context.Context) error
	order  []string
	logger *slog.Logger
}

// HealthStatus is the JSON body of the health endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"` // "ok" or "fail"
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}
}

// AddCheck registers check under name. Registering a name twice replaces
// the earlier check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.checks[name]; !ok {
		h.order = append(h.order, name)
	}
	h.checks[name] = check
}

// CheckHealth is the liveness answer: the process is up.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: StatusOK}
}

// CheckReady runs every check concurrently under a shared deadline. The
// aggregate is "ok" only when all pass.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := append([]string(nil), h.order...)
	checks := make([]func(ctx context.Context) error, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	if len(names) == 0 {
		return HealthStatus{Status: StatusOK}
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make([]CheckResult, len(names))
	var g errgroup.Group
	for i := range names {
		g.Go(func() error {
			start := time.Now()
			err := checks[i](ctx)
			results[i] = CheckResult{Status: StatusOK, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = StatusFail
				results[i].Message = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{Status: StatusOK, Checks: make(map[string]CheckResult, len(names))}
	for i, name := range names {
		status.Checks[name] = results[i]
		if results[i].Status == StatusFail {
			status.Status = StatusDegraded
			if h.logger != nil {
				h.logger.Warn("readiness check failed",
					slog.String("check", name),
					slog.String("error", results[i].Message),
				)
			}
		}
	}
	return status
}

// WorkdirCheck fails when root is no longer a directory the process can
// create files in.
func WorkdirCheck(root string) func(ctx context.Context) error {
	return func(_ context.Context) error {
		info, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}
		probe, err := os.CreateTemp(root, ".agentai-ready-*")
		if err != nil {
			return fmt.Errorf("working root not writable: %w", err)
		}
		name := probe.Name()
		probe.Close()
		return os.Remove(name)
	}
}

// InterpreterCheck fails when program cannot be found on PATH.
func InterpreterCheck(program string) func(ctx context.Context) error {
	return func(_ context.Context) error {
		_, err := exec.LookPath(program)
		return err
	}
}
