package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Jazzman94/agentai/internal/config"
)

const (
	defaultAnomalyWindow = 5 * time.Minute
	// minSamples is the number of calls in the window before a rate is judged.
	minSamples = 5
)

// AnomalyDetector tracks the failure share of each operation over a sliding
// window. It logs once when an operation crosses the threshold and once
// when it drops back under.
type AnomalyDetector struct {
	mu        sync.Mutex
	ops       map[string]*outcomeWindow
	window    time.Duration
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

type outcome struct {
	at     time.Time
	failed bool
}

// outcomeWindow keeps the outcomes newer than the window, oldest first,
// with running counts.
type outcomeWindow struct {
	events   []outcome
	failures int
	alerting bool
}

// NewAnomalyDetector creates a detector from cfg.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	window := defaultAnomalyWindow
	if cfg.WindowSeconds > 0 {
		window = time.Duration(cfg.WindowSeconds) * time.Second
	}
	return &AnomalyDetector{
		ops:       make(map[string]*outcomeWindow),
		window:    window,
		threshold: cfg.ErrorRateThreshold,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordError counts a failed call and reports whether the operation's
// failure rate is now above the threshold.
func (a *AnomalyDetector) RecordError(operation string) bool {
	return a.record(operation, true)
}

// RecordSuccess counts a successful call.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	a.record(operation, false)
}

// ErrorRate is the failure share of operation within the window.
func (a *AnomalyDetector) ErrorRate(operation string) float64 {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.ops[operation]
	if !ok {
		return 0
	}
	w.expire(a.now().Add(-a.window))
	return w.rate()
}

func (a *AnomalyDetector) record(operation string, failed bool) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.ops[operation]
	if !ok {
		w = &outcomeWindow{}
		a.ops[operation] = w
	}
	now := a.now()
	w.expire(now.Add(-a.window))
	w.events = append(w.events, outcome{at: now, failed: failed})
	if failed {
		w.failures++
	}

	anomalous := a.threshold > 0 && len(w.events) >= minSamples && w.rate() > a.threshold
	if anomalous != w.alerting {
		w.alerting = anomalous
		a.logTransition(operation, w)
	}
	return anomalous
}

func (a *AnomalyDetector) logTransition(operation string, w *outcomeWindow) {
	if a.logger == nil {
		return
	}
	attrs := []any{
		slog.String("operation", operation),
		slog.Float64("error_rate", w.rate()),
		slog.Float64("threshold", a.threshold),
		slog.Int("failures", w.failures),
		slog.Int("total", len(w.events)),
	}
	if w.alerting {
		a.logger.Warn("anomaly detected: high failure rate", attrs...)
		return
	}
	a.logger.Info("failure rate back under threshold", attrs...)
}

// expire drops outcomes recorded before cutoff.
func (w *outcomeWindow) expire(cutoff time.Time) {
	i := 0
	for ; i < len(w.events) && w.events[i].at.Before(cutoff); i++ {
		if w.events[i].failed {
			w.failures--
		}
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

func (w *outcomeWindow) rate() float64 {
	if len(w.events) == 0 {
		return 0
	}
	return float64(w.failures) / float64(len(w.events))
}
