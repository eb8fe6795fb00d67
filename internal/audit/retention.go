package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule runs the sweep once a day at midnight.
const DefaultRetentionSchedule = "@daily"

// Retention periodically prunes entries older than a maximum age.
type Retention struct {
	pruner   Pruner
	maxAge   time.Duration
	schedule string
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetention validates schedule (standard 5-field cron or a descriptor such
// as "@daily" or "@every 1h") and returns a sweeper for pruner.
func NewRetention(p Pruner, maxAge time.Duration, schedule string, logger *slog.Logger) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return &Retention{
		pruner:   p,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Sweep prunes once and returns the number of removed entries.
func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.maxAge)
	n, err := r.pruner.Prune(ctx, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "audit retention sweep failed", slog.String("error", err.Error()))
		return 0, err
	}
	r.logger.InfoContext(ctx, "audit retention sweep",
		slog.Int64("removed", n),
		slog.Time("cutoff", cutoff),
	)
	return n, nil
}

// Start schedules sweeps until ctx is canceled or the returned stop function
// is called. stop waits for a running sweep to finish.
func (r *Retention) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New()
	// Schedule was validated in NewRetention.
	_, _ = c.AddFunc(r.schedule, func() { _, _ = r.Sweep(ctx) })
	c.Start()

	r.logger.InfoContext(ctx, "audit retention started",
		slog.String("schedule", r.schedule),
		slog.Duration("max_age", r.maxAge),
	)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		close(done)
	}()

	return func() {
		cancel()
		<-done
	}
}
