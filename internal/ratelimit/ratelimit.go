// Package ratelimit throttles orchestrator callers on the HTTP gateway with
// one token bucket per caller ID. Buckets refill lazily on use; buckets idle
// long enough to be full again are dropped.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrRateLimited is wrapped by every refusal.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // Refill rate. 0 = unlimited.
	BurstSize         int // Bucket capacity. 0 = RequestsPerMinute.
}

// Limiter holds one bucket per caller. Safe for concurrent use.
// A nil *Limiter allows everything.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSecond float64
	capacity  float64
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewLimiter creates a limiter from cfg.
func NewLimiter(cfg Config) *Limiter {
	capacity := cfg.BurstSize
	if capacity <= 0 {
		capacity = cfg.RequestsPerMinute
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		perSecond: float64(cfg.RequestsPerMinute) / 60,
		capacity:  math.Max(float64(capacity), 1),
		now:       time.Now,
	}
}

// Allow spends one token for callerID. A refusal wraps ErrRateLimited and
// says how long until the next token.
func (l *Limiter) Allow(callerID string) error {
	wait := l.Reserve(callerID)
	if wait > 0 {
		return fmt.Errorf("%w: retry in %s", ErrRateLimited, wait.Round(time.Second))
	}
	return nil
}

// Reserve spends one token and returns 0, or spends nothing and returns the
// time until a token is available.
func (l *Limiter) Reserve(callerID string) time.Duration {
	if l == nil || l.perSecond <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[callerID]
	if !ok {
		b = &bucket{tokens: l.capacity, seen: now}
		l.buckets[callerID] = b
	}
	b.tokens = math.Min(l.capacity, b.tokens+now.Sub(b.seen).Seconds()*l.perSecond)
	b.seen = now

	if b.tokens < 1 {
		missing := 1 - b.tokens
		return time.Duration(math.Ceil(missing / l.perSecond * float64(time.Second)))
	}
	b.tokens--
	return 0
}

// sweep drops buckets that have refilled completely. Runs at most once per
// refill period.
func (l *Limiter) sweep(now time.Time) {
	refill := time.Duration(l.capacity / l.perSecond * float64(time.Second))
	if now.Sub(l.lastSweep) < refill {
		return
	}
	l.lastSweep = now
	for id, b := range l.buckets {
		if now.Sub(b.seen) >= refill {
			delete(l.buckets, id)
		}
	}
}
