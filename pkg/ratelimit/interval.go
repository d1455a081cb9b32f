package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// IntervalLimiter spaces calls at least Interval apart within one process.
// Callers are served one at a time; a caller whose context ends while queued
// gives up its turn without consuming a slot.
type IntervalLimiter struct {
	name     string
	interval time.Duration
	pacer    *rate.Limiter
	turn     chan struct{}
	last     time.Time
}

// NewIntervalLimiter creates a limiter with the given minimum spacing.
// A non-positive interval disables limiting.
func NewIntervalLimiter(name string, interval time.Duration) *IntervalLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &IntervalLimiter{
		name:     name,
		interval: interval,
		pacer:    rate.NewLimiter(limit, 1),
		turn:     make(chan struct{}, 1),
	}
}

// Interval returns the configured minimum spacing.
func (l *IntervalLimiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until Interval has elapsed since the previous granted call.
func (l *IntervalLimiter) Wait(ctx context.Context) error {
	start := time.Now()

	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
	defer func() { <-l.turn }()

	if err := l.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// The token bucket works in float seconds; re-check against the wall clock
	// so rounding can never shorten the gap.
	if !l.last.IsZero() {
		if remaining := l.interval - time.Since(l.last); remaining > 0 {
			if err := sleepContext(ctx, ceilMillis(remaining)); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}
	}

	l.last = time.Now()
	waitDuration.WithLabelValues(l.name).Observe(time.Since(start).Seconds())
	return nil
}
