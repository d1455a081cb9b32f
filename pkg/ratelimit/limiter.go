// Package ratelimit enforces a minimum spacing between upstream calls.
// The upstream catalog requests a fixed delay between requests from one client;
// every call a harvester makes, across all partitions, must pass through a single
// Limiter so that concurrency never multiplies the effective call rate.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultRedisKey is the Redis key holding the shared "last call" slot.
const DefaultRedisKey = "harvest:rate_limit:slot"

var waitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "harvest_ratelimit_wait_seconds",
	Help:    "Time spent blocked waiting for an upstream call slot",
	Buckets: []float64{0, .01, .1, .5, 1, 2, 3, 5, 10, 30},
}, []string{"limiter"})

// Limiter blocks until the caller may issue one upstream call.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited is a Limiter that never blocks. Intended for tests.
type Unlimited struct{}

// Wait returns immediately unless ctx is already done.
func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

// ceilMillis rounds d up to the next whole millisecond so waits never fall short.
func ceilMillis(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return (d + time.Millisecond - 1).Truncate(time.Millisecond)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
