package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisLimiter shares one call slot between every process pointed at the same
// Redis key. A slot is taken with SET NX PX interval, so taking it and starting
// the next interval is a single atomic step on the server.
type RedisLimiter struct {
	redis    *redis.Client
	key      string
	interval time.Duration
	token    string
	logger   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRedisLimiter creates a limiter backed by Redis.
func NewRedisLimiter(client *redis.Client, key string, interval time.Duration, logger zerolog.Logger) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if interval < time.Millisecond {
		return nil, fmt.Errorf("interval must be at least 1ms, got %s", interval)
	}
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisLimiter{
		redis:    client,
		key:      key,
		interval: interval,
		token:    uuid.NewString(),
		logger:   logger.With().Str("component", "redis-limiter").Str("key", key).Logger(),
		sleep:    sleepContext,
	}, nil
}

// Wait blocks until this process owns the next call slot.
func (l *RedisLimiter) Wait(ctx context.Context) error {
	start := time.Now()

	for {
		acquired, err := l.redis.SetNX(ctx, l.key, l.token, l.interval).Result()
		if err != nil {
			return fmt.Errorf("acquire rate limit slot: %w", err)
		}
		if acquired {
			waitDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
			return nil
		}

		ttl, err := l.redis.PTTL(ctx, l.key).Result()
		if err != nil {
			return fmt.Errorf("read rate limit slot ttl: %w", err)
		}

		switch {
		case ttl == -1:
			// Slot without expiry (written by something else); bound it.
			l.logger.Warn().Msg("Rate limit slot has no expiry, resetting")
			if err := l.redis.PExpire(ctx, l.key, l.interval).Err(); err != nil {
				return fmt.Errorf("expire rate limit slot: %w", err)
			}
			ttl = l.interval
		case ttl <= 0:
			// Expired between SETNX and PTTL.
			continue
		}

		l.logger.Debug().Dur("wait", ttl).Msg("Waiting for shared rate limit slot")
		if err := l.sleep(ctx, ceilMillis(ttl)); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
}
