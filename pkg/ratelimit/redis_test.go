package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestNewRedisLimiter_Validation(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	if _, err := NewRedisLimiter(nil, "", time.Second, logger); err == nil {
		t.Error("expected error for nil client")
	}

	_, client := setupMiniredis(t)
	if _, err := NewRedisLimiter(client, "", 0, logger); err == nil {
		t.Error("expected error for zero interval")
	}

	l, err := NewRedisLimiter(client, "", time.Second, logger)
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}
	if l.key != DefaultRedisKey {
		t.Errorf("key = %s, want default", l.key)
	}
}

func TestRedisLimiter_WaitsForSlotTTL(t *testing.T) {
	mr, client := setupMiniredis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	ctx := context.Background()

	l, err := NewRedisLimiter(client, "test:slot", 3*time.Second, logger)
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}

	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		mr.FastForward(d)
		return nil
	}

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if len(slept) != 0 {
		t.Errorf("first call should not wait, slept %v", slept)
	}

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}

	var total time.Duration
	for _, d := range slept {
		total += d
	}
	if total < 3*time.Second {
		t.Errorf("second call waited %s, want >= 3s", total)
	}
}

func TestRedisLimiter_SharedAcrossInstances(t *testing.T) {
	mr, client := setupMiniredis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	ctx := context.Background()

	a, _ := NewRedisLimiter(client, "shared", time.Second, logger)
	b, _ := NewRedisLimiter(client, "shared", time.Second, logger)

	var waitedB time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		waitedB += d
		mr.FastForward(d)
		return nil
	}

	if err := a.Wait(ctx); err != nil {
		t.Fatalf("a.Wait() error = %v", err)
	}
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("b.Wait() error = %v", err)
	}

	if waitedB < time.Second {
		t.Errorf("second instance waited %s, want >= 1s", waitedB)
	}
}

func TestRedisLimiter_SlotWithoutExpiry(t *testing.T) {
	mr, client := setupMiniredis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	ctx := context.Background()

	if err := mr.Set("stuck", "other"); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	l, _ := NewRedisLimiter(client, "stuck", 500*time.Millisecond, logger)
	l.sleep = func(_ context.Context, d time.Duration) error {
		mr.FastForward(d)
		return nil
	}

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestRedisLimiter_ContextCancelled(t *testing.T) {
	_, client := setupMiniredis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	l, _ := NewRedisLimiter(client, "cancel", time.Minute, logger)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
