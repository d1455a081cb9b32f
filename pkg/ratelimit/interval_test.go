package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCeilMillis(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: 0, want: 0},
		{in: -time.Second, want: 0},
		{in: time.Nanosecond, want: time.Millisecond},
		{in: 1500 * time.Microsecond, want: 2 * time.Millisecond},
		{in: 3 * time.Second, want: 3 * time.Second},
	}

	for _, tt := range tests {
		if got := ceilMillis(tt.in); got != tt.want {
			t.Errorf("ceilMillis(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestIntervalLimiter_SpacesCalls(t *testing.T) {
	const interval = 40 * time.Millisecond
	l := NewIntervalLimiter("test", interval)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 4; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < interval {
			t.Errorf("call %d came %s after the previous one, want >= %s", i, gap, interval)
		}
	}
}

func TestIntervalLimiter_ConcurrentCallersShareClock(t *testing.T) {
	const interval = 30 * time.Millisecond
	l := NewIntervalLimiter("test", interval)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		stamps []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(ctx); err != nil {
				t.Errorf("Wait() error = %v", err)
				return
			}
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(stamps) != 5 {
		t.Fatalf("expected 5 grants, got %d", len(stamps))
	}

	first, last := stamps[0], stamps[0]
	for _, s := range stamps {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	if span := last.Sub(first); span < 4*interval {
		t.Errorf("5 concurrent grants spanned %s, want >= %s", span, 4*interval)
	}
}

func TestIntervalLimiter_ContextCancelled(t *testing.T) {
	l := NewIntervalLimiter("test", time.Hour)

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() should not block: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx); err == nil {
		t.Error("expected error when context ends before the next slot")
	}
}

func TestIntervalLimiter_Disabled(t *testing.T) {
	l := NewIntervalLimiter("test", 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("disabled limiter took %s", elapsed)
	}
}
