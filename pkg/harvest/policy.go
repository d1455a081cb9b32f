package harvest

import (
	"fmt"
	"time"
)

// RetryPolicy controls pacing and termination of a partition's fetch loop.
type RetryPolicy struct {
	// BaseDelay is the wait after an attempt that made progress.
	BaseDelay time.Duration

	// Multiplier grows the wait after every zero-progress attempt.
	Multiplier float64

	// MaxDelay caps the wait.
	MaxDelay time.Duration

	// StallThreshold is the number of consecutive zero-progress attempts after
	// which the loop stops chasing the reported total.
	StallThreshold int

	// MaxWait bounds wall-clock time spent on one partition in one run.
	MaxWait time.Duration
}

// DefaultRetryPolicy returns the production policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:      10 * time.Second,
		Multiplier:     1.5,
		MaxDelay:       300 * time.Second,
		StallThreshold: 3,
		MaxWait:        24 * time.Hour,
	}
}

// Validate rejects policies that would spin or never wait.
func (p RetryPolicy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %g", p.Multiplier)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.StallThreshold < 1 {
		return fmt.Errorf("stall threshold must be >= 1, got %d", p.StallThreshold)
	}
	if p.MaxWait <= 0 {
		return fmt.Errorf("max wait must be positive, got %s", p.MaxWait)
	}
	return nil
}

// NextDelay returns the wait that follows an attempt. Progress resets to
// BaseDelay; no progress multiplies current, capped at MaxDelay.
func (p RetryPolicy) NextDelay(current time.Duration, progressed bool) time.Duration {
	if progressed {
		return p.BaseDelay
	}
	if current <= 0 {
		current = p.BaseDelay
	}
	next := time.Duration(float64(current) * p.Multiplier)
	if next > p.MaxDelay || next < 0 {
		next = p.MaxDelay
	}
	return next
}
