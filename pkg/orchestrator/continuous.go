package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
)

// Defaults for continuous mode.
const (
	DefaultInterval     = 24 * time.Hour
	DefaultErrorDelay   = time.Hour
	DefaultLookbackDays = 2
)

// ContinuousRequest configures the daemon cycle.
type ContinuousRequest struct {
	Interval     time.Duration
	ErrorDelay   time.Duration
	LookbackDays int
	MaxWait      time.Duration

	// OnCycle, when set, observes each finished cycle.
	OnCycle func(*CycleSummary, error)
}

func (r *ContinuousRequest) applyDefaults() {
	if r.Interval <= 0 {
		r.Interval = DefaultInterval
	}
	if r.ErrorDelay <= 0 {
		r.ErrorDelay = DefaultErrorDelay
	}
	if r.LookbackDays <= 0 {
		r.LookbackDays = DefaultLookbackDays
	}
}

// RunContinuous sweeps the lookback window every Interval until ctx is done.
// A failed or panicking cycle is logged and retried after ErrorDelay.
func (o *Orchestrator) RunContinuous(ctx context.Context, req ContinuousRequest) error {
	req.applyDefaults()

	o.logger.Info().
		Dur("interval", req.Interval).
		Int("lookback_days", req.LookbackDays).
		Strs("categories", o.config.Categories).
		Msg("Continuous mode started")

	for cycleNo := 1; ; cycleNo++ {
		summary, err := o.safeSweep(ctx, req)
		if req.OnCycle != nil {
			req.OnCycle(summary, err)
		}

		if ctx.Err() != nil {
			o.logger.Info().Int("cycles", cycleNo).Msg("Continuous mode stopped")
			return nil
		}

		wait := req.Interval
		if err != nil {
			wait = req.ErrorDelay
			o.logger.Error().Err(err).Int("cycle", cycleNo).Dur("retry_in", wait).Msg("Cycle failed")
		} else {
			o.logger.Info().
				Int("cycle", cycleNo).
				Bool("complete", summary.Complete()).
				Time("next_cycle", o.clock.Now().Add(wait)).
				Msg("Cycle finished")
		}

		if err := o.clock.Sleep(ctx, wait); err != nil {
			o.logger.Info().Int("cycles", cycleNo).Msg("Continuous mode stopped")
			return nil
		}
	}
}

// safeSweep runs one sweep, turning a panic into an error so the daemon survives.
func (o *Orchestrator) safeSweep(ctx context.Context, req ContinuousRequest) (summary *CycleSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			cyclesTotal.WithLabelValues("sweep", "panic").Inc()
			summary = nil
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()

	dates := partition.LookbackDates(o.clock.Now(), req.LookbackDays)
	summary, err = o.Sweep(ctx, SweepRequest{Dates: dates, MaxWait: req.MaxWait})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return summary, nil
	}
	return summary, err
}
