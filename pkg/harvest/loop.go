// Package harvest drives one partition to completeness: it fetches, merges into
// the checkpoint, decides whether the record set is complete, and backs off
// between attempts.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/checkpoint"
	"github.com/Sternrassler/arxiv-harvester/pkg/client"
	"github.com/Sternrassler/arxiv-harvester/pkg/pagination"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
	"github.com/rs/zerolog"
)

// Store is the checkpoint persistence the loop needs.
type Store interface {
	Load(key string) *checkpoint.Checkpoint
	Save(cp *checkpoint.Checkpoint) error
	Clear(key string) error
}

type state int

const (
	stateStart state = iota
	stateFetching
	stateMerging
	stateEvaluating
	stateWaiting
	stateDone
	stateTimedOut
)

func (s state) String() string {
	switch s {
	case stateStart:
		return "START"
	case stateFetching:
		return "FETCHING"
	case stateMerging:
		return "MERGING"
	case stateEvaluating:
		return "EVALUATING"
	case stateWaiting:
		return "WAITING"
	case stateDone:
		return "DONE"
	case stateTimedOut:
		return "TIMED_OUT"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Loop runs partitions against one source. A Loop holds no per-partition
// state and may be reused, but Run calls on the same partition must not overlap.
type Loop struct {
	src        *countingSource
	store      Store
	policy     RetryPolicy
	clock      Clock
	pagination pagination.Config
	logger     zerolog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// WithLogger sets the logger. Per-run loggers carrying a run id go here.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithPagination sets the batch fetcher configuration for paginated partitions.
func WithPagination(cfg pagination.Config) Option {
	return func(l *Loop) {
		l.pagination = cfg
	}
}

// NewLoop creates a loop for src persisting progress to store.
func NewLoop(src source.Source, store Store, policy RetryPolicy, opts ...Option) (*Loop, error) {
	if src == nil {
		return nil, fmt.Errorf("source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	l := &Loop{
		src:        &countingSource{Source: src},
		store:      store,
		policy:     policy,
		clock:      RealClock(),
		pagination: pagination.DefaultConfig(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("component", "harvest").Str("source", src.Name()).Logger()

	return l, nil
}

// Policy returns the loop's retry policy.
func (l *Loop) Policy() RetryPolicy {
	return l.policy
}

// run is the mutable state of one Run call.
type run struct {
	p       partition.Partition
	cp      *checkpoint.Checkpoint
	start   time.Time
	maxWait time.Duration
	logger  zerolog.Logger

	delay       time.Duration
	stalls      int
	runAttempts int
	callsBefore int64

	// last attempt
	batch    []record.Record
	total    int
	fetchErr error
	newCount int

	status Status
}

// Run drives p to DONE or TIMED_OUT. maxWait <= 0 uses the policy's MaxWait.
//
// Source failures never surface as errors; they show up in the Result. The
// returned error is non-nil only when ctx ends the run, in which case the
// partial Result is returned as well and the checkpoint is kept.
func (l *Loop) Run(ctx context.Context, p partition.Partition, maxWait time.Duration) (*Result, error) {
	if maxWait <= 0 {
		maxWait = l.policy.MaxWait
	}

	r := &run{
		p:           p,
		maxWait:     maxWait,
		start:       l.clock.Now(),
		delay:       l.policy.BaseDelay,
		callsBefore: l.src.calls.Load(),
		logger:      l.logger.With().Str("partition", p.Key()).Logger(),
	}

	fetcher := pagination.NewBatchFetcher(l.src, l.pagination, r.logger)

	st := stateStart
	for {
		switch st {
		case stateStart:
			st = l.start(r)

		case stateFetching:
			if r.runAttempts > 0 && l.elapsed(r) > r.maxWait {
				st = stateTimedOut
				continue
			}
			st = l.fetch(ctx, r, fetcher)
			if st == stateDone && r.status == StatusCancelled {
				l.merge(r)
				l.save(r)
				return l.result(r), ctx.Err()
			}

		case stateMerging:
			l.merge(r)
			st = stateEvaluating

		case stateEvaluating:
			st = l.evaluate(r)

		case stateWaiting:
			r.delay = l.policy.NextDelay(r.delay, r.newCount > 0)
			backoffDelay.Observe(r.delay.Seconds())
			r.logger.Info().
				Dur("delay", r.delay).
				Int("stalls", r.stalls).
				Msg("Waiting before next attempt")

			if err := l.clock.Sleep(ctx, r.delay); err != nil {
				r.status = StatusCancelled
				return l.result(r), err
			}
			st = stateFetching

		case stateDone:
			return l.finish(r), nil

		case stateTimedOut:
			r.status = StatusTimedOut
			r.logger.Error().
				Int("fetched", r.cp.Len()).
				Str("expected", expectedString(r.cp)).
				Dur("elapsed", l.elapsed(r)).
				Dur("max_wait", r.maxWait).
				Msg("Max wait exceeded, keeping checkpoint for resume")
			return l.finish(r), nil

		default:
			panic(fmt.Sprintf("harvest: unknown state %s", st))
		}
	}
}

func (l *Loop) start(r *run) state {
	r.cp = l.store.Load(r.p.Key())

	if r.p.HasIDs() {
		r.cp.SetExpected(len(uniqueIDs(r.p.IDs)))
	}

	if r.cp.Satisfied() {
		r.status = StatusComplete
		r.logger.Info().
			Int("fetched", r.cp.Len()).
			Str("expected", expectedString(r.cp)).
			Msg("Partition already complete")
		return stateDone
	}

	r.logger.Info().
		Int("fetched", r.cp.Len()).
		Str("expected", expectedString(r.cp)).
		Int("attempt", r.cp.Attempts).
		Msg("Starting partition")
	return stateFetching
}

func (l *Loop) fetch(ctx context.Context, r *run, fetcher *pagination.BatchFetcher) state {
	r.cp.Attempts++
	r.runAttempts++
	r.cp.LastAttemptAt = l.clock.Now().UTC()
	r.batch, r.total, r.fetchErr, r.newCount = nil, source.UnknownTotal, nil, 0

	r.logger.Info().
		Int("attempt", r.cp.Attempts).
		Dur("elapsed", l.elapsed(r)).
		Msg("Fetch attempt")

	if r.p.HasIDs() {
		r.batch, r.fetchErr = l.fetchRemaining(ctx, r)
	} else {
		res, err := fetcher.FetchAll(ctx, r.p)
		if res != nil {
			r.batch, r.total = res.Records, res.Total
		}
		r.fetchErr = err
	}

	switch {
	case r.fetchErr == nil:
		return stateMerging
	case ctx.Err() != nil:
		r.status = StatusCancelled
		return stateDone
	case errors.Is(r.fetchErr, source.ErrUnsupported):
		r.status = StatusUnsupported
		r.cp.Attempts--
		r.logger.Error().Err(r.fetchErr).Msg("Source cannot serve this partition")
		return stateDone
	default:
		return stateMerging
	}
}

// fetchRemaining requests only the ids not yet in the checkpoint and keeps only
// records that were asked for.
func (l *Loop) fetchRemaining(ctx context.Context, r *run) ([]record.Record, error) {
	wanted := uniqueIDs(r.p.IDs)
	remaining := make([]string, 0, len(wanted))
	for _, id := range wanted {
		if !r.cp.Has(id) {
			remaining = append(remaining, id)
		}
	}

	recs, err := l.src.FetchByIDs(ctx, remaining)

	requested := make(map[string]struct{}, len(remaining))
	for _, id := range remaining {
		requested[id] = struct{}{}
	}
	kept := recs[:0:0]
	for _, rec := range recs {
		if _, ok := requested[rec.ID]; ok {
			kept = append(kept, rec)
		}
	}
	return kept, err
}

func (l *Loop) merge(r *run) {
	for _, rec := range r.batch {
		if r.cp.Add(rec) {
			r.newCount++
		}
	}
	if r.newCount > 0 {
		recordsFetched.WithLabelValues(l.src.Name()).Add(float64(r.newCount))
	}

	if r.p.HasIDs() || r.total == source.UnknownTotal {
		return
	}

	prev, known := r.cp.Expected()
	switch {
	case !known:
		r.cp.SetExpected(r.total)
		r.logger.Info().Int("expected", r.total).Msg("Expected total reported")
	case r.total != prev:
		direction := "grow"
		if r.total < prev {
			direction = "shrink"
		}
		totalDrift.WithLabelValues(l.src.Name(), direction).Inc()
		r.logger.Warn().
			Int("previous", prev).
			Int("expected", r.total).
			Str("direction", direction).
			Int("fetched", r.cp.Len()).
			Msg("Expected total changed, adopting latest")
		r.cp.SetExpected(r.total)
	}
}

func (l *Loop) evaluate(r *run) state {
	progressed := r.newCount > 0
	if progressed {
		r.stalls = 0
	} else {
		r.stalls++
	}

	outcome := "progress"
	switch {
	case r.fetchErr != nil:
		outcome = "error"
	case !progressed:
		outcome = "no_progress"
	}
	attemptsTotal.WithLabelValues(l.src.Name(), outcome).Inc()

	ev := r.logger.Info()
	if r.fetchErr != nil {
		ev = r.logger.Error().Err(r.fetchErr).Str("error_class", string(client.ClassOf(r.fetchErr)))
	}
	ev.Int("attempt", r.cp.Attempts).
		Int("new_records", r.newCount).
		Int("fetched", r.cp.Len()).
		Str("expected", expectedString(r.cp)).
		Int("stalls", r.stalls).
		Msg("Attempt finished")

	l.save(r)

	if r.cp.Satisfied() {
		r.status = StatusComplete
		return stateDone
	}

	if r.fetchErr == nil && r.stalls >= l.policy.StallThreshold {
		r.logger.Info().
			Int("stalls", r.stalls).
			Int("fetched", r.cp.Len()).
			Str("expected", expectedString(r.cp)).
			Msg("No new records after verification passes, stopping")
		r.status = StatusStalled
		return stateDone
	}

	if l.elapsed(r) > r.maxWait {
		return stateTimedOut
	}
	return stateWaiting
}

// finish applies the completeness oracle and clears the checkpoint when the
// partition is complete.
func (l *Loop) finish(r *run) *Result {
	if r.status == StatusStalled || r.status == StatusComplete {
		if IsOracleComplete(r.cp.Len(), r.cp.ExpectedTotal) {
			r.status = StatusComplete
		} else {
			r.status = StatusStalled
		}
	}

	res := l.result(r)

	if res.IsComplete {
		if err := l.store.Clear(r.p.Key()); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to clear checkpoint")
		}
	}

	partitionsTotal.WithLabelValues(l.src.Name(), string(res.Status)).Inc()
	r.logger.Info().
		Str("status", string(res.Status)).
		Bool("is_complete", res.IsComplete).
		Int("fetched", res.Fetched()).
		Str("completeness", res.Completeness()).
		Int("attempts", res.Attempts).
		Int("calls", res.Calls).
		Dur("elapsed", res.Elapsed).
		Msg("Partition finished")

	return res
}

func (l *Loop) result(r *run) *Result {
	records := r.cp.Records()
	if r.p.HasIDs() {
		records = orderByIDs(records, r.p.IDs)
	}

	var expected *int
	if r.cp.ExpectedTotal != nil {
		v := *r.cp.ExpectedTotal
		expected = &v
	}

	return &Result{
		Partition:            r.p,
		Records:              records,
		Attempts:             r.cp.Attempts,
		Elapsed:              l.elapsed(r),
		ExpectedTotal:        expected,
		CompletenessFraction: Fraction(len(records), expected),
		IsComplete:           r.status == StatusComplete,
		Status:               r.status,
		Calls:                int(l.src.calls.Load() - r.callsBefore),
	}
}

func (l *Loop) save(r *run) {
	if err := l.store.Save(r.cp); err != nil {
		r.logger.Error().Err(err).Msg("Failed to save checkpoint")
	}
}

func (l *Loop) elapsed(r *run) time.Duration {
	return l.clock.Now().Sub(r.start)
}

func expectedString(cp *checkpoint.Checkpoint) string {
	if total, ok := cp.Expected(); ok {
		return fmt.Sprintf("%d", total)
	}
	return "unknown"
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// orderByIDs sorts records by their position in ids. Records not in ids keep
// their relative order at the end.
func orderByIDs(recs []record.Record, ids []string) []record.Record {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}

	ordered := make([]record.Record, 0, len(recs))
	var rest []record.Record
	slots := make([]*record.Record, len(ids))
	for i := range recs {
		if p, ok := pos[recs[i].ID]; ok {
			slots[p] = &recs[i]
		} else {
			rest = append(rest, recs[i])
		}
	}
	for _, rec := range slots {
		if rec != nil {
			ordered = append(ordered, *rec)
		}
	}
	return append(ordered, rest...)
}

// countingSource counts upstream calls made through it.
type countingSource struct {
	source.Source
	calls atomic.Int64
}

func (c *countingSource) FetchPage(ctx context.Context, p partition.Partition, page int) (*source.Page, error) {
	c.calls.Add(1)
	return c.Source.FetchPage(ctx, p, page)
}

func (c *countingSource) FetchByIDs(ctx context.Context, ids []string) ([]record.Record, error) {
	c.calls.Add(1)
	return c.Source.FetchByIDs(ctx, ids)
}
