// Package orchestrator composes partitions into runs: a date × category sweep,
// a listing-driven gap fill, a custom id run, and the continuous daemon cycle.
// Partitions run one at a time so the shared rate limit is never multiplied.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/checkpoint"
	"github.com/Sternrassler/arxiv-harvester/pkg/harvest"
	"github.com/Sternrassler/arxiv-harvester/pkg/logging"
	"github.com/Sternrassler/arxiv-harvester/pkg/pagination"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/snapshot"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
	"github.com/Sternrassler/arxiv-harvester/pkg/source/listing"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_cycles_total",
			Help: "Orchestrator cycles by result",
		},
		[]string{"mode", "result"},
	)

	partitionsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_partitions_skipped_total",
		Help: "Partitions skipped because their snapshot already marks them complete",
	})

	distinctRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_cycle_distinct_records",
		Help: "Approximate distinct records written in the last sweep",
	})

	lastCycleSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_last_cycle_success_timestamp_seconds",
		Help: "Unix time of the last cycle that finished without error",
	})
)

// Lister returns the authoritative id listing of a category.
type Lister interface {
	Fetch(ctx context.Context, category string) (*listing.Listing, error)
}

// Config holds orchestrator configuration.
type Config struct {
	CheckpointDir string
	OutputDir     string

	// Categories is the default category set for sweeps and gap fills.
	Categories []string

	Policy     harvest.RetryPolicy
	Pagination pagination.Config
}

// Orchestrator runs partitions sequentially against one source.
type Orchestrator struct {
	src       source.Source
	config    Config
	lister    Lister
	publisher snapshot.Publisher
	clock     harvest.Clock
	logger    zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLister enables listing-driven gap fill.
func WithLister(l Lister) Option {
	return func(o *Orchestrator) {
		o.lister = l
	}
}

// WithPublisher mirrors snapshots after they are written.
func WithPublisher(p snapshot.Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithClock replaces the wall clock for loops and daemon sleeps.
func WithClock(c harvest.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the base logger from which per-run loggers derive.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator.
func New(src source.Source, cfg Config, opts ...Option) (*Orchestrator, error) {
	if src == nil {
		return nil, fmt.Errorf("source is required")
	}
	if cfg.CheckpointDir == "" || cfg.OutputDir == "" {
		return nil, fmt.Errorf("checkpoint and output dirs are required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	o := &Orchestrator{
		src:    src,
		config: cfg,
		clock:  harvest.RealClock(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()
	return o, nil
}

// cycle bundles the components built for one run, all sharing the run's logger.
type cycle struct {
	runID  string
	logger zerolog.Logger
	loop   *harvest.Loop
	writer *snapshot.Writer
	start  time.Time
}

func (o *Orchestrator) newCycle(mode string) (*cycle, error) {
	runID := uuid.NewString()
	logger := logging.ForRun(o.logger, runID, mode)

	store, err := checkpoint.NewFileStore(o.config.CheckpointDir, logger)
	if err != nil {
		return nil, err
	}

	loop, err := harvest.NewLoop(o.src, store, o.config.Policy,
		harvest.WithClock(o.clock),
		harvest.WithLogger(logger),
		harvest.WithPagination(o.config.Pagination),
	)
	if err != nil {
		return nil, err
	}

	writerOpts := []snapshot.WriterOption{snapshot.WithWriterLogger(logger)}
	if o.publisher != nil {
		writerOpts = append(writerOpts, snapshot.WithPublisher(o.publisher))
	}
	writer, err := snapshot.NewWriter(o.config.OutputDir, writerOpts...)
	if err != nil {
		return nil, err
	}

	return &cycle{
		runID:  runID,
		logger: logger,
		loop:   loop,
		writer: writer,
		start:  o.clock.Now(),
	}, nil
}

// Run harvests each partition in order and returns the results keyed by
// Partition.Key. A failing partition never affects the others. The error is
// non-nil only when ctx ends the run early; results gathered so far are returned.
func (o *Orchestrator) Run(ctx context.Context, partitions []partition.Partition, maxWait time.Duration) (map[string]*harvest.Result, error) {
	cyc, err := o.newCycle("run")
	if err != nil {
		return nil, err
	}

	results := make(map[string]*harvest.Result, len(partitions))
	for _, p := range partitions {
		res, err := o.runPartition(ctx, cyc, p, maxWait)
		results[p.Key()] = res
		if err != nil {
			cyclesTotal.WithLabelValues("run", "cancelled").Inc()
			return results, err
		}
	}
	cyclesTotal.WithLabelValues("run", "ok").Inc()
	return results, nil
}

// runPartition runs one loop, converting a panic into a failed result.
func (o *Orchestrator) runPartition(ctx context.Context, cyc *cycle, p partition.Partition, maxWait time.Duration) (res *harvest.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			cyc.logger.Error().
				Str("partition", p.Key()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Partition run panicked")
			res = &harvest.Result{
				Partition: p,
				Status:    harvest.StatusFailed,
			}
			err = nil
		}
	}()

	return cyc.loop.Run(ctx, p, maxWait)
}

// loadSnapshot returns the snapshot at path, or nil when it is missing or unreadable.
func loadSnapshot(logger zerolog.Logger, path string) *snapshot.Snapshot {
	snap, err := snapshot.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("Existing snapshot unreadable, ignoring it")
		}
		return nil
	}
	return snap
}
