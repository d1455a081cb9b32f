package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/Sternrassler/arxiv-harvester/internal/atomicfile"
	"github.com/Sternrassler/arxiv-harvester/pkg/harvest"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	snapshotsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_snapshots_written_total",
			Help: "Snapshot files written by completeness status",
		},
		[]string{"status"},
	)

	snapshotRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_snapshot_records",
		Help: "Records in the most recently written snapshot",
	})
)

// Publisher receives every snapshot after it has been written locally.
type Publisher interface {
	Publish(ctx context.Context, name string, data []byte) error
}

// Writer merges partition results into snapshot files under a directory.
type Writer struct {
	dir       string
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithPublisher mirrors written snapshots through p.
func WithPublisher(p Publisher) WriterOption {
	return func(w *Writer) {
		w.publisher = p
	}
}

// WithWriterLogger sets the logger.
func WithWriterLogger(logger zerolog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithNow overrides the fetch_date clock.
func WithNow(now func() time.Time) WriterOption {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a writer for dir.
func NewWriter(dir string, opts ...WriterOption) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	w := &Writer{
		dir:    dir,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "snapshot").Logger()
	return w, nil
}

// PathFor returns the default file for an output key (a date or a label).
func (w *Writer) PathFor(outputKey string) string {
	return filepath.Join(w.dir, fmt.Sprintf("papers_%s_100percent.json", outputKey))
}

// Request describes one snapshot write.
type Request struct {
	// Key is the partition key recorded in metadata, usually the output key.
	Key string

	// PaperDate is the civil date the records belong to, if any.
	PaperDate string

	// Path overrides PathFor(Key).
	Path string

	FetchMode string
	RunID     string

	// Base is a prior snapshot whose records and sub-partitions are carried forward.
	Base *Snapshot

	// Results are merged after Base's records, in order.
	Results []*harvest.Result

	// Order, when set, sorts records by their position in it. Records not in
	// Order follow in merge order.
	Order []string
}

// Write merges req into a snapshot, writes it atomically and publishes it.
// Records are deduplicated by id, first seen wins.
func (w *Writer) Write(ctx context.Context, req Request) (*Snapshot, string, error) {
	path := req.Path
	if path == "" {
		path = w.PathFor(req.Key)
	}
	mode := req.FetchMode
	if mode == "" {
		mode = ModeComplete
	}

	snap := &Snapshot{
		Metadata: Metadata{
			FetchMode:     mode,
			FetchDate:     w.now().UTC(),
			PaperDate:     req.PaperDate,
			PartitionKey:  req.Key,
			RunID:         req.RunID,
			SubPartitions: make(map[string]SubPartition),
		},
	}

	seen := make(map[string]struct{})
	add := func(recs []record.Record) {
		for _, rec := range recs {
			if rec.ID == "" {
				continue
			}
			if _, ok := seen[rec.ID]; ok {
				continue
			}
			seen[rec.ID] = struct{}{}
			snap.Records = append(snap.Records, rec)
		}
	}

	if req.Base != nil {
		add(req.Base.Records)
		for label, sub := range req.Base.Metadata.SubPartitions {
			snap.Metadata.SubPartitions[label] = sub
		}
	}
	for _, res := range req.Results {
		if res == nil {
			continue
		}
		add(res.Records)
		snap.Metadata.SubPartitions[res.Partition.Label] = subPartitionOf(res)
	}
	if snap.Records == nil {
		snap.Records = []record.Record{}
	}

	if len(req.Order) > 0 {
		sortByOrder(snap.Records, req.Order)
	}

	summarize(&snap.Metadata, len(snap.Records))

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
		return nil, "", fmt.Errorf("write snapshot: %w", err)
	}

	snapshotsWritten.WithLabelValues(snap.Metadata.CompletenessStatus).Inc()
	snapshotRecords.Set(float64(len(snap.Records)))

	ev := w.logger.Info()
	if !snap.Metadata.IsComplete {
		ev = w.logger.Warn().Strs("incomplete", incompleteLabels(snap.Metadata.SubPartitions))
	}
	ev.Str("path", path).
		Int("records", snap.Metadata.TotalPapers).
		Str("completeness", snap.Metadata.Completeness).
		Bool("is_complete", snap.Metadata.IsComplete).
		Msg("Snapshot written")

	if w.publisher != nil {
		if err := w.publisher.Publish(ctx, filepath.Base(path), data); err != nil {
			w.logger.Error().Err(err).Str("path", path).Msg("Snapshot publish failed")
		}
	}

	return snap, path, nil
}

func subPartitionOf(res *harvest.Result) SubPartition {
	return SubPartition{
		PartitionKey:  res.Partition.Key(),
		DateRange:     res.Partition.DateRange(),
		PapersFetched: res.Fetched(),
		ExpectedTotal: res.ExpectedTotal,
		Completeness:  res.Completeness(),
		IsComplete:    res.IsComplete,
		Status:        string(res.Status),
		Attempts:      res.Attempts,
		ElapsedHours:  res.Elapsed.Hours(),
	}
}

// summarize fills the top-level counters from the sub-partitions.
func summarize(m *Metadata, total int) {
	m.TotalPapers = total

	allComplete := len(m.SubPartitions) > 0
	var expected, fetchedKnown int
	var anyKnown bool
	m.TotalAttempts, m.ElapsedHours = 0, 0

	for _, sub := range m.SubPartitions {
		allComplete = allComplete && sub.IsComplete
		m.TotalAttempts += sub.Attempts
		m.ElapsedHours += sub.ElapsedHours
		if sub.ExpectedTotal != nil {
			anyKnown = true
			expected += *sub.ExpectedTotal
			fetchedKnown += sub.PapersFetched
		}
	}

	m.IsComplete = allComplete
	m.CompletenessStatus = StatusIncomplete
	if allComplete {
		m.CompletenessStatus = StatusComplete
	}

	m.ExpectedTotal = nil
	if anyKnown {
		m.ExpectedTotal = &expected
	}

	switch {
	case allComplete:
		m.Completeness = "100%"
	case anyKnown:
		m.Completeness = harvest.FormatCompleteness(harvest.Fraction(fetchedKnown, &expected), false)
	default:
		m.Completeness = "unknown"
	}
}

func sortByOrder(recs []record.Record, order []string) {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}
	rank := func(id string) int {
		if p, ok := pos[id]; ok {
			return p
		}
		return len(order)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return rank(recs[i].ID) < rank(recs[j].ID)
	})
}

func incompleteLabels(subs map[string]SubPartition) []string {
	var out []string
	for label, sub := range subs {
		if !sub.IsComplete {
			out = append(out, fmt.Sprintf("%s (%s)", label, sub.Completeness))
		}
	}
	sort.Strings(out)
	return out
}
