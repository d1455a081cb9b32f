package orchestrator

import (
	"context"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/harvest"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/snapshot"
	hll "github.com/axiomhq/hyperloglog"
)

// SweepRequest selects the dates and categories of a sweep.
type SweepRequest struct {
	Dates []time.Time

	// Categories defaults to the configured set.
	Categories []string

	// MaxWait per partition; <= 0 uses the policy's MaxWait.
	MaxWait time.Duration

	// Force re-fetches categories already complete on disk. Records of
	// categories outside the request are still carried forward.
	Force bool
}

// CycleSummary describes one sweep.
type CycleSummary struct {
	RunID string

	PartitionsRun        int
	PartitionsSkipped    int
	PartitionsComplete   int
	PartitionsIncomplete int

	// Records is the total across written snapshots; DistinctRecords
	// estimates how many of them are unique across dates.
	Records         int
	DistinctRecords uint64

	Snapshots []string
	Results   map[string]*harvest.Result
	Elapsed   time.Duration
}

// Complete reports whether every partition of the sweep ended complete.
func (s *CycleSummary) Complete() bool {
	return s.PartitionsIncomplete == 0
}

// Sweep harvests every category of every date and writes one merged snapshot
// per date. Categories the existing snapshot marks complete are skipped unless
// Force is set, and their records are carried into the rewritten snapshot.
func (o *Orchestrator) Sweep(ctx context.Context, req SweepRequest) (*CycleSummary, error) {
	cyc, err := o.newCycle("sweep")
	if err != nil {
		return nil, err
	}

	categories := req.Categories
	if len(categories) == 0 {
		categories = o.config.Categories
	}

	summary := &CycleSummary{
		RunID:   cyc.runID,
		Results: make(map[string]*harvest.Result),
	}
	sketch := hll.New()

	var runErr error
	for _, date := range req.Dates {
		dateKey := date.Format(partition.DateLayout)
		logger := cyc.logger.With().Str("date", dateKey).Logger()
		path := cyc.writer.PathFor(dateKey)

		base := loadSnapshot(logger, path)

		var results []*harvest.Result
		for _, cat := range categories {
			p := partition.ForDate(o.src.Name(), cat, date)

			if !req.Force && base.IsComplete(cat) {
				summary.PartitionsSkipped++
				partitionsSkipped.Inc()
				logger.Info().Str("category", cat).Msg("Already complete on disk, skipping")
				continue
			}

			res, err := o.runPartition(ctx, cyc, p, req.MaxWait)
			if res != nil {
				results = append(results, res)
				summary.Results[p.Key()] = res
				summary.PartitionsRun++
				if res.IsComplete {
					summary.PartitionsComplete++
				} else {
					summary.PartitionsIncomplete++
				}
			}
			if err != nil {
				runErr = err
				break
			}
		}

		snap := base
		if len(results) > 0 {
			written, path, err := cyc.writer.Write(context.WithoutCancel(ctx), snapshot.Request{
				Key:       dateKey,
				PaperDate: dateKey,
				FetchMode: snapshot.ModeComplete,
				RunID:     cyc.runID,
				Base:      base,
				Results:   results,
			})
			if err != nil {
				logger.Error().Err(err).Msg("Failed to write snapshot")
				if runErr == nil {
					runErr = err
				}
			} else {
				snap = written
				summary.Snapshots = append(summary.Snapshots, path)
			}
		}

		if snap != nil {
			summary.Records += len(snap.Records)
			for _, rec := range snap.Records {
				sketch.Insert([]byte(rec.ID))
			}
		}

		if runErr != nil {
			break
		}
	}

	summary.DistinctRecords = sketch.Estimate()
	summary.Elapsed = o.clock.Now().Sub(cyc.start)
	distinctRecords.Set(float64(summary.DistinctRecords))

	result := "ok"
	if runErr != nil {
		result = "error"
	} else {
		lastCycleSuccess.SetToCurrentTime()
	}
	cyclesTotal.WithLabelValues("sweep", result).Inc()

	cyc.logger.Info().
		Int("run", summary.PartitionsRun).
		Int("skipped", summary.PartitionsSkipped).
		Int("complete", summary.PartitionsComplete).
		Int("incomplete", summary.PartitionsIncomplete).
		Int("records", summary.Records).
		Uint64("distinct_estimate", summary.DistinctRecords).
		Dur("elapsed", summary.Elapsed).
		Msg("Sweep finished")

	return summary, runErr
}
