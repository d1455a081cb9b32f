package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/harvest"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/Sternrassler/arxiv-harvester/pkg/snapshot"
)

// GapFillLabel names the gap-fill sub-partition in snapshot metadata.
const GapFillLabel = "gap_fill"

// GapFillRequest fills the ids a date's snapshot is missing.
type GapFillRequest struct {
	Date time.Time

	// Categories whose listings form the superset; defaults to the configured set.
	Categories []string

	// Superset, when set, replaces the listing lookup.
	Superset []string

	// PreserveOrder sorts the rewritten snapshot by superset position.
	PreserveOrder bool

	MaxWait time.Duration
}

// GapFillResult describes one gap fill.
type GapFillResult struct {
	RunID     string
	Superset  int
	Persisted int

	// Missing is the superset minus the persisted ids, in superset order.
	Missing []string

	// Result is nil when nothing was missing.
	Result *harvest.Result
	Path   string
}

// GapFill computes the superset minus the persisted ids for a date and fetches only the gap.
func (o *Orchestrator) GapFill(ctx context.Context, req GapFillRequest) (*GapFillResult, error) {
	cyc, err := o.newCycle("gapfill")
	if err != nil {
		return nil, err
	}

	dateKey := req.Date.Format(partition.DateLayout)
	logger := cyc.logger.With().Str("date", dateKey).Logger()

	superset := normalizeIDs(req.Superset)
	if len(superset) == 0 {
		superset, err = o.listingSuperset(ctx, req)
		if err != nil {
			cyclesTotal.WithLabelValues("gapfill", "error").Inc()
			return nil, err
		}
	}

	path := cyc.writer.PathFor(dateKey)
	base := loadSnapshot(logger, path)

	persisted := make(map[string]struct{})
	for _, id := range base.IDs() {
		persisted[id] = struct{}{}
	}

	out := &GapFillResult{
		RunID:     cyc.runID,
		Superset:  len(superset),
		Persisted: len(persisted),
		Path:      path,
	}
	for _, id := range superset {
		if _, ok := persisted[id]; !ok {
			out.Missing = append(out.Missing, id)
		}
	}

	logger.Info().
		Int("superset", out.Superset).
		Int("persisted", out.Persisted).
		Int("missing", len(out.Missing)).
		Msg("Gap computed")

	if len(out.Missing) == 0 {
		cyclesTotal.WithLabelValues("gapfill", "ok").Inc()
		return out, nil
	}

	p := partition.ForIDs(o.src.Name(), GapFillLabel, out.Missing)
	res, runErr := o.runPartition(ctx, cyc, p, req.MaxWait)
	out.Result = res

	mode := snapshot.ModeGapFill
	if base != nil && base.Metadata.FetchMode != "" {
		mode = base.Metadata.FetchMode
	}
	wreq := snapshot.Request{
		Key:       dateKey,
		PaperDate: dateKey,
		FetchMode: mode,
		RunID:     cyc.runID,
		Base:      base,
		Results:   []*harvest.Result{res},
	}
	if req.PreserveOrder {
		wreq.Order = superset
	}

	if _, _, err := cyc.writer.Write(context.WithoutCancel(ctx), wreq); err != nil {
		cyclesTotal.WithLabelValues("gapfill", "error").Inc()
		return out, err
	}

	if runErr != nil {
		cyclesTotal.WithLabelValues("gapfill", "cancelled").Inc()
		return out, runErr
	}
	cyclesTotal.WithLabelValues("gapfill", "ok").Inc()
	return out, nil
}

// listingSuperset concatenates the date's listing ids across categories,
// keeping first occurrence order.
func (o *Orchestrator) listingSuperset(ctx context.Context, req GapFillRequest) ([]string, error) {
	if o.lister == nil {
		return nil, fmt.Errorf("gap fill needs a superset or a listing source")
	}

	categories := req.Categories
	if len(categories) == 0 {
		categories = o.config.Categories
	}

	var ids []string
	for _, cat := range categories {
		l, err := o.lister.Fetch(ctx, cat)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", cat, err)
		}
		ids = append(ids, l.IDsFor(req.Date)...)
	}
	return normalizeIDs(ids), nil
}

// normalizeIDs normalizes and deduplicates ids, keeping first occurrence order.
func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := record.NormalizeID(raw)
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
