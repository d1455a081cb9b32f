package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/harvest"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/snapshot"
)

// DefaultIDLabel names custom id runs when the caller gives no label.
const DefaultIDLabel = "custom"

// IDRequest fetches an explicit id list into its own snapshot.
type IDRequest struct {
	IDs   []string
	Label string

	// OutputPath overrides the default snapshot path for Label.
	OutputPath string

	MaxWait time.Duration
}

// IDResult describes one custom id run.
type IDResult struct {
	RunID  string
	Result *harvest.Result
	Path   string
}

// FetchIDs harvests an explicit id list. The snapshot keeps the requested order.
func (o *Orchestrator) FetchIDs(ctx context.Context, req IDRequest) (*IDResult, error) {
	ids := normalizeIDs(req.IDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no valid ids given")
	}
	label := req.Label
	if label == "" {
		label = DefaultIDLabel
	}

	cyc, err := o.newCycle("ids")
	if err != nil {
		return nil, err
	}

	p := partition.ForIDs(o.src.Name(), label, ids)
	res, runErr := o.runPartition(ctx, cyc, p, req.MaxWait)

	_, path, err := cyc.writer.Write(context.WithoutCancel(ctx), snapshot.Request{
		Key:       p.OutputKey(),
		Path:      req.OutputPath,
		FetchMode: snapshot.ModeCustomIDs,
		RunID:     cyc.runID,
		Results:   []*harvest.Result{res},
		Order:     ids,
	})
	if err != nil {
		cyclesTotal.WithLabelValues("ids", "error").Inc()
		return &IDResult{RunID: cyc.runID, Result: res}, err
	}

	out := &IDResult{RunID: cyc.runID, Result: res, Path: path}
	if runErr != nil {
		cyclesTotal.WithLabelValues("ids", "cancelled").Inc()
		return out, runErr
	}
	cyclesTotal.WithLabelValues("ids", "ok").Inc()
	return out, nil
}
