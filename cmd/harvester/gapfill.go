package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/arxiv-harvester/pkg/orchestrator"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
)

type gapFillFlags struct {
	date          string
	categories    []string
	preserveOrder bool
	idsFile       string
	maxWait       time.Duration
}

func newGapFillCommand(g *globalFlags) *cobra.Command {
	f := &gapFillFlags{}

	cmd := &cobra.Command{
		Use:   "gapfill",
		Short: "Fetch the ids a date's snapshot is missing from the listing",
		Long: `Compare the ids announced for a date (the category listings, or --ids-file)
with the ids already in that date's snapshot and fetch only the difference.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGapFill(cmd.Context(), cmd.OutOrStdout(), g, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.date, "date", "", "paper date YYYY-MM-DD")
	fl.StringSliceVar(&f.categories, "categories", nil, "listing categories (default: configured set)")
	fl.BoolVar(&f.preserveOrder, "preserve-order", false, "order the snapshot by superset position")
	fl.StringVar(&f.idsFile, "ids-file", "", "superset ids, one per line (skips the listing)")
	fl.DurationVar(&f.maxWait, "max-wait", 0, "maximum wait (default: retry.max_wait)")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func runGapFill(ctx context.Context, out io.Writer, g *globalFlags, f *gapFillFlags) error {
	date, err := partition.ParseDate(f.date)
	if err != nil {
		return err
	}

	var superset []string
	if f.idsFile != "" {
		if superset, err = readIDsFile(f.idsFile); err != nil {
			return err
		}
	}

	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.orch.GapFill(ctx, orchestrator.GapFillRequest{
		Date:          date,
		Categories:    splitFlag(f.categories),
		Superset:      superset,
		PreserveOrder: f.preserveOrder,
		MaxWait:       f.maxWait,
	})
	if res != nil {
		fmt.Fprintf(out, "superset %d, persisted %d, missing %d\n", res.Superset, res.Persisted, len(res.Missing))
		if res.Result != nil {
			fmt.Fprintf(out, "fetched %d, %s (%s)\nwrote %s\n", res.Result.Fetched(), res.Result.Completeness(), res.Result.Status, res.Path)
		}
	}
	if err != nil {
		return err
	}
	if res.Result != nil && !res.Result.IsComplete {
		return errIncomplete
	}
	return nil
}
