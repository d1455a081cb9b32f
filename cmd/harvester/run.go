package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/arxiv-harvester/pkg/metrics"
	"github.com/Sternrassler/arxiv-harvester/pkg/orchestrator"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
)

type runFlags struct {
	date          string
	categories    []string
	maxWait       time.Duration
	force         bool
	continuous    bool
	checkInterval time.Duration
	lookbackDays  int
}

func newRunCommand(g *globalFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest one date, the lookback window, or run continuously",
		Long: `Harvest every configured category for a date and write one snapshot per date.

Without --date the rolling lookback window (yesterday and the days before it)
is swept. Categories already complete on disk are skipped unless --force.
With --continuous the sweep repeats every --check-interval and /metrics,
/health and /ready are served on daemon.metrics_addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(cmd.Context(), cmd.OutOrStdout(), g, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.date, "date", "", "paper date YYYY-MM-DD (default: lookback window)")
	fl.StringSliceVar(&f.categories, "categories", nil, "categories to harvest (default: configured set)")
	fl.DurationVar(&f.maxWait, "max-wait", 0, "maximum wait per partition (default: retry.max_wait)")
	fl.BoolVar(&f.force, "force", false, "re-fetch categories already complete on disk")
	fl.BoolVar(&f.continuous, "continuous", false, "run as a daemon")
	fl.DurationVar(&f.checkInterval, "check-interval", 0, "daemon cycle interval (default: daemon.check_interval)")
	fl.IntVar(&f.lookbackDays, "lookback-days", 0, "days in the lookback window (default: daemon.lookback_days)")

	return cmd
}

func runHarvest(ctx context.Context, out io.Writer, g *globalFlags, f *runFlags) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if f.continuous && f.date != "" {
		return fmt.Errorf("--date cannot be combined with --continuous")
	}

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	lookback := cfg.Daemon.LookbackDays
	if f.lookbackDays > 0 {
		lookback = f.lookbackDays
	}

	if f.continuous {
		interval := cfg.Daemon.CheckInterval
		if f.checkInterval > 0 {
			interval = f.checkInterval
		}

		srv := metrics.NewServer(cfg.Daemon.MetricsAddr, d.ready())
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		return d.orch.RunContinuous(ctx, orchestrator.ContinuousRequest{
			Interval:     interval,
			ErrorDelay:   cfg.Daemon.ErrorDelay,
			LookbackDays: lookback,
			MaxWait:      f.maxWait,
		})
	}

	var dates []time.Time
	if f.date != "" {
		date, err := partition.ParseDate(f.date)
		if err != nil {
			return err
		}
		dates = []time.Time{date}
	} else {
		dates = partition.LookbackDates(time.Now(), lookback)
	}

	summary, err := d.orch.Sweep(ctx, orchestrator.SweepRequest{
		Dates:      dates,
		Categories: splitFlag(f.categories),
		MaxWait:    f.maxWait,
		Force:      f.force,
	})
	if summary != nil {
		printSummary(out, summary)
	}
	if err != nil {
		return err
	}
	if !summary.Complete() {
		return errIncomplete
	}
	return nil
}

func printSummary(w io.Writer, s *orchestrator.CycleSummary) {
	fmt.Fprintf(w, "run %s: %d run, %d skipped, %d complete, %d incomplete\n",
		s.RunID, s.PartitionsRun, s.PartitionsSkipped, s.PartitionsComplete, s.PartitionsIncomplete)
	fmt.Fprintf(w, "records: %d (~%d distinct) in %s\n", s.Records, s.DistinctRecords, s.Elapsed.Round(time.Second))
	for _, path := range s.Snapshots {
		fmt.Fprintf(w, "wrote %s\n", path)
	}
	for key, res := range s.Results {
		if !res.IsComplete {
			fmt.Fprintf(w, "incomplete %s: %d fetched, %s (%s)\n", key, res.Fetched(), res.Completeness(), res.Status)
		}
	}
}
