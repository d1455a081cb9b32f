// Command harvester fetches complete daily snapshots of a rate-limited,
// eventually consistent paper catalog.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/arxiv-harvester/pkg/config"
	"github.com/Sternrassler/arxiv-harvester/pkg/logging"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitIncomplete = 2
)

// errIncomplete marks a run that finished normally but left partitions incomplete.
var errIncomplete = errors.New("some partitions are incomplete")

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	pretty     bool
	source     string
	outputDir  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(execute(ctx, os.Args[1:]))
}

func execute(ctx context.Context, args []string) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errIncomplete):
		return exitIncomplete
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "harvester",
		Short:         "Harvest complete daily paper snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default ./configs/config.yaml or ./config.yaml)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&g.pretty, "pretty", false, "human-readable console logs")
	pf.StringVar(&g.source, "source", "", "upstream source: arxiv or pubmed")
	pf.StringVar(&g.outputDir, "output-dir", "", "snapshot output directory")

	root.AddCommand(newRunCommand(g))
	root.AddCommand(newIDsCommand(g))
	root.AddCommand(newGapFillCommand(g))

	return root
}

// load resolves configuration with flag overrides applied, and the logger.
func (g *globalFlags) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.pretty {
		cfg.Log.Pretty = true
	}
	if g.source != "" {
		cfg.Source = g.source
	}
	if g.outputDir != "" {
		cfg.OutputDir = g.outputDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Setup(cfg.Logging()).With().Str("source", cfg.Source).Logger()
	return cfg, logger, nil
}

// splitFlag splits comma-separated flag values, dropping blanks.
func splitFlag(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
