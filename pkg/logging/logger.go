// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup builds the process logger, sets the global level and installs the
// logger as zerolog's global. Components should receive the returned logger
// (or a child of it) rather than reading the global.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ValidLevel reports whether s names a known level.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForRun derives the logger handed to every component of one orchestrator run.
func ForRun(base zerolog.Logger, runID, mode string) zerolog.Logger {
	return base.With().Str("run_id", runID).Str("mode", mode).Logger()
}

// Log Level Guidelines:
//
// Debug: per-page detail
//   - Page fetched (partition, page, records)
//   - Cache operations (hit/miss, key)
//   - Rate limiter waits
//
// Info: lifecycle
//   - Attempt started, partition finished, snapshot written
//   - Backoff waits (delay, stalls)
//   - Cycle start/finish in continuous mode
//
// Warn: discrepancies that do not stop a run
//   - Reported total drift between attempts
//   - Checkpoint corrupt or migrated
//   - Incomplete snapshot, publish failures
//
// Error: failed attempts and runs
//   - Source errors (after client retries)
//   - Max wait exceeded
//   - Failed cycles in continuous mode
//
// Context Fields:
//   - run_id: orchestrator run identifier
//   - partition: partition key
//   - category, date: partition coordinates
//   - attempt: cumulative attempt number
//   - fetched, expected, new_records: accumulator state
//   - delay: backoff delay
//   - error_class: client, server, rate_limit, network, parse
//   - path: checkpoint or snapshot file
