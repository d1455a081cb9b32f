package harvest

import (
	"fmt"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

// Status says how a loop run ended.
type Status string

const (
	// StatusComplete means the completeness oracle accepted the record set.
	StatusComplete Status = "complete"

	// StatusStalled means progress stopped short of a known expected total.
	StatusStalled Status = "stalled"

	// StatusTimedOut means the max wait elapsed first.
	StatusTimedOut Status = "timed_out"

	// StatusCancelled means the caller's context ended the run.
	StatusCancelled Status = "cancelled"

	// StatusUnsupported means the source cannot serve this kind of partition.
	StatusUnsupported Status = "unsupported"

	// StatusFailed means the run aborted unexpectedly (orchestrator-level recovery).
	StatusFailed Status = "failed"
)

// Result is the outcome of one loop run. It is not modified after Run returns.
type Result struct {
	Partition partition.Partition
	Records   []record.Record

	// Attempts is cumulative across runs that resumed the same checkpoint.
	Attempts int

	// Elapsed is the wall-clock time of this run only.
	Elapsed time.Duration

	ExpectedTotal        *int
	CompletenessFraction *float64
	IsComplete           bool
	Status               Status

	// Calls counts upstream calls issued during this run.
	Calls int
}

// Fetched returns the number of records obtained.
func (r *Result) Fetched() int {
	return len(r.Records)
}

// Completeness renders the fraction as "100%", "62.4%" or "unknown".
func (r *Result) Completeness() string {
	return FormatCompleteness(r.CompletenessFraction, r.IsComplete)
}

// FormatCompleteness renders a completeness fraction the way snapshot
// metadata expects it.
func FormatCompleteness(fraction *float64, complete bool) string {
	if fraction == nil {
		return "unknown"
	}
	if complete && *fraction >= 1 {
		return "100%"
	}
	return fmt.Sprintf("%.1f%%", *fraction*100)
}

// Fraction computes fetched/expected. An expected total of zero counts as fully satisfied.
func Fraction(fetched int, expected *int) *float64 {
	if expected == nil {
		return nil
	}
	f := 1.0
	if *expected > 0 {
		f = float64(fetched) / float64(*expected)
	}
	return &f
}

// IsOracleComplete is the completeness predicate applied at loop exit: an
// unknown total is accepted, a known one must be reached.
func IsOracleComplete(fetched int, expected *int) bool {
	return expected == nil || fetched >= *expected
}
