// Package checkpoint persists per-partition harvest progress so an interrupted
// run resumes without re-fetching what it already has.
package checkpoint

import (
	"errors"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

// CurrentVersion is the schema version written by Save.
const CurrentVersion = 1

// ErrCorrupt marks stored state that cannot be decoded.
var ErrCorrupt = errors.New("checkpoint corrupt")

// Checkpoint is the durable progress of one partition. FetchedIDs and
// FetchedRecords are index-aligned: FetchedIDs[i] == FetchedRecords[i].ID.
// Mutate them only through Add.
type Checkpoint struct {
	Version        int             `json:"version"`
	PartitionKey   string          `json:"partition_key"`
	FetchedIDs     []string        `json:"fetched_ids"`
	FetchedRecords []record.Record `json:"fetched_records"`
	ExpectedTotal  *int            `json:"expected_total,omitempty"`
	Attempts       int             `json:"attempts"`
	LastAttemptAt  time.Time       `json:"last_attempt_at"`

	index map[string]struct{}
}

// New returns an empty checkpoint for key.
func New(key string) *Checkpoint {
	return &Checkpoint{
		Version:        CurrentVersion,
		PartitionKey:   key,
		FetchedIDs:     []string{},
		FetchedRecords: []record.Record{},
		index:          make(map[string]struct{}),
	}
}

// Add appends rec unless its id is empty or already present. It reports
// whether the record was new.
func (c *Checkpoint) Add(rec record.Record) bool {
	if rec.ID == "" {
		return false
	}
	if c.index == nil {
		c.reindex()
	}
	if _, ok := c.index[rec.ID]; ok {
		return false
	}
	c.index[rec.ID] = struct{}{}
	c.FetchedIDs = append(c.FetchedIDs, rec.ID)
	c.FetchedRecords = append(c.FetchedRecords, rec)
	return true
}

// Has reports whether id was already fetched.
func (c *Checkpoint) Has(id string) bool {
	if c.index == nil {
		c.reindex()
	}
	_, ok := c.index[id]
	return ok
}

// Len returns the number of fetched records.
func (c *Checkpoint) Len() int {
	return len(c.FetchedIDs)
}

// Records returns a copy of the fetched records in fetch order.
func (c *Checkpoint) Records() []record.Record {
	out := make([]record.Record, len(c.FetchedRecords))
	copy(out, c.FetchedRecords)
	return out
}

// Expected returns the expected total and whether it is known.
func (c *Checkpoint) Expected() (int, bool) {
	if c.ExpectedTotal == nil {
		return 0, false
	}
	return *c.ExpectedTotal, true
}

// SetExpected records total as the expected partition size.
func (c *Checkpoint) SetExpected(total int) {
	c.ExpectedTotal = &total
}

// Satisfied reports whether the expected total is known and reached.
func (c *Checkpoint) Satisfied() bool {
	total, ok := c.Expected()
	return ok && c.Len() >= total
}

func (c *Checkpoint) reindex() {
	c.index = make(map[string]struct{}, len(c.FetchedIDs))
	for _, id := range c.FetchedIDs {
		c.index[id] = struct{}{}
	}
}

// rebuild restores lock-step from the payloads, which are authoritative:
// ids without a payload are dropped and duplicate payloads collapse to the
// first. It returns how many ids were dropped.
func (c *Checkpoint) rebuild() int {
	before := len(c.FetchedIDs)
	recs := c.FetchedRecords

	c.FetchedIDs = make([]string, 0, len(recs))
	c.FetchedRecords = make([]record.Record, 0, len(recs))
	c.index = make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		c.Add(rec)
	}

	return max(before-len(c.FetchedIDs), 0)
}
