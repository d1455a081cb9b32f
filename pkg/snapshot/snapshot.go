// Package snapshot writes the persisted output of a harvest: one JSON file per
// date (or per custom id run) holding the merged, deduplicated records and the
// completeness metadata of every sub-partition that contributed to it.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

// Fetch modes recorded in metadata.
const (
	ModeComplete  = "100_percent_complete"
	ModeCustomIDs = "custom_ids"
	ModeGapFill   = "gap_fill"
)

// Completeness status values.
const (
	StatusComplete   = "100_COMPLETE"
	StatusIncomplete = "INCOMPLETE"
)

// SubPartition is the metadata of one partition merged into a snapshot.
type SubPartition struct {
	PartitionKey  string  `json:"partition_key"`
	DateRange     string  `json:"date_range,omitempty"`
	PapersFetched int     `json:"papers_fetched"`
	ExpectedTotal *int    `json:"expected_total"`
	Completeness  string  `json:"completeness"`
	IsComplete    bool    `json:"is_complete"`
	Status        string  `json:"status,omitempty"`
	Attempts      int     `json:"attempts"`
	ElapsedHours  float64 `json:"elapsed_hours"`
}

// Metadata is the snapshot header.
type Metadata struct {
	FetchMode          string                  `json:"fetch_mode"`
	FetchDate          time.Time               `json:"fetch_date"`
	PaperDate          string                  `json:"paper_date,omitempty"`
	PartitionKey       string                  `json:"partition_key"`
	TotalPapers        int                     `json:"total_papers"`
	ExpectedTotal      *int                    `json:"expected_total"`
	Completeness       string                  `json:"completeness"`
	CompletenessStatus string                  `json:"completeness_status"`
	IsComplete         bool                    `json:"is_complete"`
	TotalAttempts      int                     `json:"total_attempts"`
	ElapsedHours       float64                 `json:"elapsed_hours"`
	RunID              string                  `json:"run_id,omitempty"`
	SubPartitions      map[string]SubPartition `json:"sub_partitions"`
}

// Snapshot is the persisted artifact.
type Snapshot struct {
	Metadata Metadata        `json:"metadata"`
	Records  []record.Record `json:"records"`
}

// Load reads a snapshot file. A missing file yields an error wrapping os.ErrNotExist.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if snap.Metadata.SubPartitions == nil {
		snap.Metadata.SubPartitions = make(map[string]SubPartition)
	}
	return &snap, nil
}

// IsComplete reports whether the sub-partition label is marked complete.
func (s *Snapshot) IsComplete(label string) bool {
	if s == nil {
		return false
	}
	sub, ok := s.Metadata.SubPartitions[label]
	return ok && sub.IsComplete
}

// IDs returns the record ids in file order.
func (s *Snapshot) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, len(s.Records))
	for i, rec := range s.Records {
		ids[i] = rec.ID
	}
	return ids
}
