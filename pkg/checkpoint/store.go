package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/arxiv-harvester/internal/atomicfile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	checkpointSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_checkpoint_saves_total",
		Help: "Checkpoints written to disk",
	})

	checkpointDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_checkpoint_discarded_total",
			Help: "Stored checkpoints discarded on load",
		},
		[]string{"reason"},
	)

	checkpointMigrated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_checkpoint_migrations_total",
		Help: "Checkpoints upgraded from an older schema on load",
	})
)

// FileStore keeps one JSON file per partition under a directory.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "checkpoint").Logger(),
	}, nil
}

// Path returns the file that holds key's checkpoint.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, "checkpoint_"+key+".json")
}

// Load returns the stored checkpoint for key, or an empty one when none exists.
// Unreadable or corrupt files are discarded with a warning.
func (s *FileStore) Load(key string) *Checkpoint {
	path := s.Path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			checkpointDiscarded.WithLabelValues("unreadable").Inc()
			s.logger.Warn().Err(err).Str("path", path).Msg("Checkpoint unreadable, starting fresh")
		}
		return New(key)
	}

	cp, mig, err := Decode(key, data)
	if err != nil {
		checkpointDiscarded.WithLabelValues("corrupt").Inc()
		s.logger.Warn().Err(err).Str("path", path).Msg("Checkpoint corrupt, starting fresh")
		return New(key)
	}

	if mig.FromVersion < CurrentVersion {
		checkpointMigrated.Inc()
		s.logger.Info().
			Str("partition", key).
			Int("from_version", mig.FromVersion).
			Int("dropped_ids", mig.DroppedIDs).
			Msg("Migrated legacy checkpoint")
	} else if mig.DroppedIDs > 0 {
		s.logger.Warn().
			Str("partition", key).
			Int("dropped_ids", mig.DroppedIDs).
			Msg("Checkpoint ids without payload dropped")
	}

	return cp
}

// Save writes cp atomically. A crash mid-save leaves the previous file intact.
func (s *FileStore) Save(cp *Checkpoint) error {
	if cp.PartitionKey == "" {
		return fmt.Errorf("checkpoint has no partition key")
	}
	cp.Version = CurrentVersion

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := atomicfile.WriteFile(s.Path(cp.PartitionKey), data, 0o644); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.PartitionKey, err)
	}

	checkpointSaves.Inc()
	s.logger.Debug().
		Str("partition", cp.PartitionKey).
		Int("fetched", cp.Len()).
		Int("attempts", cp.Attempts).
		Msg("Checkpoint saved")
	return nil
}

// Clear deletes key's checkpoint. Clearing a missing checkpoint is not an error.
func (s *FileStore) Clear(key string) error {
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear checkpoint %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a checkpoint file is present for key.
func (s *FileStore) Exists(key string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}
