package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager handles record caching with a Redis backend.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a new cache manager. ttl bounds how long a record is
// reused; non-positive values default to 24h.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get retrieves a cached record.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return entry, nil
}

// GetMany looks up ids for one source with a single MGET. It returns the
// records found (by normalized id) and the ids that still need fetching, in
// their original order.
func (m *Manager) GetMany(ctx context.Context, source string, ids []string) (map[string]record.Record, []string, error) {
	if len(ids) == 0 {
		return map[string]record.Record{}, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key{Source: source, ID: id}.String()
	}

	values, err := m.redis.MGet(ctx, keys...).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, ids, fmt.Errorf("redis mget: %w", err)
	}

	found := make(map[string]record.Record, len(ids))
	var missing []string
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			CacheMisses.Inc()
			missing = append(missing, ids[i])
			continue
		}
		entry, err := decodeEntry([]byte(s))
		if err != nil || entry.IsExpired() {
			CacheMisses.Inc()
			missing = append(missing, ids[i])
			continue
		}
		CacheHits.Inc()
		found[record.NormalizeID(ids[i])] = entry.Record
	}

	return found, missing, nil
}

// Set stores a record under its source and id.
func (m *Manager) Set(ctx context.Context, rec record.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id cannot be empty")
	}

	data, err := json.Marshal(NewEntry(rec, m.ttl, time.Now()))
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, Key{Source: rec.Source, ID: rec.ID}.String(), data, m.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheStoredBytes.Add(float64(len(data)))
	return nil
}

// SetMany stores records in one pipeline.
func (m *Manager) SetMany(ctx context.Context, recs []record.Record) error {
	if len(recs) == 0 {
		return nil
	}

	now := time.Now()
	pipe := m.redis.Pipeline()
	var stored int
	for _, rec := range recs {
		if rec.ID == "" {
			continue
		}
		data, err := json.Marshal(NewEntry(rec, m.ttl, now))
		if err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		pipe.Set(ctx, Key{Source: rec.Source, ID: rec.ID}.String(), data, m.ttl)
		stored += len(data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis pipeline: %w", err)
	}

	CacheStoredBytes.Add(float64(stored))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}
