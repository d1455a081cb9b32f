package cache

import (
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

// Entry represents a cached record.
type Entry struct {
	// Record is the cached payload.
	Record record.Record `json:"record"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the record was stored.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry wraps rec with an expiry ttl from now.
func NewEntry(rec record.Record, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		Record:   rec,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
