package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks record cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_record_cache_hits_total",
			Help: "Total number of record cache hits",
		},
	)

	// CacheMisses tracks record cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_record_cache_misses_total",
			Help: "Total number of record cache misses",
		},
	)

	// CacheStoredBytes tracks bytes written to the cache
	CacheStoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_record_cache_stored_bytes_total",
			Help: "Total bytes of record payloads written to the cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_record_cache_errors_total",
			Help: "Total number of record cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
