// Package cache provides a Redis-backed record cache.
//
// Records fetched by identifier are stored under a deterministic key so that a
// later id-list fetch (gap fill, custom id runs, a second process sharing the
// same Redis) can skip the upstream round-trip for ids it has already seen.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	found, missing, err := manager.GetMany(ctx, "arxiv", ids)
//	if err != nil {
//		// treat everything as missing
//	}
//	// fetch `missing` upstream, then
//	_ = manager.SetMany(ctx, fetched)
//
// # Metrics
//
//   - harvest_record_cache_hits_total - Cache hits
//   - harvest_record_cache_misses_total - Cache misses
//   - harvest_record_cache_stored_bytes_total - Bytes written
//   - harvest_record_cache_errors_total{operation} - Cache operation errors
//
// The cache is advisory: every caller must work unchanged when it is absent
// or failing.
package cache
