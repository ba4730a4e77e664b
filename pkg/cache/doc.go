// Package cache provides a redis-backed cache of raw beacon node responses,
// keyed by endpoint and epoch.
//
// Proposer duties for a finalized epoch never change, so a long (or zero,
// meaning unbounded) TTL lets re-runs and backfills skip epochs that were
// already fetched once.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, cache.WithNamespace("mainnet"))
//
//	key := cache.Key{Endpoint: "/eth/v1/validator/duties/proposer", Epoch: 356160}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Fetch from the beacon node, then:
//		entry, err = cache.ResponseToEntry(resp, 0)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - duty_cache_hits_total - Cache hits
//   - duty_cache_misses_total - Cache misses
//   - duty_cache_size_bytes - Bytes written to the cache
//   - duty_cache_errors_total{operation} - Cache operation errors
package cache
