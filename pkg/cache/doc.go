// Package cache provides the Redis-backed freshness cache for fresh
// sync results.
//
// A fresh (non-incremental) sync of a filter produces a first page plus
// a total count. Within the freshness window the orchestrator reuses
// that result from Redis instead of asking the catalog again: the cache
// entry is merged into the store and the range/total state exactly as a
// remote response would be.
//
// Keys are derived from the filter (one entry per logical sync series);
// Redis TTL enforces the freshness window, so expiry needs no sweeper.
//
// Example usage:
//
//	manager := cache.NewManager(redisClient, 5*time.Minute)
//	entry, err := manager.Get(ctx, filter)
//	if err == cache.ErrCacheMiss {
//		// fetch from the catalog, then:
//		err = manager.Set(ctx, filter, &cache.Entry{...})
//	}
package cache
