// Package cache keeps describe metadata close to the client.
//
// Describe results change rarely and are requested often, so the manager
// layers an in-process LRU over an optional Redis store:
//
//   - memory: bounded LRU, always present
//   - redis: shared between processes, enabled when a client is configured
//
// Entries carry their own expiry. A Redis hit is promoted into memory.
//
// # Basic Usage
//
//	manager, err := cache.NewManager(cache.Options{
//		MaxEntries: 256,
//		Redis:      redisClient, // optional
//	})
//
//	key := cache.Key{Instance: "https://na1.example.com", Version: "23.0", Object: "Account"}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch and Set
//	}
//
// # Metrics
//
//   - force_cache_hits_total{layer} - hits by layer (memory, redis)
//   - force_cache_misses_total - misses in every layer
//   - force_cache_entries{layer="memory"} - entries held in memory
//   - force_cache_errors_total{operation} - redis operation errors
package cache
