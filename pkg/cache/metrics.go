package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "force_cache_hits_total",
			Help: "Total number of describe cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks lookups that missed every layer
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "force_cache_misses_total",
			Help: "Total number of describe cache misses",
		},
	)

	// CacheEntries tracks entries held per layer
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "force_cache_entries",
			Help: "Current number of cached describe entries",
		},
		[]string{"layer"}, // "memory"
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "force_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
