package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks freshness cache hits
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "papersync_cache_hits_total",
			Help: "Total number of freshness cache hits",
		},
	)

	// cacheMisses tracks freshness cache misses
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "papersync_cache_misses_total",
			Help: "Total number of freshness cache misses",
		},
	)

	// cacheErrors tracks cache operation errors
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papersync_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
