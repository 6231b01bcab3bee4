package etag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits counts 304 responses served from the local cache.
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backend_etag_cache_hits_total",
			Help: "Total number of 304 responses served from the ETag cache",
		},
	)

	// cacheMisses counts 304 responses with no usable local entry. Each one
	// costs an extra revalidation round-trip.
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backend_etag_cache_misses_total",
			Help: "Total number of 304 responses with no local cache entry",
		},
	)

	// cacheStores counts entries written to the store.
	cacheStores = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backend_etag_cache_stores_total",
			Help: "Total number of responses stored in the ETag cache",
		},
	)

	// storeErrors counts store operation failures by operation.
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_etag_store_errors_total",
			Help: "Total number of ETag store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear"
	)
)
