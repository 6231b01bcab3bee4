// Package metrics documents the Prometheus metrics exposed by the backend
// client. Metrics are defined in their owning packages (diagnostics, etag)
// and registered automatically through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the client.
var Registry = prometheus.DefaultRegisterer

// Metrics Reference
//
// Request metrics (pkg/diagnostics):
//   - backend_http_requests_total{endpoint, status, origin} (Counter):
//     requests by endpoint, final status ("network_error" for transport
//     failures) and result origin (backend/cache)
//   - backend_http_request_duration_seconds{endpoint} (Histogram):
//     total elapsed time per logical request, revalidation pass included
//   - backend_diagnostics_events_dropped_total (Counter):
//     events dropped because the diagnostics buffer was full
//
// Cache metrics (pkg/etag):
//   - backend_etag_cache_hits_total (Counter): 304s served from cache
//   - backend_etag_cache_misses_total (Counter): 304s with no local entry
//   - backend_etag_cache_stores_total (Counter): entries written
//   - backend_etag_store_errors_total{operation} (Counter): store failures
//
// Example queries:
//
//   # Cache hit rate for conditional requests
//   rate(backend_etag_cache_hits_total[5m]) /
//   (rate(backend_etag_cache_hits_total[5m]) + rate(backend_etag_cache_misses_total[5m]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(backend_http_request_duration_seconds_bucket[5m]))
