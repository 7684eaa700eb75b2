// Package metrics provides centralized Prometheus metrics registry for the force client.
// All metrics are defined in their respective packages (client, session, batch,
// query, cache, usage) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the force client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - force_requests_total{method, status} (Counter): Attempts by HTTP method and status
//   - force_request_duration_seconds{method} (Histogram): Attempt duration by method
//   - force_errors_total{class} (Counter): Errors by class (network, auth, client, server,
//     ambiguous, validation, limit, parse)
//
// Session Metrics (pkg/session):
//   - force_session_refreshes_total{result} (Counter): Refresh protocol runs by result
//   - force_session_refresh_duration_seconds (Histogram): Refresh duration including retries
//   - force_session_waiters (Gauge): Calls parked behind a suspended session
//   - force_session_replays_total (Counter): Calls replayed after a 401
//   - force_refresh_retries_total (Counter): Retries of temporary refresh failures
//
// Batch Metrics (pkg/batch):
//   - force_batch_items_total{result} (Counter): Batch items by result
//   - force_batch_rejected_total (Counter): Batches rejected for their size
//   - force_batch_duration_seconds (Histogram): Time until the aggregate outcome
//
// Query Metrics (pkg/query):
//   - force_query_pages_total (Counter): Result pages fetched
//   - force_query_records_total (Counter): Records delivered to handlers
//   - force_query_streams_total{state} (Counter): Streams by final state
//
// Describe Cache Metrics (pkg/cache):
//   - force_cache_hits_total{layer} (Counter): Hits by layer (memory, redis)
//   - force_cache_misses_total (Counter): Misses
//   - force_cache_entries{layer} (Gauge): Entries held in memory
//   - force_cache_errors_total{operation} (Counter): Cache operation errors
//
// API Usage Metrics (pkg/usage):
//   - force_api_usage_used{namespace} (Gauge): Calls used in the current window
//   - force_api_usage_limit{namespace} (Gauge): Calls allowed in the window
//   - force_api_usage_parse_errors_total (Counter): Malformed Sforce-Limit-Info headers
//
// Example Prometheus Queries:
//
//   # Describe Cache Hit Rate
//   sum(rate(force_cache_hits_total[5m])) /
//   (sum(rate(force_cache_hits_total[5m])) + sum(rate(force_cache_misses_total[5m])))
//
//   # API Usage Ratio
//   force_api_usage_used / force_api_usage_limit > 0.8
//
//   # Failed Refreshes
//   rate(force_session_refreshes_total{result="failure"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(force_request_duration_seconds_bucket[5m]))
