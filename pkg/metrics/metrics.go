// Package metrics provides the centralized Prometheus metrics registry for
// the paper sync engine. All metrics are defined in their respective
// packages (client, cache, ratelimit, slots, sync, backfill) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the sync engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - papersync_quota_remaining (Gauge): Remaining calls in the current rate-limit window
//   - papersync_recommended_concurrency (Gauge): Worker count derived from the latest quota hint
//
// Slot Pool Metrics (pkg/slots):
//   - papersync_slots_in_use (Gauge): Workers currently holding a slot
//   - papersync_slot_freezes_total (Counter): Pool freezes triggered by throttling
//
// Cache Metrics (pkg/cache):
//   - papersync_cache_hits_total (Counter): Freshness cache hits
//   - papersync_cache_misses_total (Counter): Freshness cache misses
//   - papersync_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - papersync_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - papersync_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - papersync_errors_total{class} (Counter): Errors by class (throttled, transient, client, server, network)
//
// Retry Metrics (pkg/client):
//   - papersync_retries_total{error_class} (Counter): Retry attempts by error class
//   - papersync_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - papersync_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Sync Metrics (pkg/sync):
//   - papersync_pages_fetched_total (Counter): Catalog pages fetched and merged
//   - papersync_papers_inserted_total (Counter): New papers inserted into the store
//   - papersync_sync_errors_total{operation} (Counter): Sync failures by operation (fresh, more, all)
//
// Backfill Metrics (pkg/backfill):
//   - papersync_embeddings_computed_total (Counter): Embeddings computed and persisted
//   - papersync_embedding_failures_total{class} (Counter): Failed embedding calls by class
//   - papersync_backfill_runs_total (Counter): Backfill runs started
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(papersync_cache_hits_total[5m])) /
//   (sum(rate(papersync_cache_hits_total[5m])) + sum(rate(papersync_cache_misses_total[5m])))
//
//   # Quota Pressure
//   papersync_quota_remaining < 10
//
//   # Request Error Rate
//   rate(papersync_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(papersync_request_duration_seconds_bucket[5m]))
//
//   # Backfill Throughput
//   rate(papersync_embeddings_computed_total[5m])
