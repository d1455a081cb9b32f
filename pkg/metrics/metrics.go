// Package metrics exposes the Prometheus registry and the HTTP endpoints of the
// harvester daemon. All metrics are defined in their respective packages and
// registered via promauto, so importing those packages is enough to export them.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the harvester.
var Registry = prometheus.DefaultRegisterer

// ReadyFunc reports whether the daemon's dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// NewMux serves /metrics, /health (liveness) and /ready. A nil ready is always ready.
func NewMux(ready ReadyFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(ready))
	return mux
}

// NewServer returns an HTTP server for NewMux on addr.
func NewServer(addr string, ready ReadyFunc) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewMux(ready),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(ready ReadyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// Metrics Documentation
//
// Upstream Metrics (pkg/client):
//   - harvest_upstream_requests_total{source, status} (Counter): Requests by source and HTTP status
//   - harvest_upstream_request_duration_seconds{source} (Histogram): Request duration
//   - harvest_upstream_errors_total{source, class} (Counter): Errors by class (client, server, rate_limit, network, parse)
//   - harvest_upstream_retries_total{source, error_class} (Counter): Per-request retries
//   - harvest_upstream_retry_backoff_seconds{error_class} (Histogram): Per-request retry backoff
//   - harvest_upstream_retry_exhausted_total{source, error_class} (Counter): Requests that exhausted retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - harvest_ratelimit_wait_seconds (Histogram): Time spent waiting for the shared limiter
//
// Record Cache Metrics (pkg/cache):
//   - harvest_record_cache_hits_total / harvest_record_cache_misses_total (Counter)
//   - harvest_record_cache_stored_bytes_total (Counter)
//   - harvest_record_cache_errors_total{operation} (Counter)
//
// Pagination Metrics (pkg/pagination):
//   - harvest_pages_fetched_total{source} / harvest_page_failures_total{source} (Counter)
//
// Checkpoint Metrics (pkg/checkpoint):
//   - harvest_checkpoint_saves_total (Counter)
//   - harvest_checkpoint_discarded_total{reason} (Counter): Corrupt or unreadable checkpoints
//   - harvest_checkpoint_migrations_total (Counter)
//
// Loop Metrics (pkg/harvest):
//   - harvest_attempts_total{source, outcome} (Counter)
//   - harvest_partitions_total{source, status} (Counter): Finished runs by status
//   - harvest_total_drift_total{source, direction} (Counter): Reported total changed between attempts
//   - harvest_backoff_delay_seconds (Histogram)
//   - harvest_records_fetched_total{source} (Counter): New unique records merged
//
// Orchestrator Metrics (pkg/orchestrator):
//   - harvest_cycles_total{mode, result} (Counter)
//   - harvest_partitions_skipped_total (Counter): Already complete on disk
//   - harvest_cycle_distinct_records (Gauge): HyperLogLog estimate for the last sweep
//   - harvest_last_cycle_success_timestamp_seconds (Gauge)
//
// Snapshot Metrics (pkg/snapshot):
//   - harvest_snapshots_written_total{status} (Counter)
//   - harvest_snapshot_records (Gauge)
//   - harvest_snapshot_publish_total{result} (Counter)
//
// Example Prometheus Queries:
//
//   # Partitions ending incomplete
//   sum by (status) (rate(harvest_partitions_total{status!="complete"}[1d]))
//
//   # Upstream error rate by class
//   sum by (class) (rate(harvest_upstream_errors_total[5m]))
//
//   # Daemon has not finished a cycle in two days
//   time() - harvest_last_cycle_success_timestamp_seconds > 172800
