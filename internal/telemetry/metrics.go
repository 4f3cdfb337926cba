// Package telemetry provides application-level observability for the collection hub.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<HUB_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Collection import attempt/success/failure counters
//   - Collection artifact download attempt/success/failure counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v3/imports/collections/:task_id/)
// rather than the raw request URL so task identifiers and filenames never become label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Collection import metrics, recorded by the publication pipeline.
//
// CollectionImportFailuresTotal carries a {reason} label holding the failure
// class (malformed_artifact, invalid_identity, namespace_not_found, forbidden,
// upstream, internal).
//
// Example PromQL queries:
//   - Failure ratio:        rate(collection_import_failures_total[1h]) / rate(collection_import_attempts_total[1h])
//   - Upstream outages:     increase(collection_import_failures_total{reason="upstream"}[15m]) > 0
var (
	CollectionImportAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_import_attempts_total",
			Help: "Total number of collection artifact uploads attempted.",
		},
	)

	CollectionImportSuccessesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_import_successes_total",
			Help: "Total number of collection artifact uploads accepted upstream and recorded locally.",
		},
	)

	CollectionImportFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_import_failures_total",
			Help: "Total number of failed collection artifact uploads, by failure reason.",
		},
		[]string{"reason"},
	)
)

// Collection artifact download metrics, recorded by the download proxy.
//
// CollectionArtifactDownloadFailuresTotal carries a {status} label holding the
// upstream HTTP status code, or "error" when no response was received.
var (
	CollectionArtifactDownloadAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_artifact_download_attempts_total",
			Help: "Total number of collection artifact downloads attempted.",
		},
	)

	CollectionArtifactDownloadSuccessesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collection_artifact_download_successes_total",
			Help: "Total number of collection artifact downloads served or redirected.",
		},
	)

	CollectionArtifactDownloadFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_artifact_download_failures_total",
			Help: "Total number of failed collection artifact downloads, by upstream status.",
		},
		[]string{"status"},
	)
)

// DBOpenConnections tracks the number of open connections held by the pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when the database becomes unreachable, which happens once
// main.go closes the pool on shutdown.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
