// Package telemetry provides logging setup and Prometheus metrics for the object log.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and served on the
// side-channel HTTP server started by main.go:
//
//	GET http://<host>:<OBJLOG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Entries recorded, queries served and subject resolutions
//   - Shipping failures
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/users/:id/object_log)
// rather than the raw request URL. Object log metrics never carry record ids.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
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

// Object log metrics.
//
// EntriesRecordedTotal counts successful record calls by action key. Action keys are a
// bounded, host-defined vocabulary.
//
// QueriesTotal counts list queries by dimension: "subject", "actor".
//
// SubjectResolutionsTotal counts resolve calls by type tag and result: "found",
// "not_found", "unknown_type", "error".
//
// Example PromQL queries:
//   - Write rate by action:       sum by (action) (rate(objectlog_entries_recorded_total[5m]))
//   - Dangling reference ratio:   sum(rate(objectlog_subject_resolutions_total{result="not_found"}[1h])) / sum(rate(objectlog_subject_resolutions_total[1h]))
var (
	EntriesRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectlog_entries_recorded_total",
			Help: "Total number of log entries recorded, by action.",
		},
		[]string{"action"},
	)

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectlog_queries_total",
			Help: "Total number of object log list queries, by dimension.",
		},
		[]string{"dimension"},
	)

	SubjectResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectlog_subject_resolutions_total",
			Help: "Total number of subject resolutions, by type tag and result.",
		},
		[]string{"type_tag", "result"},
	)
)

// ShipErrorsTotal counts entries a shipper failed to deliver. Shipping never fails a
// record call, so alert on rate(objectlog_ship_errors_total[15m]) > 0.
var ShipErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "objectlog_ship_errors_total",
		Help: "Total number of entries that failed to ship, by shipper type.",
	},
	[]string{"shipper"},
)

// RetentionDeletedTotal counts entries removed by the retention job.
var RetentionDeletedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "objectlog_retention_deleted_total",
		Help: "Total number of log entries deleted by the retention job.",
	},
)

// RetentionArchivedTotal counts entries exported to the archive before deletion.
var RetentionArchivedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "objectlog_retention_archived_total",
		Help: "Total number of log entries written to the retention archive.",
	},
)

// BackgroundPanicsTotal counts panics recovered in background tasks, by task label.
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "objectlog_background_panics_total",
		Help: "Total number of panics recovered in background tasks, by task.",
	},
	[]string{"task"},
)

// DBOpenConnections tracks the number of open connections held by the pool. It is sampled
// every 30 seconds by StartDBStatsCollector.
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <OBJLOG_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples pool statistics every
// 30 seconds. The goroutine exits when the database becomes unreachable, which happens
// when the application shuts down and closes the pool.
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
