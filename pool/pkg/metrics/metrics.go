package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "revpool_build_info",
			Help: "Build information of the revenue sharing pool",
		},
		[]string{"version", "commit", "date"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revpool_operations_total",
			Help: "Total number of pool operations",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revpool_operation_duration_seconds",
			Help:    "Duration of pool operations, including token transfers",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
		},
		[]string{"operation"},
	)

	CurrentRound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "revpool_current_round",
			Help: "Current round id",
		},
	)

	Stakers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "revpool_stakers",
			Help: "Number of addresses with a live stake",
		},
	)

	JournalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revpool_journal_writes_total",
			Help: "Total number of journal writes",
		},
		[]string{"status"},
	)

	PendingTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revpool_pending_transfers_total",
			Help: "Total number of token transfers committed without a receipt",
		},
		[]string{"operation"},
	)

	ExportRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revpool_export_refresh_total",
			Help: "Total number of history export runs per sink",
		},
		[]string{"sink", "status"},
	)

	ExportRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revpool_export_refresh_duration_seconds",
			Help:    "Duration of history export runs per sink",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"sink"},
	)

	ExportedRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revpool_exported_rounds_total",
			Help: "Total number of round snapshots written per sink",
		},
		[]string{"sink"},
	)

	DatabaseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revpool_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"status"},
	)

	DatabaseQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "revpool_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 0.001s to ~4.1s
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revpool_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revpool_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "revpool_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordOperation records the outcome of a pool operation.
func RecordOperation(operation string, duration time.Duration, err error) {
	OperationsTotal.WithLabelValues(operation, status(err)).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDatabaseQuery records metrics for a database query.
func RecordDatabaseQuery(duration time.Duration, err error) {
	DatabaseQueriesTotal.WithLabelValues(status(err)).Inc()
	DatabaseQueryDuration.Observe(duration.Seconds())
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
