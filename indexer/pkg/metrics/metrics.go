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
			Name: "givstream_indexer_build_info",
			Help: "Build information of the givstream indexer",
		},
		[]string{"version", "commit", "date"},
	)

	DistroRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "givstream_distro_refresh_total",
			Help: "Total number of token distro refreshes per network",
		},
		[]string{"network", "status"},
	)

	DistroRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "givstream_distro_refresh_duration_seconds",
			Help:    "Duration of token distro refreshes",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~205s
		},
	)

	SubgraphRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "givstream_subgraph_requests_total",
			Help: "Total number of subgraph queries",
		},
		[]string{"query", "status"},
	)

	SubgraphRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "givstream_subgraph_request_duration_seconds",
			Help:    "Duration of subgraph queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"query"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "givstream_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "givstream_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "givstream_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordSubgraphRequest records metrics for a subgraph query.
func RecordSubgraphRequest(query string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SubgraphRequestsTotal.WithLabelValues(query, status).Inc()
	SubgraphRequestDuration.WithLabelValues(query).Observe(duration.Seconds())
}
