package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolcatalog",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolcatalog",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolcatalog",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	catalogSearches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolcatalog",
			Subsystem: "catalog",
			Name:      "searches_total",
			Help:      "Total number of catalog searches.",
		},
		[]string{"kind", "ranked"},
	)

	catalogUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolcatalog",
			Subsystem: "catalog",
			Name:      "upserts_total",
			Help:      "Total number of catalog upserts.",
		},
		[]string{"kind", "outcome"},
	)

	embeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolcatalog",
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Total number of embedding provider calls.",
		},
		[]string{"status"},
	)

	embeddingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "toolcatalog",
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Duration of embedding provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	// EmbeddingCacheHits counts embedding vectors served from cache.
	EmbeddingCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolcatalog",
			Subsystem: "embedding",
			Name:      "cache_hits_total",
			Help:      "Total number of embedding cache hits.",
		},
	)

	// EmbeddingCacheMisses counts embedding vectors that had to be computed.
	EmbeddingCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolcatalog",
			Subsystem: "embedding",
			Name:      "cache_misses_total",
			Help:      "Total number of embedding cache misses.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		catalogSearches,
		catalogUpserts,
		embeddingRequests,
		embeddingDuration,
		EmbeddingCacheHits,
		EmbeddingCacheMisses,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSearch records a catalog search. Kind is "apps" or "functions";
// ranked reports whether an intent vector drove the ordering.
func RecordSearch(kind string, ranked bool) {
	catalogSearches.WithLabelValues(kind, strconv.FormatBool(ranked)).Inc()
}

// RecordUpsert records a catalog upsert outcome ("created", "updated" or
// "unchanged").
func RecordUpsert(kind, outcome string) {
	catalogUpserts.WithLabelValues(kind, outcome).Inc()
}

// RecordEmbedding records one embedding provider call.
func RecordEmbedding(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	embeddingRequests.WithLabelValues(status).Inc()
	embeddingDuration.Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/v1"
	}
	if len(parts) == 2 {
		return "/v1/" + parts[1]
	}
	// Collapse record names into one series per resource.
	return "/v1/" + parts[1] + "/:name"
}
