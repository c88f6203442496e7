package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "Current number of HTTP requests being processed",
		},
	)

	// CaseTransitions counts lifecycle changes by target status.
	CaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_transitions_total",
			Help: "Case lifecycle transitions by target status and outcome",
		},
		[]string{"status", "outcome"},
	)

	// SSEClients tracks open change-stream subscriptions.
	SSEClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connected_clients",
			Help: "Currently connected change-stream subscribers",
		},
	)

	registerOnce sync.Once
)

// RegisterMetrics registers the collectors once per process.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			httpRequestsInProgress,
			CaseTransitions,
			SSEClients,
		)
	})
}

// normalizePath replaces id segments (numbers, ObjectIDs, UUIDs, long
// tokens) with ":id" so label cardinality stays bounded.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if isIDSegment(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")

	if len(normalized) > 100 {
		normalized = normalized[:100]
	}
	return normalized
}

func isIDSegment(part string) bool {
	if part == "" {
		return false
	}
	if len(part) > 20 {
		return true
	}
	if _, err := strconv.ParseUint(part, 10, 64); err == nil {
		return true
	}
	_, err := uuid.Parse(part)
	return err == nil
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		httpRequestsInProgress.Inc()
		defer httpRequestsInProgress.Dec()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

func GetMetricsHandler() http.Handler {
	return promhttp.Handler()
}
