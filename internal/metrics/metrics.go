// Package metrics provides Prometheus instrumentation for the simulator.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerOperations counts ledger operations by kind and outcome
	// (ok, rejected, failed).
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockflow_ledger_operations_total",
		Help: "Ledger operations by kind and outcome",
	}, []string{"op", "outcome"})

	// LedgerLatency tracks end-to-end ledger operation latency, persistence included.
	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockflow_ledger_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// PersistenceFailures counts store writes that failed after a ledger change.
	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockflow_persistence_failures_total",
		Help: "Account writes that failed and were rolled back",
	})

	// FeedTicks counts market feed ticks.
	FeedTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockflow_feed_ticks_total",
		Help: "Market feed ticks",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockflow_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// AssistantCalls counts generative-AI calls by kind and outcome.
	AssistantCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockflow_assistant_calls_total",
		Help: "Assistant calls by kind and outcome",
	}, []string{"kind", "outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockflow_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockflow_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveLedger records one ledger operation.
func ObserveLedger(op, outcome string, start time.Time) {
	LedgerOperations.WithLabelValues(op, outcome).Inc()
	LedgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by route pattern so usernames and tickers don't explode cardinality.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so websocket upgrades work
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
