// Package metrics provides Prometheus instrumentation for the quote engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// FeedBatchesTotal counts inbound feed messages by outcome
	// (applied, dropped, ignored).
	FeedBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_feed_batches_total",
		Help: "Feed messages processed, by result",
	}, []string{"result"})

	// FeedReconnectsTotal counts feed reconnect attempts.
	FeedReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quotes_feed_reconnects_total",
		Help: "Feed reconnect attempts",
	})

	// FeedConnected is 1 while a feed connection is live.
	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quotes_feed_connected",
		Help: "Whether the quote feed connection is up",
	})

	TrackedSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quotes_tracked_symbols",
		Help: "Symbols known to the symbol registry",
	})

	SnapshotSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quotes_snapshot_symbols",
		Help: "Symbols in the latest published snapshot",
	})

	// ValuationLatency tracks portfolio valuation time, including store reads.
	ValuationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quotes_valuation_latency_seconds",
		Help:    "Portfolio valuation latency in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// WebSocketClients tracks connected downstream WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quotes_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// StoreCacheTotal counts read-through cache lookups by result (hit, miss).
	StoreCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_store_cache_total",
		Help: "Read-through cache lookups",
	}, []string{"kind", "result"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quotes_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
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

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is required by the WebSocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not implement http.Hijacker", w.ResponseWriter)
	}
	return h.Hijack()
}
