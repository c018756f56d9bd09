// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled trades, partitioned by side and trigger
	// (market, match, sweep).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_trades_total",
		Help: "Total number of trades settled",
	}, []string{"side", "trigger"})

	// SettlementLatency tracks settlement duration in seconds.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocksim_settlement_latency_seconds",
		Help:    "Trade settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// OrdersPlaced counts limit orders accepted onto the book.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_orders_placed_total",
		Help: "Limit orders accepted",
	}, []string{"side"})

	// OrdersMatched counts immediate order-to-order matches.
	OrdersMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocksim_orders_matched_total",
		Help: "Limit orders matched directly against a resting order",
	})

	// OrdersCancelled counts cancellations, partitioned by reason
	// (user, expired).
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_orders_cancelled_total",
		Help: "Pending orders cancelled",
	}, []string{"reason"})

	// SweepErrors counts per-order failures during a sweep.
	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocksim_sweep_errors_total",
		Help: "Orders a sweep pass failed to process",
	})

	// PendingOrders tracks the approximate size of the resting book.
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stocksim_pending_orders",
		Help: "Pending limit orders resting on the book",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocksim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
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
