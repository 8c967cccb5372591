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
	// TradesTotal counts executed decisions, partitioned by action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_trades_total",
		Help: "Total number of trading decisions executed",
	}, []string{"action"})

	// TradeLatency tracks decision execution latency by action.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "babylon_trade_latency_seconds",
		Help:    "Trading decision execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// TradeRejections counts decisions rejected before execution, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_trade_rejections_total",
		Help: "Trading decisions rejected before execution",
	}, []string{"reason"})

	// LiquidationsTotal counts forced perpetual position closes.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babylon_liquidations_total",
		Help: "Perpetual positions force-closed by the liquidation sweep",
	})

	// FundingPaymentsTotal counts applied funding ledger entries.
	FundingPaymentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babylon_funding_payments_total",
		Help: "Funding payments applied to perpetual positions",
	})

	// MarketsSettledTotal counts prediction markets resolved and paid out.
	MarketsSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babylon_markets_settled_total",
		Help: "Prediction markets settled",
	})

	// ActiveMarkets tracks the number of unresolved prediction markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "babylon_active_markets",
		Help: "Number of unresolved prediction markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "babylon_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babylon_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "babylon_http_request_duration_seconds",
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

		// Use the raw path for the label; route patterns keep cardinality low
		// because IDs are UUIDs only on a handful of routes.
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
