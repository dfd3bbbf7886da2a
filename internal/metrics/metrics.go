// Package metrics provides Prometheus instrumentation for the margin ledger.
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
	// OperationsTotal counts engine operations by name and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_ledger_operations_total",
		Help: "Total number of ledger operations",
	}, []string{"op", "result"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_ledger_operation_duration_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"op"})

	// LiquidationsTotal counts liquidations by kind (partial or full).
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_ledger_liquidations_total",
		Help: "Total number of liquidations",
	}, []string{"market_id", "kind"})

	// ArithmeticOverflows should stay at zero.
	ArithmeticOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_ledger_arithmetic_overflows_total",
		Help: "Operations aborted by fixed-point overflow",
	}, []string{"market_id", "op"})

	OpenInterest = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margin_ledger_open_interest_notional",
		Help: "Open interest notional per market",
	}, []string{"market_id"})

	InsuranceFund = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margin_ledger_insurance_fund",
		Help: "Insurance fund balance per market",
	}, []string{"market_id"})

	PrepaidBadDebt = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margin_ledger_prepaid_bad_debt",
		Help: "Uncovered bad debt per market",
	}, []string{"market_id"})

	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margin_ledger_open_positions",
		Help: "Number of open positions per market",
	}, []string{"market_id"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "margin_ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_ledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// JobRunsTotal counts scheduled job executions.
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_ledger_job_runs_total",
		Help: "Scheduled job runs",
	}, []string{"job", "result"})
)

// ObserveOperation records one engine operation.
func ObserveOperation(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveMarket publishes the market gauges. Values are already converted to float for display.
func ObserveMarket(marketID string, openInterest, insurance, badDebt float64, positions int) {
	OpenInterest.WithLabelValues(marketID).Set(openInterest)
	InsuranceFund.WithLabelValues(marketID).Set(insurance)
	PrepaidBadDebt.WithLabelValues(marketID).Set(badDebt)
	OpenPositions.WithLabelValues(marketID).Set(float64(positions))
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
