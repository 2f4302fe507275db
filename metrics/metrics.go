// Package metrics exposes Prometheus metrics for the stock ledger service.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/stock"
)

// Result labels.
const (
	ResultOK                = "ok"
	ResultInsufficientStock = "insufficient_stock"
	ResultRejected          = "rejected"
	ResultConflict          = "conflict"
	ResultError             = "error"
)

// Metrics holds all stock ledger metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Transfer metrics
	TransfersTotal    *prometheus.CounterVec
	TransferDuration  *prometheus.HistogramVec
	TransferLines     *prometheus.HistogramVec
	InsufficientStock *prometheus.CounterVec

	// Reconciliation metrics
	ReconcileRuns          *prometheus.CounterVec
	ReconcileDiscrepancies prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ stock.Observer = (*Metrics)(nil)

// New creates a Metrics instance on its own registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer contract calls by operation and result",
		},
		[]string{"op", "result"},
	)
	m.TransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Transfer contract call duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op"},
	)
	m.TransferLines = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_lines",
			Help:      "Number of lines per transfer call",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"op"},
	)
	m.InsufficientStock = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insufficient_stock_total",
			Help:      "Transfers rejected for insufficient stock",
		},
		[]string{"op", "reference_type"},
	)
	m.ReconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation runs by result",
		},
		[]string{"result"},
	)
	m.ReconcileDiscrepancies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_discrepancies",
			Help:      "Discrepancies found by the last reconciliation run",
		},
	)
	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	registry.MustRegister(
		m.TransfersTotal,
		m.TransferDuration,
		m.TransferLines,
		m.InsufficientStock,
		m.ReconcileRuns,
		m.ReconcileDiscrepancies,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTransfer implements stock.Observer.
func (m *Metrics) ObserveTransfer(op string, ref stock.Reference, lines int, err error, elapsed time.Duration) {
	result := Result(err)
	m.TransfersTotal.WithLabelValues(op, result).Inc()
	m.TransferDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	m.TransferLines.WithLabelValues(op).Observe(float64(lines))
	if result == ResultInsufficientStock {
		m.InsufficientStock.WithLabelValues(op, ref.Type).Inc()
	}
}

// RecordReconcile records one reconciliation run.
func (m *Metrics) RecordReconcile(discrepancies int, err error) {
	if err != nil {
		m.ReconcileRuns.WithLabelValues(ResultError).Inc()
		return
	}
	m.ReconcileRuns.WithLabelValues(ResultOK).Inc()
	m.ReconcileDiscrepancies.Set(float64(discrepancies))
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Result classifies an engine error into a metric label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, costing.ErrInsufficientStock):
		return ResultInsufficientStock
	case costing.IsRetryable(err) || errors.Is(err, lock.ErrNotObtained):
		return ResultConflict
	case costing.IsClientError(err) || stock.IsInvalidInput(err),
		errors.Is(err, stock.ErrAlreadyTransferred), errors.Is(err, stock.ErrNotTransferred):
		return ResultRejected
	default:
		return ResultError
	}
}
