package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/stock"
)

func TestResult(t *testing.T) {
	insufficient := &costing.InsufficientStockError{
		Item: "widget", Location: "Main",
		Requested: decimal.NewFromInt(5), Available: decimal.NewFromInt(1),
	}
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultOK},
		{insufficient, ResultInsufficientStock},
		{fmt.Errorf("sync: %w", costing.ErrConcurrentModification), ResultConflict},
		{fmt.Errorf("%w: widget@Main", lock.ErrNotObtained), ResultConflict},
		{&stock.InvalidInputError{Reason: "bad", Err: costing.ErrInvalidRate}, ResultRejected},
		{stock.ErrAlreadyTransferred, ResultRejected},
		{stock.ErrNotTransferred, ResultRejected},
		{errors.New("disk full"), ResultError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Result(tt.err), "%v", tt.err)
	}
}

func TestObserveTransfer(t *testing.T) {
	m := New("stock_test")
	ref := stock.Reference{Type: "Shipment", Name: "SHP-1"}
	insufficient := &costing.InsufficientStockError{Item: "widget", Location: "Main"}

	m.ObserveTransfer(stock.OpCreate, ref, 2, nil, 3*time.Millisecond)
	m.ObserveTransfer(stock.OpCreate, ref, 1, insufficient, time.Millisecond)
	m.ObserveTransfer(stock.OpValidate, ref, 1, insufficient, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransfersTotal.WithLabelValues(stock.OpCreate, ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransfersTotal.WithLabelValues(stock.OpCreate, ResultInsufficientStock)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InsufficientStock.WithLabelValues(stock.OpValidate, "Shipment")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.TransferDuration))
}

func TestRecordReconcile(t *testing.T) {
	m := New("stock_test")

	m.RecordReconcile(3, nil)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReconcileDiscrepancies))

	m.RecordReconcile(0, errors.New("db down"))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReconcileDiscrepancies), "a failed run keeps the last gauge")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileRuns.WithLabelValues(ResultError)))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New("stock_test")
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/queues/{item}/{location}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queues/widget/Main", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/queues/{item}/{location}", "404")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "stock_test_http_requests_total")
}
