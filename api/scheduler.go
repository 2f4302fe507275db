/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically cross-checks every costing queue against its own lots and
  against the ledger, records the outcome in metrics and keeps the last
  result for GET /api/reconciliation/last.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Never mutates stock; discrepancies are logged and reported only

USAGE:
  scheduler := NewReconciliationScheduler(reconciler, m, logger)
  scheduler.CheckInterval = 15 * time.Minute
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual check)
  - stock/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/stock"
)

// ReconciliationScheduler runs reconciliation checks on a ticker.
type ReconciliationScheduler struct {
	Reconciler    *stock.Reconciler
	Metrics       *metrics.Metrics
	Logger        logrus.FieldLogger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	resultMu  sync.RWMutex
	lastAt    time.Time
	lastFound []stock.Discrepancy
	ran       bool
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(r *stock.Reconciler, m *metrics.Metrics, logger logrus.FieldLogger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Reconciler:    r,
		Metrics:       m,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("reconciliation scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)
	go rs.run()

	rs.Logger.WithField("interval", rs.CheckInterval.String()).Info("reconciliation scheduler started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("reconciliation scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	rs.RunNow(context.Background())

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunNow performs one check and stores its result.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) ([]stock.Discrepancy, error) {
	found, err := rs.Reconciler.Check(ctx)
	if rs.Metrics != nil {
		rs.Metrics.RecordReconcile(len(found), err)
	}
	if err != nil {
		rs.Logger.WithError(err).Error("reconciliation failed")
		return nil, err
	}

	for _, d := range found {
		rs.Logger.WithFields(logrus.Fields{
			"item":     d.Key.Item,
			"location": d.Key.Location,
			"kind":     d.Kind,
		}).Warn(d.Detail)
	}

	rs.resultMu.Lock()
	rs.lastAt = time.Now().UTC()
	rs.lastFound = found
	rs.ran = true
	rs.resultMu.Unlock()

	rs.Logger.WithField("discrepancies", len(found)).Info("reconciliation completed")
	return found, nil
}

// Last returns the most recent successful result. ok is false before the
// first run.
func (rs *ReconciliationScheduler) Last() (at time.Time, found []stock.Discrepancy, ok bool) {
	rs.resultMu.RLock()
	defer rs.resultMu.RUnlock()
	return rs.lastAt, rs.lastFound, rs.ran
}
