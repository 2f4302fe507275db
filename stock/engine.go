/*
engine.go - The transfer contract offered to business documents

PURPOSE:
  Engine is what a business document calls from its lifecycle hooks:

    BeforeSubmit -> ValidateTransfers   (dry run, mutates nothing)
    AfterSubmit  -> CreateTransfers     (mutate queues, write ledger rows)
    BeforeCancel -> ValidateCancel      (dry run of the reversal)
    AfterCancel  -> CancelTransfers     (reverse queues, delete ledger rows)

  Each call builds a fresh Group, so validation of every line happens
  before any queue is mutated and nothing is persisted on failure.

CANCELLATION:
  The reversal is built from the reference's persisted ledger rows, not
  from the caller's lines (see reversal.go). The lines are only checked
  against the rows.

CONCURRENCY CONTRACT:
  The engine itself has no isolation between transactions. Writers must
  be serialized per (item, location): CreateTransfers and CancelTransfers
  take the Locker for every key they touch, and repositories reject stale
  saves with costing.ErrConcurrentModification. The default Locker is an
  in-process LocalLocker.

IDEMPOTENCY:
  CreateTransfers refuses a reference that already has ledger rows;
  CancelTransfers refuses one that has none.
*/
package stock

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/costing"
)

// Observer receives the outcome of every engine operation.
type Observer interface {
	ObserveTransfer(op string, ref Reference, lines int, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveTransfer(string, Reference, int, error, time.Duration) {}

const (
	OpValidate       = "validate"
	OpCreate         = "create"
	OpValidateCancel = "validate_cancel"
	OpCancel         = "cancel"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Repo     Repository
	Locker   Locker
	Logger   logrus.FieldLogger
	Observer Observer
}

func NewEngine(repo Repository) *Engine {
	return &Engine{
		Repo:     repo,
		Locker:   NewLocalLocker(),
		Logger:   logrus.StandardLogger().WithField("module", "stock"),
		Observer: nopObserver{},
	}
}

// ValidateTransfers checks that every line is valid and every outward line
// has enough stock, counting earlier lines of the same transaction.
func (e *Engine) ValidateTransfers(ctx context.Context, ref Reference, lines []Line) (err error) {
	defer e.observe(OpValidate, ref, len(lines), time.Now(), &err)
	if err = checkReference(ref); err != nil {
		return err
	}
	return NewGroup(e.Repo, ref).TransferStock(ctx, lines)
}

// CreateTransfers applies the lines and persists queues and ledger rows.
func (e *Engine) CreateTransfers(ctx context.Context, ref Reference, lines []Line) (records []LedgerRecord, err error) {
	defer e.observe(OpCreate, ref, len(lines), time.Now(), &err)
	if err = checkReference(ref); err != nil {
		return nil, err
	}

	unlock, err := e.locker().Lock(ctx, LinesKeys(lines))
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := e.Repo.LedgerRows(ctx, LedgerFilter{ReferenceType: ref.Type, ReferenceName: ref.Name})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, ErrAlreadyTransferred
	}

	g := NewGroup(e.Repo, ref)
	if err = g.TransferStock(ctx, lines); err != nil {
		return nil, err
	}
	if err = g.Sync(ctx); err != nil {
		return nil, err
	}
	return g.Records(), nil
}

// ValidateCancel checks that the reversal can be applied: lines match the
// committed rows and every location that received stock still holds it.
func (e *Engine) ValidateCancel(ctx context.Context, ref Reference, lines []Line) (err error) {
	defer e.observe(OpValidateCancel, ref, len(lines), time.Now(), &err)
	if err = checkReference(ref); err != nil {
		return err
	}
	rows, err := e.transferredRows(ctx, ref, lines)
	if err != nil {
		return err
	}
	return NewGroup(e.Repo, ref).Reverse(ctx, rows)
}

// CancelTransfers undoes the reference's rows and deletes them.
func (e *Engine) CancelTransfers(ctx context.Context, ref Reference, lines []Line) (err error) {
	defer e.observe(OpCancel, ref, len(lines), time.Now(), &err)
	if err = checkReference(ref); err != nil {
		return err
	}

	rows, err := e.transferredRows(ctx, ref, lines)
	if err != nil {
		return err
	}
	unlock, err := e.locker().Lock(ctx, RecordsKeys(rows))
	if err != nil {
		return err
	}
	defer unlock()

	// Re-read under the lock: a concurrent cancel may have won.
	if rows, err = e.transferredRows(ctx, ref, lines); err != nil {
		return err
	}

	g := NewGroup(e.Repo, ref)
	if err = g.Reverse(ctx, rows); err != nil {
		return err
	}
	return g.Sync(ctx)
}

// Queue returns the persisted queue for (item, location).
func (e *Engine) Queue(ctx context.Context, item, location string) (*costing.Queue, error) {
	return e.Repo.LoadQueue(ctx, item, location)
}

// Available returns the quantity on hand at (item, location).
func (e *Engine) Available(ctx context.Context, item, location string) (decimal.Decimal, error) {
	q, err := e.Repo.LoadQueue(ctx, item, location)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Quantity(), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// transferredRows loads the reference's rows and checks lines against them.
func (e *Engine) transferredRows(ctx context.Context, ref Reference, lines []Line) ([]LedgerRecord, error) {
	rows, err := e.Repo.LedgerRows(ctx, LedgerFilter{ReferenceType: ref.Type, ReferenceName: ref.Name})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotTransferred
	}
	if err := MatchLines(lines, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) locker() Locker {
	if e.Locker == nil {
		return nopLocker{}
	}
	return e.Locker
}

func (e *Engine) observe(op string, ref Reference, lines int, start time.Time, errp *error) {
	err := *errp
	elapsed := time.Since(start)
	if e.Observer != nil {
		e.Observer.ObserveTransfer(op, ref, lines, err, elapsed)
	}
	if e.Logger == nil {
		return
	}

	log := e.Logger.WithFields(logrus.Fields{
		"op":             op,
		"reference_type": ref.Type,
		"reference_name": ref.Name,
		"lines":          lines,
		"elapsed_ms":     elapsed.Milliseconds(),
	})
	switch {
	case err == nil:
		log.Debug("stock transfer ok")
	case errors.Is(err, costing.ErrInsufficientStock):
		log.WithError(err).Warn("insufficient stock")
	case costing.IsClientError(err) || IsInvalidInput(err) ||
		errors.Is(err, ErrAlreadyTransferred) || errors.Is(err, ErrNotTransferred):
		log.WithError(err).Info("stock transfer rejected")
	default:
		log.WithError(err).Error("stock transfer failed")
	}
}

func checkReference(ref Reference) error {
	if ref.Type == "" || ref.Name == "" {
		return ErrInvalidReference
	}
	return nil
}
