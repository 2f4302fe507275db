package stock

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/costing"
)

// Discrepancy kinds.
const (
	DiscrepancyValue       = "value_mismatch"        // StockValue != Σ lots
	DiscrepancyQuantity    = "quantity_mismatch"     // queue quantity != Σ ledger quantity
	DiscrepancyLedgerValue = "ledger_value_mismatch" // StockValue != Σ ledger value change
)

type Discrepancy struct {
	Key            costing.Key
	Kind           string
	QueueQuantity  decimal.Decimal
	LedgerQuantity decimal.Decimal
	QueueValue     decimal.Decimal
	LedgerValue    decimal.Decimal
	Detail         string
}

// Reconciler cross-checks queues against their own lots and against the
// ledger. Committed rows are deleted on cancellation while the queue is
// reversed, so for every pair Σ row quantity must equal queue quantity and
// Σ row value change must equal queue StockValue.
type Reconciler struct {
	Repo Repository
}

func (r *Reconciler) Check(ctx context.Context) ([]Discrepancy, error) {
	queues, err := r.Repo.ListQueues(ctx)
	if err != nil {
		return nil, err
	}

	var out []Discrepancy
	for _, q := range queues {
		if err := q.Verify(); err != nil {
			if !errors.Is(err, costing.ErrCorruptQueue) {
				return nil, err
			}
			out = append(out, Discrepancy{
				Key:           q.Key,
				Kind:          DiscrepancyValue,
				QueueQuantity: q.Quantity(),
				Detail:        err.Error(),
			})
		}

		rows, err := r.Repo.LedgerRows(ctx, LedgerFilter{Item: q.Item, Location: q.Location})
		if err != nil {
			return nil, err
		}
		ledgerQty := SumQuantity(rows)
		if !ledgerQty.Equal(q.Quantity()) {
			out = append(out, Discrepancy{
				Key:            q.Key,
				Kind:           DiscrepancyQuantity,
				QueueQuantity:  q.Quantity(),
				LedgerQuantity: ledgerQty,
				Detail:         "queue quantity differs from ledger",
			})
		}
		ledgerValue := SumValueChange(rows)
		if !ledgerValue.Equal(q.StockValue) {
			out = append(out, Discrepancy{
				Key:           q.Key,
				Kind:          DiscrepancyLedgerValue,
				QueueQuantity: q.Quantity(),
				QueueValue:    q.StockValue,
				LedgerValue:   ledgerValue,
				Detail:        "queue stock value differs from ledger",
			})
		}
	}
	return out, nil
}
