/*
ledger.go - Read side of the stock ledger

PURPOSE:
  Financial reporting consumes ledger rows. Ledger answers the common
  questions without exposing the repository:
    - which rows did transaction T write?
    - what is the movement history of item I at location L?
    - how much of I was at L on date D?

  Quantity on a date is replayed from rows, never taken from the queue, so
  it is reproducible from history.
*/
package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Ledger struct {
	Repo Repository
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{Repo: repo}
}

// Records returns the rows written for one business transaction.
func (l *Ledger) Records(ctx context.Context, referenceType, referenceName string) ([]LedgerRecord, error) {
	return l.Repo.LedgerRows(ctx, LedgerFilter{ReferenceType: referenceType, ReferenceName: referenceName})
}

// History returns all rows for (item, location), oldest first.
func (l *Ledger) History(ctx context.Context, item, location string) ([]LedgerRecord, error) {
	return l.Repo.LedgerRows(ctx, LedgerFilter{Item: item, Location: location})
}

// QuantityAt replays signed quantities up to and including at.
func (l *Ledger) QuantityAt(ctx context.Context, item, location string, at time.Time) (decimal.Decimal, error) {
	rows, err := l.Repo.LedgerRows(ctx, LedgerFilter{Item: item, Location: location, Until: &at})
	if err != nil {
		return decimal.Zero, err
	}
	return SumQuantity(rows), nil
}

// SumQuantity adds up signed row quantities.
func SumQuantity(rows []LedgerRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Quantity)
	}
	return total
}

// SumValueChange adds up row value changes.
func SumValueChange(rows []LedgerRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.ValueChange())
	}
	return total
}
