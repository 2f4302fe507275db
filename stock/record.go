/*
Package stock turns business transfers into costing queue mutations and
ledger records.

PURPOSE:
  A business document (shipment, purchase receipt, manual stock movement)
  hands the engine a list of lines. Each line becomes a Movement, the
  Movements of one document form a Group, and the Group persists every
  touched costing queue and every new ledger record together.

KEY CONCEPTS IN THIS FILE (record.go):
  - Reference:    The business transaction (type + name + posting date)
  - LedgerRecord: Immutable fact "item I moved Q at location L for T"
  - LedgerFilter: Query shape for reading ledger rows back

LEDGER RECORD LIFECYCLE:
  Created by a Movement when a transfer is committed. Never updated.
  When the owning transaction is cancelled the rows for that reference are
  deleted; cancellation itself writes no rows.

  An outward row keeps the lots it consumed, so cancelling puts back the
  exact cost that left the queue. An inward row is undone by removing its
  own lot at its rate. See reversal.go.

SEE ALSO:
  - movement.go: Builds records
  - group.go:    Persists records
  - ledger.go:   Read side
*/
package stock

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/costing"
)

// =============================================================================
// REFERENCE - The business transaction behind a transfer
// =============================================================================

type Reference struct {
	Type string    // e.g. "Shipment", "PurchaseReceipt", "StockMovement"
	Name string    // document name, e.g. "SHP-1001"
	Date time.Time // posting date
}

func (r Reference) String() string { return r.Type + " " + r.Name }

// =============================================================================
// LEDGER RECORD
// =============================================================================

type LedgerRecord struct {
	ID   string
	Date time.Time

	Item     string
	Location string
	Rate     decimal.Decimal
	Quantity decimal.Decimal // negative = outward

	ReferenceType string
	ReferenceName string

	StockValueBefore decimal.Decimal
	StockValueAfter  decimal.Decimal

	// ConsumedLots are the FIFO slices an outward row took, oldest first.
	// Empty for inward rows.
	ConsumedLots []costing.Lot

	CreatedAt time.Time
}

// ValueChange is the signed value this movement added to the location.
// For outward rows this is the consumed cost basis, not rate * quantity.
func (r LedgerRecord) ValueChange() decimal.Decimal {
	return r.StockValueAfter.Sub(r.StockValueBefore)
}

func (r LedgerRecord) IsOutward() bool { return r.Quantity.IsNegative() }

// LedgerFilter selects ledger rows. Empty fields match everything.
type LedgerFilter struct {
	Item          string
	Location      string
	ReferenceType string
	ReferenceName string
	Until         *time.Time // inclusive upper bound on Date
}

// Matches reports whether r satisfies the filter.
func (f LedgerFilter) Matches(r LedgerRecord) bool {
	if f.Item != "" && f.Item != r.Item {
		return false
	}
	if f.Location != "" && f.Location != r.Location {
		return false
	}
	if f.ReferenceType != "" && f.ReferenceType != r.ReferenceType {
		return false
	}
	if f.ReferenceName != "" && f.ReferenceName != r.ReferenceName {
		return false
	}
	if f.Until != nil && r.Date.After(*f.Until) {
		return false
	}
	return true
}
