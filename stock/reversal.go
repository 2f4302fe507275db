/*
reversal.go - Cancelling a committed transfer

PURPOSE:
  A cancellation undoes what a reference actually wrote, not what the
  caller says it wrote. The persisted ledger rows are the source of truth:

    Outward row -> Queue.Restore(row.ConsumedLots)   (the exact FIFO cost)
    Inward row  -> Queue.Remove(row.Rate, quantity)  (that receipt's lot)

  Rows are undone newest first, so a line that moved stock out and a later
  line that moved it back in unwind in the right order. Every row changes
  its queue's value by exactly -row.ValueChange(), which keeps
  StockValue == Σ ValueChange of the surviving rows.

LINE CHECK:
  Callers still pass their lines. They must describe the same signed
  quantity per (item, location) as the rows, otherwise the cancellation is
  rejected with ErrLinesMismatch before anything is touched.
*/
package stock

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/costing"
)

// reverseRecord undoes one committed row on its queue.
func reverseRecord(q *costing.Queue, r LedgerRecord) error {
	if !r.IsOutward() {
		return q.Remove(r.Rate, r.Quantity)
	}
	lots := r.ConsumedLots
	if len(lots) == 0 {
		// Rows written without their consumed lots: put the cost back as
		// one lot at the average consumed rate.
		qty := r.Quantity.Abs()
		lots = []costing.Lot{{Rate: r.ValueChange().Neg().Div(qty), Quantity: qty}}
	}
	return q.Restore(lots)
}

// RecordsKeys returns the sorted, de-duplicated queue keys of rows.
func RecordsKeys(rows []LedgerRecord) []costing.Key {
	keys := make([]costing.Key, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, costing.Key{Item: r.Item, Location: r.Location})
	}
	return SortedKeys(keys)
}

// MatchLines checks that lines move the same signed quantity per
// (item, location) as rows. An empty lines slice matches anything.
func MatchLines(lines []Line, rows []LedgerRecord) error {
	if len(lines) == 0 {
		return nil
	}

	want := make(map[costing.Key]decimal.Decimal)
	for _, l := range lines {
		if l.FromLocation != "" {
			k := costing.Key{Item: l.Item, Location: l.FromLocation}
			want[k] = want[k].Sub(l.Quantity)
		}
		if l.ToLocation != "" {
			k := costing.Key{Item: l.Item, Location: l.ToLocation}
			want[k] = want[k].Add(l.Quantity)
		}
	}
	got := make(map[costing.Key]decimal.Decimal)
	for _, r := range rows {
		k := costing.Key{Item: r.Item, Location: r.Location}
		got[k] = got[k].Add(r.Quantity)
	}

	keys := make([]costing.Key, 0, len(want)+len(got))
	for k := range want {
		keys = append(keys, k)
	}
	for k := range got {
		if _, ok := want[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	for _, k := range keys {
		w, g := want[k], got[k]
		if !w.Equal(g) {
			return &InvalidInputError{
				Item:     k.Item,
				Location: k.Location,
				Reason:   fmt.Sprintf("cancellation moves %s but the reference moved %s", w.String(), g.String()),
				Err:      ErrLinesMismatch,
			}
		}
	}
	return nil
}
