/*
Package costing provides the per-(item, location) costing queue.

PURPOSE:
  A Queue holds the open cost lots for one item at one location, plus the
  running stock value. It answers "what is the value impact of moving N
  units in or out right now" and nothing else. There is no I/O here; the
  stock package loads and saves queues through a repository.

KEY CONCEPTS IN THIS FILE (queue.go):
  - Lot:   One inward batch (rate, quantity) not yet fully consumed
  - Key:   The (item, location) pair a queue belongs to
  - Queue: Ordered lots + StockValue + optimistic version

INVARIANTS:
  1. StockValue == Σ lot.Rate * lot.Quantity, checked after every mutation
  2. Quantity() never goes negative: a failed Outward leaves the queue untouched
  3. Lots are consumed oldest-first (FIFO); insertion order is significant
  4. Version == 0 means "never persisted", which is distinct from a persisted
     queue at zero quantity

PRECISION:
  Rates and quantities are decimal.Decimal. Multiplication is exact, so the
  value invariant is checked with Equal, not with a tolerance.

EXAMPLE:
  q := costing.NewQueue("widget", "Main")
  _ = q.Inward(decimal.NewFromInt(10), decimal.NewFromInt(4))
  _ = q.Inward(decimal.NewFromInt(20), decimal.NewFromInt(8))
  c, err := q.Outward(decimal.NewFromInt(3))
  // c.Value == 30, q.Lots == [{10 1} {20 8}]

SEE ALSO:
  - errors.go: Error taxonomy
  - encoding.go: Lossless lot serialization
  - stock/movement.go: Orchestration on top of Queue
*/
package costing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// LOT - One inward batch awaiting consumption
// =============================================================================

type Lot struct {
	Rate     decimal.Decimal `json:"rate"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Value returns rate * quantity.
func (l Lot) Value() decimal.Decimal { return l.Rate.Mul(l.Quantity) }

// =============================================================================
// KEY - Identifies a queue
// =============================================================================

type Key struct {
	Item     string
	Location string
}

func (k Key) String() string { return k.Item + "@" + k.Location }

// Less orders keys by item, then location. Lockers acquire keys in this order.
func (k Key) Less(other Key) bool {
	if k.Item != other.Item {
		return k.Item < other.Item
	}
	return k.Location < other.Location
}

// =============================================================================
// QUEUE - Ordered lots and running value for one (item, location)
// =============================================================================

type Queue struct {
	Key
	Lots       []Lot
	StockValue decimal.Decimal

	// Version is the persisted revision. Repositories use it for
	// compare-and-swap on save.
	Version int64
}

// Consumption describes what an Outward took from the queue.
type Consumption struct {
	Quantity decimal.Decimal
	Value    decimal.Decimal
	Lots     []Lot // consumed slices, oldest first
}

func NewQueue(item, location string) *Queue {
	return &Queue{
		Key:        Key{Item: item, Location: location},
		StockValue: decimal.Zero,
	}
}

// Quantity returns the total quantity across all lots.
func (q *Queue) Quantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range q.Lots {
		total = total.Add(l.Quantity)
	}
	return total
}

// Rate returns the average valuation rate of what is on hand.
func (q *Queue) Rate() decimal.Decimal {
	qty := q.Quantity()
	if qty.IsZero() {
		return decimal.Zero
	}
	return q.StockValue.Div(qty)
}

// Exists reports whether the queue has ever been persisted.
func (q *Queue) Exists() bool { return q.Version > 0 }

// Clone returns a deep copy.
func (q *Queue) Clone() *Queue {
	c := *q
	c.Lots = append([]Lot(nil), q.Lots...)
	return &c
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Inward appends a lot at the end of the queue.
func (q *Queue) Inward(rate, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if rate.IsNegative() {
		return ErrInvalidRate
	}

	prevLots, prevValue := q.Lots, q.StockValue
	q.Lots = append(append([]Lot(nil), q.Lots...), Lot{Rate: rate, Quantity: quantity})
	q.StockValue = q.StockValue.Add(rate.Mul(quantity))

	if err := q.Verify(); err != nil {
		q.Lots, q.StockValue = prevLots, prevValue
		return err
	}
	return nil
}

// CanOutward reports whether quantity units are on hand.
func (q *Queue) CanOutward(quantity decimal.Decimal) bool {
	return quantity.IsPositive() && q.Quantity().GreaterThanOrEqual(quantity)
}

// Outward consumes quantity units oldest-first. On any error the queue is
// left exactly as it was.
func (q *Queue) Outward(quantity decimal.Decimal) (Consumption, error) {
	if !quantity.IsPositive() {
		return Consumption{}, ErrInvalidQuantity
	}

	available := q.Quantity()
	if available.LessThan(quantity) {
		return Consumption{}, &InsufficientStockError{
			Item:      q.Item,
			Location:  q.Location,
			Requested: quantity,
			Available: available,
		}
	}

	consumed := Consumption{Quantity: quantity, Value: decimal.Zero}
	remaining := quantity
	lots := append([]Lot(nil), q.Lots...)

	head := 0
	for remaining.IsPositive() && head < len(lots) {
		lot := lots[head]
		take := decimal.Min(lot.Quantity, remaining)
		consumed.Lots = append(consumed.Lots, Lot{Rate: lot.Rate, Quantity: take})
		consumed.Value = consumed.Value.Add(lot.Rate.Mul(take))
		remaining = remaining.Sub(take)

		if take.Equal(lot.Quantity) {
			head++
			continue
		}
		// Partially used: the rest of this lot stays at the head.
		lots[head].Quantity = lot.Quantity.Sub(take)
	}
	lots = lots[head:]

	prevLots, prevValue := q.Lots, q.StockValue
	q.Lots = lots
	q.StockValue = q.StockValue.Sub(consumed.Value)

	if err := q.Verify(); err != nil {
		q.Lots, q.StockValue = prevLots, prevValue
		return Consumption{}, err
	}
	return consumed, nil
}

// =============================================================================
// REVERSALS - Undo a committed movement exactly
// =============================================================================

// Remove takes quantity units at exactly rate out of the queue, newest
// lots first. It undoes an Inward: the lot a receipt added sits behind
// every older lot, so it is the last one FIFO consumption reaches. If
// fewer than quantity units at rate are left, the inward was consumed
// and an InsufficientStockError reports what is still there.
func (q *Queue) Remove(rate, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrInvalidQuantity
	}

	atRate := decimal.Zero
	for _, l := range q.Lots {
		if l.Rate.Equal(rate) {
			atRate = atRate.Add(l.Quantity)
		}
	}
	if atRate.LessThan(quantity) {
		return &InsufficientStockError{
			Item:      q.Item,
			Location:  q.Location,
			Requested: quantity,
			Available: atRate,
		}
	}

	lots := append([]Lot(nil), q.Lots...)
	remaining := quantity
	for i := len(lots) - 1; i >= 0 && remaining.IsPositive(); i-- {
		if !lots[i].Rate.Equal(rate) {
			continue
		}
		take := decimal.Min(lots[i].Quantity, remaining)
		lots[i].Quantity = lots[i].Quantity.Sub(take)
		remaining = remaining.Sub(take)
	}
	kept := lots[:0]
	for _, l := range lots {
		if l.Quantity.IsPositive() {
			kept = append(kept, l)
		}
	}

	prevLots, prevValue := q.Lots, q.StockValue
	q.Lots = kept
	q.StockValue = q.StockValue.Sub(rate.Mul(quantity))

	if err := q.Verify(); err != nil {
		q.Lots, q.StockValue = prevLots, prevValue
		return err
	}
	return nil
}

// Restore puts consumed lots back at the head of the queue, oldest first.
// It undoes an Outward given the Consumption.Lots it returned. A restored
// slice at the same rate as the current head is merged back into it.
func (q *Queue) Restore(consumed []Lot) error {
	if len(consumed) == 0 {
		return ErrInvalidQuantity
	}

	value := decimal.Zero
	lots := make([]Lot, 0, len(consumed)+len(q.Lots))
	for _, l := range consumed {
		if !l.Quantity.IsPositive() {
			return ErrInvalidQuantity
		}
		if l.Rate.IsNegative() {
			return ErrInvalidRate
		}
		lots = append(lots, l)
		value = value.Add(l.Value())
	}

	rest := q.Lots
	if len(rest) > 0 && lots[len(lots)-1].Rate.Equal(rest[0].Rate) {
		lots[len(lots)-1].Quantity = lots[len(lots)-1].Quantity.Add(rest[0].Quantity)
		rest = rest[1:]
	}
	lots = append(lots, rest...)

	prevLots, prevValue := q.Lots, q.StockValue
	q.Lots = lots
	q.StockValue = q.StockValue.Add(value)

	if err := q.Verify(); err != nil {
		q.Lots, q.StockValue = prevLots, prevValue
		return err
	}
	return nil
}

// Verify checks that StockValue matches the lots and no lot is negative.
func (q *Queue) Verify() error {
	total := decimal.Zero
	for _, l := range q.Lots {
		if l.Quantity.IsNegative() || l.Rate.IsNegative() {
			return &CorruptQueueError{Key: q.Key, Reason: "negative lot"}
		}
		total = total.Add(l.Value())
	}
	if !total.Equal(q.StockValue) {
		return &CorruptQueueError{
			Key:      q.Key,
			Reason:   "stock value does not match lots",
			Expected: total,
			Actual:   q.StockValue,
		}
	}
	return nil
}
