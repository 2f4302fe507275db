/*
movement.go - One line of a transfer

PURPOSE:
  A Movement is one item moving a quantity at a rate out of a location,
  into a location, or both (location-to-location transfer). It validates
  the line, mutates the costing queue(s) it touches and builds the ledger
  record for each location.

DIRECTION:
  FromLocation -> Outward (FIFO), ToLocation -> Inward(rate)

  Cancellation does not run a Movement backwards. It replays the
  committed ledger rows in reverse (see reversal.go), so the queue gets
  back exactly what the movement took.

VALUE BEFORE/AFTER:
  For every location touched, StockValue is read right before and right
  after the mutation. For inward rows the difference is rate * quantity;
  for outward rows it is the FIFO cost of the consumed lots.
*/
package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/costing"
)

// =============================================================================
// LINE - What a business document asks for
// =============================================================================

type Line struct {
	Item         string
	Rate         decimal.Decimal
	Quantity     decimal.Decimal
	FromLocation string
	ToLocation   string
}

// Keys returns the queue keys the line touches.
func (l Line) Keys() []costing.Key {
	var keys []costing.Key
	if l.FromLocation != "" {
		keys = append(keys, costing.Key{Item: l.Item, Location: l.FromLocation})
	}
	if l.ToLocation != "" {
		keys = append(keys, costing.Key{Item: l.Item, Location: l.ToLocation})
	}
	return keys
}

// QueueSource hands out the working copy of a queue.
type QueueSource interface {
	Queue(ctx context.Context, key costing.Key) (*costing.Queue, error)
}

// =============================================================================
// MOVEMENT
// =============================================================================

type Movement struct {
	Date          time.Time
	Item          string
	Rate          decimal.Decimal
	Quantity      decimal.Decimal
	ReferenceType string
	ReferenceName string
	FromLocation  string
	ToLocation    string

	// Records holds the ledger rows produced by the last Transfer.
	Records []LedgerRecord
}

func NewMovement(ref Reference, line Line) *Movement {
	return &Movement{
		Date:          ref.Date,
		Item:          line.Item,
		Rate:          line.Rate,
		Quantity:      line.Quantity,
		ReferenceType: ref.Type,
		ReferenceName: ref.Name,
		FromLocation:  line.FromLocation,
		ToLocation:    line.ToLocation,
	}
}

// Validate checks the line before anything is mutated.
func (m *Movement) Validate() error {
	location := m.FromLocation
	if location == "" {
		location = m.ToLocation
	}
	invalid := func(reason string, err error) error {
		return &InvalidInputError{Item: m.Item, Location: location, Reason: reason, Err: err}
	}

	if m.Item == "" {
		return invalid("item is required", costing.ErrInvalidItem)
	}
	if !m.Quantity.IsPositive() {
		return invalid("quantity must be greater than zero", costing.ErrInvalidQuantity)
	}
	if !m.Rate.IsPositive() {
		return invalid("rate must be greater than zero", costing.ErrInvalidRate)
	}
	if m.FromLocation == "" && m.ToLocation == "" {
		return invalid("both From and To Location cannot be undefined", costing.ErrInvalidLocation)
	}
	if m.FromLocation != "" && m.FromLocation == m.ToLocation {
		return invalid("From and To Location cannot be the same", costing.ErrInvalidLocation)
	}
	return nil
}

// Transfer applies the movement to the queues handed out by src.
func (m *Movement) Transfer(ctx context.Context, src QueueSource) error {
	if err := m.Validate(); err != nil {
		return err
	}

	m.Records = nil
	if m.FromLocation != "" {
		if err := m.apply(ctx, src, m.FromLocation, true); err != nil {
			return err
		}
	}
	if m.ToLocation != "" {
		if err := m.apply(ctx, src, m.ToLocation, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *Movement) apply(ctx context.Context, src QueueSource, location string, outward bool) error {
	q, err := src.Queue(ctx, costing.Key{Item: m.Item, Location: location})
	if err != nil {
		return err
	}

	before := q.StockValue
	quantity := m.Quantity
	var consumed []costing.Lot
	if outward {
		c, err := q.Outward(m.Quantity)
		if err != nil {
			return err
		}
		consumed = c.Lots
		quantity = quantity.Neg()
	} else if err := q.Inward(m.Rate, m.Quantity); err != nil {
		return err
	}

	m.Records = append(m.Records, LedgerRecord{
		ID:               uuid.NewString(),
		Date:             m.Date,
		Item:             m.Item,
		Location:         location,
		Rate:             m.Rate,
		Quantity:         quantity,
		ReferenceType:    m.ReferenceType,
		ReferenceName:    m.ReferenceName,
		StockValueBefore: before,
		StockValueAfter:  q.StockValue,
		ConsumedLots:     consumed,
	})
	return nil
}
