/*
document.go - Business documents that move stock

PURPOSE:
  The stock engine does not know what a shipment or a purchase receipt is.
  Documents do: each one owns its lines and drives the engine from its
  lifecycle hooks.

DOCUMENT KINDS:
  StockMovement:   Manual movement; the movement type decides the direction
                   - MaterialIssue:    From only
                   - MaterialReceipt:  To only
                   - MaterialTransfer: From and To
  Shipment:        Goods leaving the company, From only
  PurchaseReceipt: Goods arriving from a supplier, To only

LIFECYCLE:
  ┌───────┐  Submit   ┌───────────┐  Cancel   ┌──────────┐
  │ Draft │─────────▶ │ Committed │─────────▶ │ Reversed │
  └───────┘           └───────────┘           └──────────┘

  Submit = BeforeSubmit (ValidateTransfers) + AfterSubmit (CreateTransfers)
  Cancel = BeforeCancel (ValidateCancel)    + AfterCancel (CancelTransfers)

  Any other transition fails with ErrInvalidTransition. A failed hook
  leaves the status unchanged.
*/
package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/stock"
)

type Kind string

const (
	KindStockMovement   Kind = "StockMovement"
	KindShipment        Kind = "Shipment"
	KindPurchaseReceipt Kind = "PurchaseReceipt"
)

type MovementType string

const (
	MaterialIssue    MovementType = "MaterialIssue"
	MaterialReceipt  MovementType = "MaterialReceipt"
	MaterialTransfer MovementType = "MaterialTransfer"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusCommitted Status = "committed"
	StatusReversed  Status = "reversed"
)

var (
	// ErrInvalidTransition is returned when a hook runs in the wrong status.
	ErrInvalidTransition = errors.New("invalid document status transition")

	// ErrNoLines is returned when submitting a document without lines.
	ErrNoLines = errors.New("document has no lines")

	// ErrUnknownKind is returned for an unsupported kind or movement type.
	ErrUnknownKind = errors.New("unknown document kind")
)

// TransitionError reports the status a hook was attempted from.
type TransitionError struct {
	Name   string
	From   Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s document %s in status %s", e.Action, e.Name, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Transfers is the contract a document drives. *stock.Engine implements it.
type Transfers interface {
	ValidateTransfers(ctx context.Context, ref stock.Reference, lines []stock.Line) error
	CreateTransfers(ctx context.Context, ref stock.Reference, lines []stock.Line) ([]stock.LedgerRecord, error)
	ValidateCancel(ctx context.Context, ref stock.Reference, lines []stock.Line) error
	CancelTransfers(ctx context.Context, ref stock.Reference, lines []stock.Line) error
}

var _ Transfers = (*stock.Engine)(nil)

// =============================================================================
// DOCUMENT
// =============================================================================

type Document struct {
	Kind         Kind
	MovementType MovementType // StockMovement only
	Name         string
	Date         time.Time
	Status       Status
	Lines        []stock.Line

	// LedgerRows is the number of rows written on submit.
	LedgerRows  int
	SubmittedAt *time.Time
	CancelledAt *time.Time
}

// New returns a draft document.
func New(kind Kind, name string, date time.Time, lines []stock.Line) *Document {
	return &Document{
		Kind:   kind,
		Name:   name,
		Date:   date,
		Status: StatusDraft,
		Lines:  lines,
	}
}

// NewStockMovement returns a draft manual movement of the given type.
func NewStockMovement(movementType MovementType, name string, date time.Time, lines []stock.Line) *Document {
	d := New(KindStockMovement, name, date, lines)
	d.MovementType = movementType
	return d
}

func (d *Document) Reference() stock.Reference {
	return stock.Reference{Type: string(d.Kind), Name: d.Name, Date: d.Date}
}

// Validate checks the document shape and that every line moves in the
// direction its kind allows. Quantity, rate and stock checks are left to
// the engine.
func (d *Document) Validate() error {
	if d.Name == "" {
		return stock.ErrInvalidReference
	}
	if len(d.Lines) == 0 {
		return ErrNoLines
	}
	needFrom, needTo, err := d.directions()
	if err != nil {
		return err
	}
	for i, l := range d.Lines {
		if location, reason := checkDirection(l, needFrom, needTo); reason != "" {
			return &stock.InvalidInputError{
				Line:     i + 1,
				Item:     l.Item,
				Location: location,
				Reason:   fmt.Sprintf("%s: %s", d.describe(), reason),
				Err:      costing.ErrInvalidLocation,
			}
		}
	}
	return nil
}

func (d *Document) directions() (needFrom, needTo bool, err error) {
	switch d.Kind {
	case KindShipment:
		return true, false, nil
	case KindPurchaseReceipt:
		return false, true, nil
	case KindStockMovement:
		switch d.MovementType {
		case MaterialIssue:
			return true, false, nil
		case MaterialReceipt:
			return false, true, nil
		case MaterialTransfer:
			return true, true, nil
		}
		return false, false, fmt.Errorf("%w: movement type %q", ErrUnknownKind, d.MovementType)
	}
	return false, false, fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
}

// checkDirection returns the value of the offending location field (empty
// when the field is missing) and why it is wrong.
func checkDirection(l stock.Line, needFrom, needTo bool) (location, reason string) {
	switch {
	case needFrom && l.FromLocation == "":
		return "", "From Location is required"
	case !needFrom && l.FromLocation != "":
		return l.FromLocation, "From Location is not allowed"
	case needTo && l.ToLocation == "":
		return "", "To Location is required"
	case !needTo && l.ToLocation != "":
		return l.ToLocation, "To Location is not allowed"
	}
	return "", ""
}

func (d *Document) describe() string {
	if d.Kind == KindStockMovement {
		return string(d.MovementType)
	}
	return string(d.Kind)
}

// =============================================================================
// LIFECYCLE HOOKS
// =============================================================================

// BeforeSubmit validates the document and dry-runs its transfers.
func (d *Document) BeforeSubmit(ctx context.Context, t Transfers) error {
	if d.Status != StatusDraft {
		return &TransitionError{Name: d.Name, From: d.Status, Action: "submit"}
	}
	if err := d.Validate(); err != nil {
		return err
	}
	return t.ValidateTransfers(ctx, d.Reference(), d.Lines)
}

// AfterSubmit creates the transfers and commits the document.
func (d *Document) AfterSubmit(ctx context.Context, t Transfers) error {
	if d.Status != StatusDraft {
		return &TransitionError{Name: d.Name, From: d.Status, Action: "submit"}
	}
	records, err := t.CreateTransfers(ctx, d.Reference(), d.Lines)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	d.Status = StatusCommitted
	d.LedgerRows = len(records)
	d.SubmittedAt = &now
	return nil
}

// BeforeCancel dry-runs the reversal.
func (d *Document) BeforeCancel(ctx context.Context, t Transfers) error {
	if d.Status != StatusCommitted {
		return &TransitionError{Name: d.Name, From: d.Status, Action: "cancel"}
	}
	return t.ValidateCancel(ctx, d.Reference(), d.Lines)
}

// AfterCancel reverses the transfers and marks the document reversed.
func (d *Document) AfterCancel(ctx context.Context, t Transfers) error {
	if d.Status != StatusCommitted {
		return &TransitionError{Name: d.Name, From: d.Status, Action: "cancel"}
	}
	if err := t.CancelTransfers(ctx, d.Reference(), d.Lines); err != nil {
		return err
	}
	now := time.Now().UTC()
	d.Status = StatusReversed
	d.CancelledAt = &now
	return nil
}

// Submit runs BeforeSubmit then AfterSubmit.
func (d *Document) Submit(ctx context.Context, t Transfers) error {
	if err := d.BeforeSubmit(ctx, t); err != nil {
		return err
	}
	return d.AfterSubmit(ctx, t)
}

// Cancel runs BeforeCancel then AfterCancel.
func (d *Document) Cancel(ctx context.Context, t Transfers) error {
	if err := d.BeforeCancel(ctx, t); err != nil {
		return err
	}
	return d.AfterCancel(ctx, t)
}
