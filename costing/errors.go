/*
errors.go - Error taxonomy for the costing engine

ERROR CATEGORIES:
  1. Insufficient stock - outward exceeds what is on hand (always fatal to
     the enclosing transaction)
  2. Invalid input - non-positive quantity, negative rate, bad locations
  3. Integrity - a queue whose value does not match its lots, or a stale
     version detected on save

USAGE:
  var ise *costing.InsufficientStockError
  if errors.As(err, &ise) {
      // ise.Item, ise.Location, ise.Requested, ise.Available
  }
*/
package costing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInsufficientStock = errors.New("insufficient stock")

	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidRate     = errors.New("invalid rate")
	ErrInvalidLocation = errors.New("invalid location")
	ErrInvalidItem     = errors.New("item is required")

	// ErrCorruptQueue is returned when StockValue no longer equals the
	// value of the lots.
	ErrCorruptQueue = errors.New("corrupt costing queue")

	// ErrConcurrentModification is returned by repositories when a queue
	// was saved by someone else after it was loaded.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientStockError names the item, location and quantities involved.
type InsufficientStockError struct {
	Item      string
	Location  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient quantity of %s at %s: required %s, available %s",
		e.Item, e.Location, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Shortfall is how many units are missing.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

type CorruptQueueError struct {
	Key      Key
	Reason   string
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *CorruptQueueError) Error() string {
	if e.Expected.IsZero() && e.Actual.IsZero() {
		return fmt.Sprintf("corrupt costing queue %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("corrupt costing queue %s: %s (lots %s, stock value %s)",
		e.Key, e.Reason, e.Expected.String(), e.Actual.String())
}

func (e *CorruptQueueError) Unwrap() error { return ErrCorruptQueue }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrInvalidLocation) ||
		errors.Is(err, ErrInvalidItem)
}
