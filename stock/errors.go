package stock

import (
	"errors"
	"fmt"

	"github.com/warp/stock-ledger/costing"
)

var (
	// ErrNothingToSync is returned by Group.Sync before a successful TransferStock.
	ErrNothingToSync = errors.New("movement group has no completed transfer to sync")

	// ErrAlreadySynced is returned when Sync runs twice on the same group.
	ErrAlreadySynced = errors.New("movement group already synced")

	// ErrGroupUsed is returned when TransferStock is called twice on a group.
	ErrGroupUsed = errors.New("movement group already used")

	// ErrAlreadyTransferred is returned when a reference already has ledger rows.
	ErrAlreadyTransferred = errors.New("transfers already created for reference")

	// ErrNotTransferred is returned when cancelling a reference with no ledger rows.
	ErrNotTransferred = errors.New("no transfers found for reference")

	// ErrLinesMismatch is returned when cancellation lines do not describe
	// the rows the reference actually wrote.
	ErrLinesMismatch = errors.New("lines do not match the transferred ledger rows")

	// ErrInvalidReference is returned when a reference has no type or name.
	ErrInvalidReference = errors.New("reference type and name are required")
)

// InvalidInputError is a caller error caught before any mutation.
type InvalidInputError struct {
	Line     int // 1-based, 0 when not tied to a line
	Item     string
	Location string
	Reason   string
	Err      error
}

func (e *InvalidInputError) Error() string {
	msg := e.Reason
	if e.Item != "" {
		msg = fmt.Sprintf("%s (item %s", msg, e.Item)
		if e.Location != "" {
			msg += ", location " + e.Location
		}
		msg += ")"
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// IsInvalidInput reports whether err is a validation failure.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie) ||
		errors.Is(err, costing.ErrInvalidQuantity) ||
		errors.Is(err, costing.ErrInvalidRate) ||
		errors.Is(err, costing.ErrInvalidLocation) ||
		errors.Is(err, costing.ErrInvalidItem) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrLinesMismatch)
}
