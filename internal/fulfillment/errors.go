package fulfillment

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/pos-orders/internal/orders"
)

// Kind is the machine-readable error category returned to clients.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindStockConflict Kind = "stock_conflict"
	KindPersistence   Kind = "persistence"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindCompensation  Kind = "compensation"
	KindInternal      Kind = "internal"
)

// ErrSubmissionInFlight means another request is still processing the same
// submission token.
var ErrSubmissionInFlight = errors.New("submission with this token is still in progress")

// StockConflictError: one product could not cover its line. All stock taken
// earlier in the same submission has been given back.
type StockConflictError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock conflict on product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// PersistenceError: storage failed after (or while) reserving stock. The
// reservation has been compensated.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// CompensationError: restoring stock failed. Stock is understated for the
// listed products until someone reconciles it by hand.
type CompensationError struct {
	OrderID  string
	Cause    error
	Failures []RestoreFailure
}

type RestoreFailure struct {
	ProductID string
	Quantity  int
	Err       error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed for order %s (%d products unrestored) after: %v",
		e.OrderID, len(e.Failures), e.Cause)
}

func (e *CompensationError) Unwrap() error { return e.Cause }

// KindOf classifies any error produced by the coordinator or tracker.
func KindOf(err error) Kind {
	var (
		ve *orders.ValidationError
		sc *StockConflictError
		pe *PersistenceError
		ce *CompensationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return KindCompensation
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &sc), errors.Is(err, orders.ErrInsufficientStock):
		return KindStockConflict
	case errors.Is(err, orders.ErrInvalidQuantity):
		return KindValidation
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, orders.ErrProductNotFound),
		errors.Is(err, orders.ErrCustomerNotFound):
		return KindNotFound
	case errors.Is(err, ErrSubmissionInFlight), errors.Is(err, orders.ErrInvalidTransition):
		return KindConflict
	case errors.As(err, &pe):
		return KindPersistence
	}
	return KindInternal
}
