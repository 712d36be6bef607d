package order

import "errors"

var (
	ErrInvalidParameters    = errors.New("invalid order parameters")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientApproval = errors.New("insufficient approval")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNotOwner             = errors.New("caller is not the order owner")
	ErrOrderNotExecutable   = errors.New("order not executable")
	ErrOrderNotActive       = errors.New("order is not active")
	ErrOrderBusy            = errors.New("order has an execution in flight")
	ErrSlippageExceeded     = errors.New("venue output below minimum amount out")
	ErrVenueUnavailable     = errors.New("swap venue unavailable")

	// ErrVersionConflict is returned by a Repository when a compare-and-swap update
	// finds the stored version moved on.
	ErrVersionConflict = errors.New("order version conflict")
)
