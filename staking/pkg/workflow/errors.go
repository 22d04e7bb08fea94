package workflow

import "errors"

var (
	ErrClosed            = errors.New("session is closed")
	ErrBusy              = errors.New("a transaction is already in flight")
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrAmountLocked      = errors.New("amount cannot be changed in current state")
	ErrAmountExceedsMax  = errors.New("amount exceeds maximum")
	ErrZeroAmount        = errors.New("amount is zero")
	ErrCannotCancel      = errors.New("session cannot be cancelled in current state")
	ErrPermitUnavailable = errors.New("permit is not available for pools with a wrapper")
	ErrAccountChanged    = errors.New("wallet account changed during session")
	ErrReverted          = errors.New("transaction reverted")
)
