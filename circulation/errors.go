package circulation

import (
	"errors"
)

// Business-rule failures. All of them are recoverable by the caller: the UI
// surfaces them as a rejected action with a reason, never as a system failure.
var (
	ErrInsufficientStock         = errors.New("insufficient stock for requested quantity")
	ErrStockNoLongerAvailable    = errors.New("stock no longer available to fulfill reservation")
	ErrUserBlocked               = errors.New("user has an active sanction")
	ErrOutsideBusinessHours      = errors.New("operation not permitted outside business hours")
	ErrDuplicateLoan             = errors.New("user already holds an active loan on this item")
	ErrDuplicateReservation      = errors.New("user already holds a pending reservation on this item")
	ErrReservationNotPending     = errors.New("reservation is not pending")
	ErrLoanNotActive             = errors.New("loan is not active")
	ErrLoanLimitReached          = errors.New("user has reached the active loan limit for their role")
	ErrIneligibleBorrower        = errors.New("user is not allowed to borrow or reserve")
	ErrInvalidOperator           = errors.New("operator is not allowed to register this operation")
	ErrInvalidQuantity           = errors.New("quantity must be greater than zero")
	ErrInvalidReturnOutcome      = errors.New("return outcome must be returned, damaged or lost")
	ErrDeleteBlockedByReferences = errors.New("delete blocked by existing references")
	ErrNotFound                  = errors.New("entity not found or inactive")
)

// Infrastructure failures, kept distinct from business-rule failures so callers
// can tell "action rejected" from "system down".
var (
	// ErrConcurrencyConflict indicates an optimistic version check affected no
	// rows. It is retried inside the engine and never reaches a caller directly.
	ErrConcurrencyConflict = errors.New("concurrency conflict, no rows were affected")

	// ErrStorageUnavailable wraps storage-layer errors and exhausted retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
