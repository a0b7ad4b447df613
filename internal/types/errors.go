package types

import "errors"

// Validation errors. Surfaced to the caller before any state is created.
var (
	ErrInvalidAmount       = errors.New("amount per occurrence must be positive")
	ErrIntervalTooShort    = errors.New("interval below minimum recurrence threshold")
	ErrSameAsset           = errors.New("input and output assets must differ")
	ErrExecutionTimeInPast = errors.New("execution time must be in the future")
)

// Authorization errors.
var (
	ErrNotOwner  = errors.New("only the order creator may cancel")
	ErrOnlyOwner = errors.New("restricted to contract owners")
)

// Funding errors. The order is never created.
var (
	ErrInsufficientEscrow = errors.New("insufficient funds or allowance for escrow")
	ErrAmountOverflow     = errors.New("escrow amount overflows uint64")
)

// Not-found / already-terminal. Non-fatal on trigger-fired paths, hard
// errors for user-initiated cancellation.
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderInactive    = errors.New("order inactive")
	ErrAlreadyInactive  = errors.New("order already inactive")
	ErrDuplicateOrderID = errors.New("order id already exists")
)
