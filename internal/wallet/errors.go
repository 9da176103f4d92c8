package wallet

import "errors"

// Construction errors.
var (
	// ErrInvalidOwnerSet is returned when the owner list is empty, contains the
	// zero address, or lists an owner twice.
	ErrInvalidOwnerSet = errors.New("invalid owner set")
	// ErrInvalidThreshold is returned when the threshold is zero, negative, or
	// larger than the number of owners.
	ErrInvalidThreshold = errors.New("invalid confirmation threshold")
)

// Operation errors. Each one rejects the whole operation; no state changes
// and no events are emitted when one is returned.
var (
	ErrUnauthorized              = errors.New("caller is not an owner")
	ErrNotFound                  = errors.New("transaction does not exist")
	ErrAlreadyExecuted           = errors.New("transaction already executed")
	ErrAlreadyConfirmed          = errors.New("transaction already confirmed by owner")
	ErrNotConfirmed              = errors.New("transaction not confirmed by owner")
	ErrInsufficientConfirmations = errors.New("not enough confirmations")
	ErrExecutionFailed           = errors.New("transaction execution failed")
	ErrInvalidValue              = errors.New("invalid value")
)

// Persistence errors.
var (
	ErrRegistryMismatch = errors.New("stored owner registry does not match configuration")
	ErrCorruptState     = errors.New("stored wallet state is inconsistent")
)
