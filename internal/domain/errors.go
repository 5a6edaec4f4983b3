package domain

import (
	"errors"
	"fmt"
)

var (
	// Account errors
	ErrUnknownAccount   = errors.New("account is not registered")
	ErrCancelledAccount = errors.New("account work was cancelled")

	// Calculation errors
	ErrConversion        = errors.New("currency conversion failed")
	ErrStaleVersion      = errors.New("ledger entry version is stale")
	ErrRecomputeConflict = errors.New("recompute conflict: ledger entry kept changing")

	// Transaction errors
	ErrTransferAtomicity    = errors.New("transfer could not be applied to both accounts")
	ErrSameAccount          = errors.New("cannot transfer to same account")
	ErrInvalidAmount        = errors.New("amount must not be zero")
	ErrInvalidKind          = errors.New("unknown transaction kind")
	ErrMissingTransaction   = errors.New("transaction value is required for this operation")
	ErrInvalidOperation     = errors.New("unknown transaction operation")
	ErrDuplicateTransaction = errors.New("transaction appears more than once")

	// Infrastructure errors
	ErrQueueClosed          = errors.New("update queue is closed")
	ErrAggregateUnavailable = errors.New("aggregate cannot be computed without a transaction source")
)

// ConversionError describes a single failed conversion. It matches ErrConversion.
type ConversionError struct {
	TransactionID string
	From          string
	To            string
	Err           error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert transaction %s from %s to %s: %v", e.TransactionID, e.From, e.To, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Is reports ErrConversion equivalence.
func (e *ConversionError) Is(target error) bool {
	return target == ErrConversion
}
