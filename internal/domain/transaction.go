package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies how a transaction moves money.
type TransactionKind string

const (
	KindIncome          TransactionKind = "income"
	KindExpense         TransactionKind = "expense"
	KindTransfer        TransactionKind = "transfer"
	KindDepositInterest TransactionKind = "deposit_interest"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindIncome, KindExpense, KindTransfer, KindDepositInterest:
		return true
	}
	return false
}

// Transaction is an immutable money movement supplied by the transaction log.
// The sign is driven by Kind; Amount is used by magnitude.
type Transaction struct {
	Date            time.Time
	TargetAmount    *decimal.Decimal
	ID              string
	Currency        string
	AccountID       string
	TargetAccountID string
	CategoryID      string
	Kind            TransactionKind
	Amount          decimal.Decimal
}

// IsTransfer reports whether the transaction has an inbound leg.
func (t Transaction) IsTransfer() bool {
	return t.TargetAccountID != ""
}

// Affects reports whether the transaction touches accountID.
func (t Transaction) Affects(accountID string) bool {
	return t.AccountID == accountID || (t.IsTransfer() && t.TargetAccountID == accountID)
}

// AffectedAccounts lists the accounts touched by the transaction, source first.
func (t Transaction) AffectedAccounts() []string {
	if t.IsTransfer() && t.TargetAccountID != t.AccountID {
		return []string{t.AccountID, t.TargetAccountID}
	}
	return []string{t.AccountID}
}

// MonthBucket returns the YYYY-MM window the transaction falls into.
func (t Transaction) MonthBucket() string {
	return t.Date.UTC().Format("2006-01")
}

// Validate validates a transaction before it reaches the engine.
func (t Transaction) Validate() error {
	if err := ValidateAccountID(t.AccountID); err != nil {
		return err
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
	}
	if t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if t.Kind == KindTransfer && t.TargetAccountID == "" {
		return fmt.Errorf("%w: transfer %s has no target account", ErrInvalidKind, t.ID)
	}
	if t.Kind != KindTransfer && t.TargetAccountID != "" {
		return fmt.Errorf("%w: %s %s cannot have a target account", ErrInvalidKind, t.Kind, t.ID)
	}
	if t.IsTransfer() && t.TargetAccountID == t.AccountID {
		return ErrSameAccount
	}
	return ValidateAmount(t.Amount.Abs())
}

// Operation is the kind of change applied to a single transaction.
type Operation string

const (
	OperationAdd    Operation = "add"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// TransactionChange is an incremental update request.
// Add uses New, Delete uses Old, Update uses both.
type TransactionChange struct {
	Old       *Transaction
	New       *Transaction
	Operation Operation
}

// Validate checks that the values required by the operation are present.
func (c TransactionChange) Validate() error {
	switch c.Operation {
	case OperationAdd:
		if c.New == nil {
			return fmt.Errorf("%w: add needs the new transaction", ErrMissingTransaction)
		}
		return c.New.Validate()
	case OperationDelete:
		if c.Old == nil {
			return fmt.Errorf("%w: delete needs the old transaction", ErrMissingTransaction)
		}
		return c.Old.Validate()
	case OperationUpdate:
		if c.Old == nil || c.New == nil {
			return fmt.Errorf("%w: update needs old and new transactions", ErrMissingTransaction)
		}
		if err := c.Old.Validate(); err != nil {
			return err
		}
		return c.New.Validate()
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperation, c.Operation)
	}
}

// AffectedAccounts lists every account touched by the change, without duplicates.
func (c TransactionChange) AffectedAccounts() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, tx := range []*Transaction{c.Old, c.New} {
		if tx == nil {
			continue
		}
		for _, id := range tx.AffectedAccounts() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Categories lists the categories touched by the change.
func (c TransactionChange) Categories() []string {
	var ids []string
	for _, tx := range []*Transaction{c.Old, c.New} {
		if tx != nil && tx.CategoryID != "" {
			ids = append(ids, tx.CategoryID)
		}
	}
	return ids
}

// SkippedTransaction records a transaction left out of a computation.
type SkippedTransaction struct {
	Err           error
	TransactionID string
	AccountID     string
}

// OperationStatus reports how an operation completed.
type OperationStatus string

const (
	StatusCompleted OperationStatus = "completed"
	// StatusPartial means the balance was committed but some transactions were skipped.
	StatusPartial OperationStatus = "partial"
	// StatusCoalesced means the operation was superseded by a later recompute.
	StatusCoalesced OperationStatus = "coalesced"
)

// OperationResult is the outcome of one queued account operation.
type OperationResult struct {
	AccountID string
	Status    OperationStatus
	Skipped   []SkippedTransaction
	Balance   decimal.Decimal
	Version   uint64
	Changed   bool
}
