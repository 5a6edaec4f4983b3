package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CalculationMode records how an account's opening balance was established.
type CalculationMode string

const (
	// ModeManual means the opening balance was set by the user and transactions fold on top of it.
	ModeManual CalculationMode = "manual"
	// ModeImported means the opening balance was inferred from an observed balance.
	ModeImported CalculationMode = "imported"
)

// ParseCalculationMode parses a mode name.
func ParseCalculationMode(s string) (CalculationMode, error) {
	switch CalculationMode(s) {
	case ModeManual, ModeImported:
		return CalculationMode(s), nil
	default:
		return "", fmt.Errorf("unknown calculation mode %q", s)
	}
}

// Status is the last known health of an account's balance.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// DepositInfo is extension metadata for interest-bearing accounts.
// It is carried with the entry and never recalculated here.
type DepositInfo struct {
	Principal    decimal.Decimal
	InterestRate decimal.Decimal
	Capitalize   bool
	PostingDay   int
}

// AccountInfo is what the account registry supplies on registration.
type AccountInfo struct {
	ID               string
	Currency         string
	DisplayedBalance decimal.Decimal
	Deposit          *DepositInfo
}

// LedgerEntry is the authoritative balance state of one account.
//
// CurrentBalance == OpeningBalance + sum of contributions of the transactions
// currently considered to affect the account.
type LedgerEntry struct {
	UpdatedAt      time.Time
	Deposit        *DepositInfo
	AccountID      string
	Currency       string
	Mode           CalculationMode
	Status         Status
	OpeningBalance decimal.Decimal
	CurrentBalance decimal.Decimal
	Version        uint64
	// OpeningKnown is false while OpeningBalance is only the provisional
	// value copied from the displayed balance at registration.
	OpeningKnown bool
}

// NewLedgerEntry builds the entry for a freshly registered account.
func NewLedgerEntry(info AccountInfo, now time.Time) LedgerEntry {
	return LedgerEntry{
		AccountID:      info.ID,
		Currency:       info.Currency,
		Mode:           ModeManual,
		Status:         StatusOK,
		OpeningBalance: info.DisplayedBalance,
		CurrentBalance: info.DisplayedBalance,
		Deposit:        info.Deposit,
		UpdatedAt:      now,
	}
}

// WithOpeningBalance returns the entry with a new explicit opening balance.
// Transactions already folded into the current balance stay folded.
func (e LedgerEntry) WithOpeningBalance(amount decimal.Decimal) LedgerEntry {
	delta := amount.Sub(e.OpeningBalance)
	e.OpeningBalance = amount
	e.CurrentBalance = e.CurrentBalance.Add(delta)
	e.OpeningKnown = true
	e.Mode = ModeManual
	return e
}

// Degraded reports whether the last computation skipped transactions.
func (e LedgerEntry) Degraded() bool {
	return e.Status == StatusDegraded
}

// Perspective returns the view of the entry used by the calculation engine.
func (e LedgerEntry) Perspective() Account {
	return Account{ID: e.AccountID, Currency: e.Currency}
}

// Account identifies the account a contribution is computed for.
type Account struct {
	ID       string
	Currency string
}
