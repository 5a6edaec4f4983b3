package domain

import (
	"fmt"
	"time"
)

// AggregateKey addresses a derived value: (account, category, month window).
// An empty category and window address the account's current balance.
type AggregateKey struct {
	AccountID  string
	CategoryID string
	Window     string
}

// IsBalance reports whether the key addresses the plain current balance.
func (k AggregateKey) IsBalance() bool {
	return k.CategoryID == "" && k.Window == ""
}

// Matches reports whether tx contributes to the aggregate.
func (k AggregateKey) Matches(tx Transaction) bool {
	if !tx.Affects(k.AccountID) {
		return false
	}
	if k.CategoryID != "" && tx.CategoryID != k.CategoryID {
		return false
	}
	if k.Window != "" && tx.MonthBucket() != k.Window {
		return false
	}
	return true
}

// Range returns the time range covered by the window, if any.
func (k AggregateKey) Range() (from, to time.Time, ok bool) {
	if k.Window == "" {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse("2006-01", k.Window)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, start.AddDate(0, 1, 0), true
}

// Validate validates the key.
func (k AggregateKey) Validate() error {
	if err := ValidateAccountID(k.AccountID); err != nil {
		return err
	}
	if k.Window != "" {
		if _, err := time.Parse("2006-01", k.Window); err != nil {
			return fmt.Errorf("%w: window must be YYYY-MM", ErrInvalidWindow)
		}
	}
	return nil
}

func (k AggregateKey) String() string {
	return k.AccountID + "/" + k.CategoryID + "/" + k.Window
}
