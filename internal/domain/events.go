package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot causes
const (
	CauseAccountsRegistered = "accounts.registered"
	CauseOpeningBalanceSet  = "opening_balance.set"
	CauseTransactionChanged = "transaction.changed"
	CauseRecalculated       = "balances.recalculated"
	CauseAccountRemoved     = "account.removed"
)

// BalanceSnapshot is the immutable view pushed to subscribers after a commit.
type BalanceSnapshot struct {
	At       time.Time
	Balances map[string]decimal.Decimal
	Cause    string
	Degraded []string
	Sequence uint64
}

// Balance returns the balance of one account in the snapshot.
func (s BalanceSnapshot) Balance(accountID string) (decimal.Decimal, bool) {
	b, ok := s.Balances[accountID]
	return b, ok
}

// BalanceChangedEvent is the wire payload for external snapshot sinks.
type BalanceChangedEvent struct {
	Balances map[string]string `json:"balances"`
	Cause    string            `json:"cause"`
	At       string            `json:"at"`
	Degraded []string          `json:"degraded,omitempty"`
	Sequence uint64            `json:"sequence"`
}

// NewBalanceChangedEvent converts a snapshot to its wire payload.
func NewBalanceChangedEvent(s BalanceSnapshot) BalanceChangedEvent {
	balances := make(map[string]string, len(s.Balances))
	for id, b := range s.Balances {
		balances[id] = b.String()
	}
	return BalanceChangedEvent{
		Balances: balances,
		Cause:    s.Cause,
		At:       s.At.UTC().Format(time.RFC3339Nano),
		Degraded: s.Degraded,
		Sequence: s.Sequence,
	}
}
