package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/engine"
)

// ReconciliationResult compares the recorded balance with one folded from
// the transaction log.
type ReconciliationResult struct {
	CheckedAt         time.Time
	AccountID         string
	Skipped           []domain.SkippedTransaction
	RecordedBalance   decimal.Decimal
	CalculatedBalance decimal.Decimal
	Difference        decimal.Decimal
	IsReconciled      bool
}

// ReconciliationReport summarizes reconciliation of every account.
type ReconciliationReport struct {
	CheckedAt          time.Time
	Discrepancies      []ReconciliationResult
	TotalAccounts      int
	ReconciledAccounts int
}

// Reconcile checks that the account's current balance equals its opening
// balance plus every transaction the source knows about. It never modifies
// the ledger.
func (c *Coordinator) Reconcile(ctx context.Context, accountID string) (result ReconciliationResult, err error) {
	defer func(start time.Time) { c.observe("reconcile", start, err) }(time.Now())

	entry, err := c.Entry(accountID)
	if err != nil {
		return result, err
	}
	if c.source == nil {
		return result, domain.ErrAggregateUnavailable
	}

	txs, err := c.source.Transactions(ctx, TransactionFilter{AccountID: accountID})
	if err != nil {
		return result, fmt.Errorf("failed to load transactions: %w", err)
	}

	calculated, skipped := c.engine.Fold(ctx, entry.OpeningBalance, engine.Partition(txs)[accountID], entry.Perspective())
	diff := entry.CurrentBalance.Sub(calculated)

	return ReconciliationResult{
		AccountID:         accountID,
		RecordedBalance:   entry.CurrentBalance,
		CalculatedBalance: calculated,
		Difference:        diff,
		Skipped:           skipped,
		IsReconciled:      diff.IsZero() && len(skipped) == 0,
		CheckedAt:         c.now(),
	}, nil
}

// ReconcileAll reconciles every registered account.
func (c *Coordinator) ReconcileAll(ctx context.Context) (*ReconciliationReport, error) {
	entries := c.store.Entries()
	report := &ReconciliationReport{
		TotalAccounts: len(entries),
		Discrepancies: make([]ReconciliationResult, 0),
		CheckedAt:     c.now(),
	}

	for _, e := range entries {
		res, err := c.Reconcile(ctx, e.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile account %s: %w", e.AccountID, err)
		}
		if res.IsReconciled {
			report.ReconciledAccounts++
		} else {
			report.Discrepancies = append(report.Discrepancies, res)
		}
	}

	return report, nil
}
