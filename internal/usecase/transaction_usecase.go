package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/queue"
)

// UpdateForTransaction applies one transaction change incrementally. Each
// affected account is updated on its own lane. A transfer is reported as a
// single unit: if any leg fails, the legs that were applied are reverted
// before ErrTransferAtomicity is returned.
func (c *Coordinator) UpdateForTransaction(ctx context.Context, change domain.TransactionChange) (results []domain.OperationResult, err error) {
	defer func(start time.Time) { c.observe("transaction_"+string(change.Operation), start, err) }(time.Now())

	if err := change.Validate(); err != nil {
		return nil, err
	}

	accounts := change.AffectedAccounts()
	for _, id := range accounts {
		if _, err := c.Entry(id); err != nil {
			return nil, err
		}
	}

	results, errs, firstErr := c.applyLegs(ctx, accounts, change)
	changed := anyChanged(results)

	if firstErr != nil && len(accounts) > 1 {
		c.publish(ctx, domain.CauseTransactionChanged, changed)
		return results, fmt.Errorf("%w: %w", domain.ErrTransferAtomicity, firstErr)
	}

	if firstErr != nil {
		for i, e := range errs {
			if e != nil && c.markDegraded(ctx, accounts[i], e) {
				changed = true
			}
		}
		c.publish(ctx, domain.CauseTransactionChanged, changed)
		return results, firstErr
	}

	c.record(ctx, accounts, change.Categories(), change)
	c.publish(ctx, domain.CauseTransactionChanged, changed)

	for _, r := range results {
		if r.Status == domain.StatusPartial {
			c.logger.Warn().
				Str("account_id", r.AccountID).
				Int("skipped", len(r.Skipped)).
				Msg("transaction skipped, account degraded")
		}
	}

	return results, nil
}

// applyLegs runs the change on every affected account and compensates a
// transfer whose legs did not all commit. Snapshots wait for a transfer to
// resolve.
func (c *Coordinator) applyLegs(ctx context.Context, accounts []string, change domain.TransactionChange) ([]domain.OperationResult, []error, error) {
	if len(accounts) > 1 {
		c.view.RLock()
		defer c.view.RUnlock()
	}

	handles := make([]*queue.Handle, len(accounts))
	for i, id := range accounts {
		handles[i] = c.submitChange(id, change)
	}

	// Legs are always awaited to completion; giving up early would leave
	// the outcome of a transfer unknown.
	results, errs, firstErr := awaitAll(context.WithoutCancel(ctx), handles)

	if firstErr != nil && len(accounts) > 1 {
		c.compensate(ctx, accounts, change, errs)
	}

	return results, errs, firstErr
}

func (c *Coordinator) submitChange(accountID string, change domain.TransactionChange) *queue.Handle {
	return c.queue.Submit(accountID, queue.Task{
		Kind: queue.KindMutation,
		Run: func(ctx context.Context) (domain.OperationResult, error) {
			return c.commit(ctx, accountID, func(cur domain.LedgerEntry) (domain.LedgerEntry, []domain.SkippedTransaction, error) {
				return c.applyChange(ctx, cur, change)
			})
		},
	})
}

// applyChange folds the change into the entry. A failed conversion skips
// that transaction and degrades the account instead of failing the task.
func (c *Coordinator) applyChange(ctx context.Context, cur domain.LedgerEntry, change domain.TransactionChange) (domain.LedgerEntry, []domain.SkippedTransaction, error) {
	acc := cur.Perspective()
	balance := cur.CurrentBalance
	var skipped []domain.SkippedTransaction

	step := func(tx *domain.Transaction, fn func(context.Context, decimal.Decimal, domain.Transaction, domain.Account) (decimal.Decimal, error)) error {
		if tx == nil || !tx.Affects(acc.ID) {
			return nil
		}
		next, err := fn(ctx, balance, *tx, acc)
		if err != nil {
			if errors.Is(err, domain.ErrConversion) {
				skipped = append(skipped, domain.SkippedTransaction{TransactionID: tx.ID, AccountID: acc.ID, Err: err})
				return nil
			}
			return err
		}
		balance = next
		return nil
	}

	var err error
	switch change.Operation {
	case domain.OperationAdd:
		err = step(change.New, c.engine.ApplyDelta)
	case domain.OperationDelete:
		err = step(change.Old, c.engine.RevertDelta)
	case domain.OperationUpdate:
		if err = step(change.Old, c.engine.RevertDelta); err == nil {
			err = step(change.New, c.engine.ApplyDelta)
		}
	default:
		err = fmt.Errorf("%w: %q", domain.ErrInvalidOperation, change.Operation)
	}
	if err != nil {
		return cur, nil, err
	}

	cur.CurrentBalance = balance
	if len(skipped) > 0 {
		cur.Status = domain.StatusDegraded
	}

	return cur, skipped, nil
}

// compensate reverts the change on every leg that committed.
func (c *Coordinator) compensate(ctx context.Context, accounts []string, change domain.TransactionChange, errs []error) {
	inverse := invert(change)

	for i, id := range accounts {
		if errs[i] != nil {
			continue
		}

		c.metrics.TransferCompensations.Inc()
		if _, err := c.submitChange(id, inverse).Wait(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error().
				Err(err).
				Str("account_id", id).
				Msg("failed to compensate transfer leg")
			c.markDegraded(ctx, id, err)
			continue
		}

		c.logger.Warn().Str("account_id", id).Msg("transfer leg compensated")
	}
}

// invert returns the change that undoes change.
func invert(change domain.TransactionChange) domain.TransactionChange {
	switch change.Operation {
	case domain.OperationAdd:
		return domain.TransactionChange{Operation: domain.OperationDelete, Old: change.New}
	case domain.OperationDelete:
		return domain.TransactionChange{Operation: domain.OperationAdd, New: change.Old}
	default:
		return domain.TransactionChange{Operation: domain.OperationUpdate, Old: change.New, New: change.Old}
	}
}
