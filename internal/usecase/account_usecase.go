package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/queue"
)

// RegisterAccounts creates ledger entries for new accounts and refreshes
// currency and deposit metadata of known ones. New entries start in manual
// mode with the displayed balance as a provisional opening balance.
func (c *Coordinator) RegisterAccounts(ctx context.Context, accounts []domain.AccountInfo) (results []domain.OperationResult, err error) {
	defer func(start time.Time) { c.observe("register", start, err) }(time.Now())

	for _, info := range accounts {
		if err := domain.ValidateAccountInfo(info); err != nil {
			return nil, fmt.Errorf("account %q: %w", info.ID, err)
		}
	}

	handles := make([]*queue.Handle, 0, len(accounts))
	for _, info := range accounts {
		handles = append(handles, c.queue.Submit(info.ID, queue.Task{
			Kind: queue.KindMutation,
			Run: func(ctx context.Context) (domain.OperationResult, error) {
				return c.register(ctx, info)
			},
		}))
	}

	results, _, err = awaitAll(ctx, handles)
	c.publish(ctx, domain.CauseAccountsRegistered, anyChanged(results))

	if err != nil {
		return results, err
	}

	c.logger.Info().Int("accounts", len(accounts)).Msg("accounts registered")

	return results, nil
}

func (c *Coordinator) register(ctx context.Context, info domain.AccountInfo) (domain.OperationResult, error) {
	info.Currency = strings.ToUpper(info.Currency)

	if _, ok := c.store.Get(info.ID); !ok {
		stored, err := c.store.CompareAndSwap(domain.NewLedgerEntry(info, c.now()), 0)
		if err != nil {
			return domain.OperationResult{AccountID: info.ID}, err
		}
		c.cache.Invalidate([]string{info.ID}, nil)
		c.persist(ctx, stored)

		return domain.OperationResult{
			AccountID: info.ID,
			Status:    domain.StatusCompleted,
			Balance:   stored.CurrentBalance,
			Version:   stored.Version,
			Changed:   true,
		}, nil
	}

	return c.commit(ctx, info.ID, func(cur domain.LedgerEntry) (domain.LedgerEntry, []domain.SkippedTransaction, error) {
		cur.Currency = info.Currency
		cur.Deposit = info.Deposit
		cur.Mode = domain.ModeManual
		return cur, nil, nil
	})
}

// SetOpeningBalance sets an explicit opening balance. Transactions already
// folded into the current balance stay folded.
func (c *Coordinator) SetOpeningBalance(ctx context.Context, accountID string, amount decimal.Decimal) (result domain.OperationResult, err error) {
	defer func(start time.Time) { c.observe("set_opening_balance", start, err) }(time.Now())

	if _, err := c.Entry(accountID); err != nil {
		return domain.OperationResult{AccountID: accountID}, err
	}

	h := c.queue.Submit(accountID, queue.Task{
		Kind: queue.KindMutation,
		Run: func(ctx context.Context) (domain.OperationResult, error) {
			return c.commit(ctx, accountID, func(cur domain.LedgerEntry) (domain.LedgerEntry, []domain.SkippedTransaction, error) {
				return cur.WithOpeningBalance(amount), nil, nil
			})
		},
	})

	result, err = h.Wait(ctx)
	c.publish(ctx, domain.CauseOpeningBalanceSet, result.Changed)

	return result, err
}

// MarkAsManual switches the account to manual mode.
func (c *Coordinator) MarkAsManual(ctx context.Context, accountID string) error {
	return c.setMode(ctx, accountID, domain.ModeManual)
}

// MarkAsImported switches the account to imported mode.
func (c *Coordinator) MarkAsImported(ctx context.Context, accountID string) error {
	return c.setMode(ctx, accountID, domain.ModeImported)
}

func (c *Coordinator) setMode(ctx context.Context, accountID string, mode domain.CalculationMode) (err error) {
	defer func(start time.Time) { c.observe("set_mode", start, err) }(time.Now())

	if _, err := c.Entry(accountID); err != nil {
		return err
	}

	h := c.queue.Submit(accountID, queue.Task{
		Kind: queue.KindMutation,
		Run: func(ctx context.Context) (domain.OperationResult, error) {
			return c.commit(ctx, accountID, func(cur domain.LedgerEntry) (domain.LedgerEntry, []domain.SkippedTransaction, error) {
				cur.Mode = mode
				return cur, nil, nil
			})
		},
	})

	_, err = h.Wait(ctx)
	return err
}

// RemoveAccount cancels queued work for the account, deregisters it and
// drops everything derived from it.
func (c *Coordinator) RemoveAccount(ctx context.Context, accountID string) (err error) {
	defer func(start time.Time) { c.observe("remove", start, err) }(time.Now())

	if _, err := c.Entry(accountID); err != nil {
		return err
	}

	if n := c.queue.Cancel(accountID); n > 0 {
		c.logger.Info().Str("account_id", accountID).Int("discarded", n).Msg("pending work discarded for removed account")
	}

	h := c.queue.Submit(accountID, queue.Task{
		Kind: queue.KindMutation,
		Run: func(ctx context.Context) (domain.OperationResult, error) {
			if err := c.store.Remove(accountID); err != nil {
				return domain.OperationResult{AccountID: accountID}, fmt.Errorf("%w: %s", err, accountID)
			}
			c.cache.Invalidate([]string{accountID}, nil)
			c.unpersist(ctx, accountID)

			return domain.OperationResult{AccountID: accountID, Status: domain.StatusCompleted, Changed: true}, nil
		},
	})

	res, err := h.Wait(ctx)
	c.publish(ctx, domain.CauseAccountRemoved, res.Changed)
	if err != nil {
		return err
	}

	c.logger.Info().Str("account_id", accountID).Msg("account removed")

	return nil
}
