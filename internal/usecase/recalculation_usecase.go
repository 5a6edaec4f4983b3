package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/engine"
	"github.com/iho/balancekeeper/internal/infrastructure/queue"
)

// RecalculateResult is the outcome of a full recompute.
type RecalculateResult struct {
	Results []domain.OperationResult
	Skipped []domain.SkippedTransaction
}

// Degraded lists the accounts that committed with skipped transactions.
func (r RecalculateResult) Degraded() []string {
	var ids []string
	for _, res := range r.Results {
		if res.Status == domain.StatusPartial || (res.Status == domain.StatusCoalesced && len(res.Skipped) > 0) {
			ids = append(ids, res.AccountID)
		}
	}
	return ids
}

// RecalculateAll recomputes the given accounts from the full transaction set.
//
// Unseen accounts are registered first. An account whose opening balance is
// not known yet gets it inferred from the observed balance (the displayed
// balance given here, or its current balance) and switches to imported mode;
// every other account folds its transactions onto its stored opening
// balance, so repeated calls with the same input are idempotent. With no
// accounts given, every registered account is recomputed.
//
// Cancelling ctx, or removing an account while its recompute is queued,
// discards that account's result and leaves its entry untouched.
func (c *Coordinator) RecalculateAll(ctx context.Context, accounts []domain.AccountInfo, txs []domain.Transaction) (out RecalculateResult, err error) {
	defer func(start time.Time) { c.observe("recalculate", start, err) }(time.Now())

	infos := make(map[string]domain.AccountInfo, len(accounts))
	var targets []string
	for _, info := range accounts {
		if err := domain.ValidateAccountInfo(info); err != nil {
			return out, fmt.Errorf("account %q: %w", info.ID, err)
		}
		if _, dup := infos[info.ID]; !dup {
			targets = append(targets, info.ID)
		}
		infos[info.ID] = info
	}
	if len(targets) == 0 {
		for _, e := range c.store.Entries() {
			targets = append(targets, e.AccountID)
		}
	}

	valid := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			out.Skipped = append(out.Skipped, domain.SkippedTransaction{TransactionID: tx.ID, AccountID: tx.AccountID, Err: err})
			continue
		}
		valid = append(valid, tx)
	}

	valid, duplicates := engine.Dedupe(valid)
	out.Skipped = append(out.Skipped, duplicates...)
	out.Skipped = append(out.Skipped, c.unknownAccounts(valid, infos)...)
	parts := engine.Partition(valid)

	failures, changed := c.recomputeBatch(ctx, targets, infos, parts, valid, &out)

	c.publish(ctx, domain.CauseRecalculated, changed)

	c.logger.Info().
		Int("accounts", len(targets)).
		Int("transactions", len(valid)).
		Int("skipped", len(out.Skipped)).
		Int("failed", len(failures)).
		Msg("balances recalculated")

	return out, errors.Join(failures...)
}

// recomputeBatch recomputes every target on its lane and records the
// outcome. The whole batch resolves before any snapshot is taken.
func (c *Coordinator) recomputeBatch(ctx context.Context, targets []string, infos map[string]domain.AccountInfo, parts map[string][]domain.Transaction, valid []domain.Transaction, out *RecalculateResult) ([]error, bool) {
	c.view.RLock()
	defer c.view.RUnlock()

	handles := make([]*queue.Handle, len(targets))
	for i, id := range targets {
		info, hasInfo := infos[id]
		accountTxs := parts[id]
		handles[i] = c.queue.Submit(id, queue.Task{
			Kind: queue.KindRecomputeHint,
			Run: func(laneCtx context.Context) (domain.OperationResult, error) {
				runCtx, cancel := joinContexts(laneCtx, ctx)
				defer cancel()
				return c.recompute(runCtx, id, info, hasInfo, accountTxs)
			},
		})
	}

	results, errs, _ := awaitAll(ctx, handles)
	out.Results = results
	changed := anyChanged(results)

	var (
		failures  []error
		committed []string
	)
	for i, res := range results {
		out.Skipped = append(out.Skipped, res.Skipped...)
		if errs[i] != nil {
			failures = append(failures, fmt.Errorf("account %s: %w", targets[i], errs[i]))
			if c.markDegraded(ctx, targets[i], errs[i]) {
				changed = true
			}
			continue
		}
		committed = append(committed, targets[i])
	}

	// The given set is the complete history of every committed account.
	if ctx.Err() == nil {
		c.replaceHistory(ctx, committed, historyOf(committed, valid))
	}

	return failures, changed
}

// historyOf returns the transactions touching any of accounts.
func historyOf(accounts []string, txs []domain.Transaction) []domain.Transaction {
	var history []domain.Transaction
	for _, tx := range txs {
		for _, id := range accounts {
			if tx.Affects(id) {
				history = append(history, tx)
				break
			}
		}
	}
	return history
}

// unknownAccounts reports transactions touching accounts that are neither
// registered nor part of this call.
func (c *Coordinator) unknownAccounts(txs []domain.Transaction, infos map[string]domain.AccountInfo) []domain.SkippedTransaction {
	var skipped []domain.SkippedTransaction
	for _, tx := range txs {
		for _, id := range tx.AffectedAccounts() {
			if _, ok := infos[id]; ok {
				continue
			}
			if _, ok := c.store.Get(id); ok {
				continue
			}
			skipped = append(skipped, domain.SkippedTransaction{
				TransactionID: tx.ID,
				AccountID:     id,
				Err:           fmt.Errorf("%w: %s", domain.ErrUnknownAccount, id),
			})
		}
	}
	return skipped
}

// recompute runs one account's share of a full pass on its lane.
func (c *Coordinator) recompute(ctx context.Context, accountID string, info domain.AccountInfo, hasInfo bool, txs []domain.Transaction) (domain.OperationResult, error) {
	created := false
	if _, ok := c.store.Get(accountID); !ok {
		if !hasInfo {
			return domain.OperationResult{AccountID: accountID}, fmt.Errorf("%w: %s", domain.ErrUnknownAccount, accountID)
		}
		if _, err := c.store.CompareAndSwap(domain.NewLedgerEntry(info, c.now()), 0); err != nil {
			return domain.OperationResult{AccountID: accountID}, err
		}
		created = true
	}

	res, err := c.commit(ctx, accountID, func(cur domain.LedgerEntry) (domain.LedgerEntry, []domain.SkippedTransaction, error) {
		observed := cur.CurrentBalance
		if hasInfo {
			observed = info.DisplayedBalance
			cur.Currency = strings.ToUpper(info.Currency)
			if info.Deposit != nil {
				cur.Deposit = info.Deposit
			}
		}

		var opening *decimal.Decimal
		if cur.OpeningKnown {
			o := cur.OpeningBalance
			opening = &o
		}

		ar := c.engine.RecomputeAccount(ctx, engine.AccountState{
			Account:  cur.Perspective(),
			Opening:  opening,
			Observed: observed,
		}, txs)

		cur.OpeningBalance = ar.Opening
		cur.CurrentBalance = ar.Balance
		if ar.Fresh {
			cur.OpeningKnown = true
			cur.Mode = domain.ModeImported
		}
		cur.Status = domain.StatusOK
		if len(ar.Skipped) > 0 {
			cur.Status = domain.StatusDegraded
		}

		return cur, ar.Skipped, nil
	})
	if created {
		res.Changed = true
	}

	return res, err
}
