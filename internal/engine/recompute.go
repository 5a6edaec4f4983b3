package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
)

// Inference is the result of deriving an opening balance.
type Inference struct {
	Opening decimal.Decimal
	Skipped []domain.SkippedTransaction
}

// InferOpeningBalance computes observed - sum(contributions of txs to acc).
// Transactions that fail conversion are left out and reported.
func (e *Engine) InferOpeningBalance(ctx context.Context, observed decimal.Decimal, txs []domain.Transaction, acc domain.Account) Inference {
	opening := observed
	var skipped []domain.SkippedTransaction

	for _, tx := range txs {
		c, err := e.Contribution(ctx, tx, acc)
		if err != nil {
			skipped = append(skipped, domain.SkippedTransaction{TransactionID: tx.ID, AccountID: acc.ID, Err: err})
			continue
		}
		opening = opening.Sub(c)
	}

	return Inference{Opening: opening, Skipped: skipped}
}

// Fold applies txs to opening in order, skipping failed conversions.
func (e *Engine) Fold(ctx context.Context, opening decimal.Decimal, txs []domain.Transaction, acc domain.Account) (decimal.Decimal, []domain.SkippedTransaction) {
	balance := opening
	var skipped []domain.SkippedTransaction

	for _, tx := range txs {
		next, err := e.ApplyDelta(ctx, balance, tx, acc)
		if err != nil {
			skipped = append(skipped, domain.SkippedTransaction{TransactionID: tx.ID, AccountID: acc.ID, Err: err})
			continue
		}
		balance = next
	}

	return balance, skipped
}

// AccountState is one account's input to RecomputeAll.
type AccountState struct {
	// Opening is the stored opening balance. Nil means the opening is not
	// known yet and must be inferred from Observed in this call.
	Opening  *decimal.Decimal
	Account  domain.Account
	Observed decimal.Decimal
}

// RecomputeInput is the input of a full pass.
type RecomputeInput struct {
	Accounts     []AccountState
	Transactions []domain.Transaction
}

// RecomputeResult is the output of a full pass.
type RecomputeResult struct {
	Balances map[string]decimal.Decimal
	Openings map[string]decimal.Decimal
	// Fresh holds the accounts whose opening was inferred by this call.
	Fresh    map[string]bool
	Degraded map[string]bool
	Skipped  []domain.SkippedTransaction
}

// RecomputeAll folds every account's transactions from its opening balance.
//
// Accounts without an opening balance are inferred once from their observed
// balance. The transactions used for that inference are not folded again in
// the same call, so a fresh account ends exactly at its observed balance. The
// fresh set lives only for the duration of the call. A transaction ID given
// twice is folded once and its repeat reported as skipped. Only ctx
// cancellation returns an error.
func (e *Engine) RecomputeAll(ctx context.Context, in RecomputeInput) (RecomputeResult, error) {
	res := RecomputeResult{
		Balances: make(map[string]decimal.Decimal, len(in.Accounts)),
		Openings: make(map[string]decimal.Decimal, len(in.Accounts)),
		Fresh:    make(map[string]bool),
		Degraded: make(map[string]bool),
	}

	txs, duplicates := Dedupe(in.Transactions)
	res.Skipped = append(res.Skipped, duplicates...)
	parts := Partition(txs)

	states := make([]AccountState, len(in.Accounts))
	copy(states, in.Accounts)
	sort.Slice(states, func(i, j int) bool { return states[i].Account.ID < states[j].Account.ID })

	known := make(map[string]bool, len(states))
	for _, st := range states {
		known[st.Account.ID] = true
	}

	for _, st := range states {
		if err := ctx.Err(); err != nil {
			return RecomputeResult{}, err
		}

		id := st.Account.ID
		ar := e.RecomputeAccount(ctx, st, parts[id])

		res.Openings[id] = ar.Opening
		res.Balances[id] = ar.Balance
		if ar.Fresh {
			res.Fresh[id] = true
		}
		if len(ar.Skipped) > 0 {
			res.Degraded[id] = true
			res.Skipped = append(res.Skipped, ar.Skipped...)
		}
	}

	for _, id := range sortedKeys(parts) {
		if known[id] {
			continue
		}
		for _, tx := range parts[id] {
			res.Skipped = append(res.Skipped, domain.SkippedTransaction{
				TransactionID: tx.ID,
				AccountID:     id,
				Err:           domain.ErrUnknownAccount,
			})
		}
	}

	return res, nil
}

// AccountResult is one account's share of a full pass.
type AccountResult struct {
	Opening decimal.Decimal
	Balance decimal.Decimal
	Skipped []domain.SkippedTransaction
	Fresh   bool
}

// RecomputeAccount recomputes a single account from its already partitioned
// and ordered transactions. A nil opening is inferred from the observed
// balance, which then is the resulting balance.
func (e *Engine) RecomputeAccount(ctx context.Context, st AccountState, txs []domain.Transaction) AccountResult {
	if st.Opening == nil {
		inf := e.InferOpeningBalance(ctx, st.Observed, txs, st.Account)
		return AccountResult{
			Opening: inf.Opening,
			Balance: st.Observed,
			Skipped: inf.Skipped,
			Fresh:   true,
		}
	}

	balance, skipped := e.Fold(ctx, *st.Opening, txs, st.Account)

	return AccountResult{
		Opening: *st.Opening,
		Balance: balance,
		Skipped: skipped,
	}
}

// Dedupe keeps the first transaction of every ID. Later repeats are
// returned as skipped with ErrDuplicateTransaction.
func Dedupe(txs []domain.Transaction) ([]domain.Transaction, []domain.SkippedTransaction) {
	out := make([]domain.Transaction, 0, len(txs))
	seen := make(map[string]bool, len(txs))
	var skipped []domain.SkippedTransaction

	for _, tx := range txs {
		if tx.ID != "" {
			if seen[tx.ID] {
				skipped = append(skipped, domain.SkippedTransaction{
					TransactionID: tx.ID,
					AccountID:     tx.AccountID,
					Err:           domain.ErrDuplicateTransaction,
				})
				continue
			}
			seen[tx.ID] = true
		}
		out = append(out, tx)
	}

	return out, skipped
}

// Partition groups transactions by affected account. A transfer lands in
// both partitions. Each partition is ordered by date, then ID.
func Partition(txs []domain.Transaction) map[string][]domain.Transaction {
	parts := make(map[string][]domain.Transaction)

	for _, tx := range txs {
		for _, id := range tx.AffectedAccounts() {
			parts[id] = append(parts[id], tx)
		}
	}

	for _, p := range parts {
		sort.SliceStable(p, func(i, j int) bool {
			if !p[i].Date.Equal(p[j].Date) {
				return p[i].Date.Before(p[j].Date)
			}
			return p[i].ID < p[j].ID
		})
	}

	return parts
}

func sortedKeys(m map[string][]domain.Transaction) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
