package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/postgres/generated"
	"github.com/iho/balancekeeper/internal/usecase"
)

// TransactionLog implements usecase.TransactionJournal on the transactions table.
type TransactionLog struct {
	pool    pgxPool
	queries *generated.Queries
	retrier usecase.Retrier
}

// NewTransactionLog creates a new TransactionLog.
func NewTransactionLog(pool *pgxpool.Pool, retrier usecase.Retrier) *TransactionLog {
	return newTransactionLogWithPool(pool, retrier)
}

func newTransactionLogWithPool(pool pgxPool, retrier usecase.Retrier) *TransactionLog {
	return &TransactionLog{pool: pool, queries: generated.New(pool), retrier: retrier}
}

// Record applies a committed change. An update replaces the old row in the
// same database transaction.
func (l *TransactionLog) Record(ctx context.Context, change domain.TransactionChange) error {
	if err := change.Validate(); err != nil {
		return err
	}

	op := func() error {
		return inTx(ctx, l.pool, func(tx pgx.Tx) error {
			q := l.queries.WithTx(tx)
			if change.Old != nil && change.Operation != domain.OperationAdd {
				if err := q.DeleteTransaction(ctx, change.Old.ID); err != nil {
					return fmt.Errorf("failed to delete transaction %s: %w", change.Old.ID, err)
				}
			}
			if change.New != nil && change.Operation != domain.OperationDelete {
				if err := q.UpsertTransaction(ctx, txToParams(*change.New)); err != nil {
					return fmt.Errorf("failed to store transaction %s: %w", change.New.ID, err)
				}
			}
			return nil
		})
	}

	if l.retrier == nil {
		return op()
	}
	return l.retrier.Retry(ctx, op)
}

// Replace drops every row touching accountIDs and stores txs in their place,
// in one database transaction.
func (l *TransactionLog) Replace(ctx context.Context, accountIDs []string, txs []domain.Transaction) error {
	if len(accountIDs) == 0 {
		return nil
	}

	op := func() error {
		return inTx(ctx, l.pool, func(tx pgx.Tx) error {
			q := l.queries.WithTx(tx)
			if err := q.DeleteAccountTransactions(ctx, accountIDs); err != nil {
				return fmt.Errorf("failed to clear account transactions: %w", err)
			}
			for _, t := range txs {
				if err := q.UpsertTransaction(ctx, txToParams(t)); err != nil {
					return fmt.Errorf("failed to store transaction %s: %w", t.ID, err)
				}
			}
			return nil
		})
	}

	if l.retrier == nil {
		return op()
	}
	return l.retrier.Retry(ctx, op)
}

// Transactions returns the matching transactions ordered by date, then ID.
func (l *TransactionLog) Transactions(ctx context.Context, filter usecase.TransactionFilter) ([]domain.Transaction, error) {
	rows, err := l.queries.ListTransactions(ctx, generated.ListTransactionsParams{
		AccountID:  optionalText(filter.AccountID),
		CategoryID: optionalText(filter.CategoryID),
		FromTime:   optionalTime(filter.From),
		ToTime:     optionalTime(filter.To),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	txs := make([]domain.Transaction, len(rows))
	for i, row := range rows {
		txs[i] = rowToTransaction(row)
	}

	return txs, nil
}

func txToParams(tx domain.Transaction) generated.UpsertTransactionParams {
	return generated.UpsertTransactionParams{
		ID:              tx.ID,
		AccountID:       tx.AccountID,
		TargetAccountID: optionalText(tx.TargetAccountID),
		Kind:            string(tx.Kind),
		Amount:          decimalToNumeric(tx.Amount),
		TargetAmount:    optionalDecimalToNumeric(tx.TargetAmount),
		Currency:        tx.Currency,
		CategoryID:      optionalText(tx.CategoryID),
		OccurredAt:      timeToPgTimestamptz(tx.Date),
	}
}

func rowToTransaction(row generated.Transaction) domain.Transaction {
	return domain.Transaction{
		ID:              row.ID,
		AccountID:       row.AccountID,
		TargetAccountID: row.TargetAccountID.String,
		Kind:            domain.TransactionKind(row.Kind),
		Amount:          numericToDecimal(row.Amount),
		TargetAmount:    numericToOptionalDecimal(row.TargetAmount),
		Currency:        row.Currency,
		CategoryID:      row.CategoryID.String,
		Date:            row.OccurredAt.Time.UTC(),
	}
}
