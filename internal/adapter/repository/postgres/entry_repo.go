package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/postgres/generated"
	"github.com/iho/balancekeeper/internal/usecase"
)

// EntryRepository implements usecase.EntryRepository on the ledger_entries table.
type EntryRepository struct {
	queries *generated.Queries
	retrier usecase.Retrier
}

// NewEntryRepository creates a new EntryRepository. Writes are retried on
// deadlocks and serialization failures.
func NewEntryRepository(pool *pgxpool.Pool, retrier usecase.Retrier) *EntryRepository {
	return newEntryRepositoryWithDB(pool, retrier)
}

func newEntryRepositoryWithDB(db generated.DBTX, retrier usecase.Retrier) *EntryRepository {
	return &EntryRepository{queries: generated.New(db), retrier: retrier}
}

type depositDocument struct {
	Principal    decimal.Decimal `json:"principal"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	Capitalize   bool            `json:"capitalize"`
	PostingDay   int             `json:"posting_day"`
}

// Save upserts the entry. A row with a newer version is left alone.
func (r *EntryRepository) Save(ctx context.Context, entry domain.LedgerEntry) error {
	var deposit []byte
	if entry.Deposit != nil {
		var err error
		deposit, err = json.Marshal(depositDocument{
			Principal:    entry.Deposit.Principal,
			InterestRate: entry.Deposit.InterestRate,
			Capitalize:   entry.Deposit.Capitalize,
			PostingDay:   entry.Deposit.PostingDay,
		})
		if err != nil {
			return fmt.Errorf("failed to encode deposit of %s: %w", entry.AccountID, err)
		}
	}

	params := generated.UpsertLedgerEntryParams{
		AccountID:      entry.AccountID,
		Currency:       entry.Currency,
		Mode:           string(entry.Mode),
		Status:         string(entry.Status),
		OpeningBalance: decimalToNumeric(entry.OpeningBalance),
		CurrentBalance: decimalToNumeric(entry.CurrentBalance),
		OpeningKnown:   entry.OpeningKnown,
		Version:        int64(entry.Version),
		Deposit:        deposit,
		UpdatedAt:      timeToPgTimestamptz(entry.UpdatedAt),
	}

	return r.retry(ctx, func() error {
		return r.queries.UpsertLedgerEntry(ctx, params)
	})
}

// Delete removes the persisted entry.
func (r *EntryRepository) Delete(ctx context.Context, accountID string) error {
	return r.retry(ctx, func() error {
		return r.queries.DeleteLedgerEntry(ctx, accountID)
	})
}

// LoadAll returns every persisted entry ordered by account ID.
func (r *EntryRepository) LoadAll(ctx context.Context) ([]domain.LedgerEntry, error) {
	rows, err := r.queries.ListLedgerEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	entries := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		e, err := rowToEntry(row)
		if err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", row.AccountID, err)
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func (r *EntryRepository) retry(ctx context.Context, op func() error) error {
	if r.retrier == nil {
		return op()
	}
	return r.retrier.Retry(ctx, op)
}

func rowToEntry(row generated.LedgerEntry) (domain.LedgerEntry, error) {
	mode, err := domain.ParseCalculationMode(row.Mode)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	e := domain.LedgerEntry{
		AccountID:      row.AccountID,
		Currency:       row.Currency,
		Mode:           mode,
		Status:         domain.Status(row.Status),
		OpeningBalance: numericToDecimal(row.OpeningBalance),
		CurrentBalance: numericToDecimal(row.CurrentBalance),
		OpeningKnown:   row.OpeningKnown,
		Version:        uint64(row.Version),
		UpdatedAt:      row.UpdatedAt.Time.UTC(),
	}

	if len(row.Deposit) > 0 {
		var doc depositDocument
		if err := json.Unmarshal(row.Deposit, &doc); err != nil {
			return domain.LedgerEntry{}, err
		}
		e.Deposit = &domain.DepositInfo{
			Principal:    doc.Principal,
			InterestRate: doc.InterestRate,
			Capitalize:   doc.Capitalize,
			PostingDay:   doc.PostingDay,
		}
	}

	return e, nil
}
