package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/usecase"
)

func logTx(id, account, category string, day int) *domain.Transaction {
	return &domain.Transaction{
		ID:         id,
		AccountID:  account,
		CategoryID: category,
		Kind:       domain.KindExpense,
		Amount:     decimal.NewFromInt(10),
		Currency:   "KZT",
		Date:       time.Date(2024, time.March, day, 12, 0, 0, 0, time.UTC),
	}
}

func TestTransactionLog_RecordOperations(t *testing.T) {
	ctx := context.Background()
	log := NewTransactionLog()

	require.NoError(t, log.Record(ctx, domain.TransactionChange{Operation: domain.OperationAdd, New: logTx("t1", "a", "food", 1)}))
	require.NoError(t, log.Record(ctx, domain.TransactionChange{Operation: domain.OperationAdd, New: logTx("t2", "a", "rent", 2)}))
	assert.Equal(t, 2, log.Len())

	updated := logTx("t1", "a", "fun", 1)
	require.NoError(t, log.Record(ctx, domain.TransactionChange{Operation: domain.OperationUpdate, Old: logTx("t1", "a", "food", 1), New: updated}))
	require.NoError(t, log.Record(ctx, domain.TransactionChange{Operation: domain.OperationDelete, Old: logTx("t2", "a", "rent", 2)}))

	txs, err := log.Transactions(ctx, usecase.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "fun", txs[0].CategoryID)
}

func TestTransactionLog_RejectsInvalidChange(t *testing.T) {
	err := NewTransactionLog().Record(context.Background(), domain.TransactionChange{Operation: domain.OperationAdd})
	if !errors.Is(err, domain.ErrMissingTransaction) {
		t.Fatalf("expected ErrMissingTransaction, got %v", err)
	}
}

func TestTransactionLog_Filter(t *testing.T) {
	ctx := context.Background()
	log := NewTransactionLog()

	transfer := logTx("t3", "b", "", 20)
	transfer.Kind = domain.KindTransfer
	transfer.TargetAccountID = "a"

	for _, tx := range []*domain.Transaction{logTx("t2", "a", "food", 15), logTx("t1", "a", "food", 1), logTx("t4", "b", "food", 5), transfer} {
		require.NoError(t, log.Record(ctx, domain.TransactionChange{Operation: domain.OperationAdd, New: tx}))
	}

	tests := []struct {
		name   string
		filter usecase.TransactionFilter
		want   []string
	}{
		{name: "all", filter: usecase.TransactionFilter{}, want: []string{"t1", "t4", "t2", "t3"}},
		{name: "account includes inbound transfer", filter: usecase.TransactionFilter{AccountID: "a"}, want: []string{"t1", "t2", "t3"}},
		{name: "category", filter: usecase.TransactionFilter{AccountID: "a", CategoryID: "food"}, want: []string{"t1", "t2"}},
		{
			name: "range end exclusive",
			filter: usecase.TransactionFilter{
				From: time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC),
			},
			want: []string{"t4", "t2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := log.Transactions(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]string, len(txs))
			for i, tx := range txs {
				ids[i] = tx.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestTransactionLog_Replace(t *testing.T) {
	ctx := context.Background()
	log := NewTransactionLog()

	for _, tx := range []*domain.Transaction{logTx("t1", "a", "food", 1), logTx("t2", "a", "food", 2), logTx("t3", "b", "food", 3)} {
		require.NoError(t, log.Record(ctx, domain.TransactionChange{Operation: domain.OperationAdd, New: tx}))
	}

	require.NoError(t, log.Replace(ctx, []string{"a"}, []domain.Transaction{*logTx("t1", "a", "food", 1)}))

	got, err := log.Transactions(ctx, usecase.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "t3", got[1].ID)

	bad := *logTx("t4", "a", "food", 4)
	bad.Amount = decimal.Zero
	assert.ErrorIs(t, log.Replace(ctx, []string{"a"}, []domain.Transaction{bad}), domain.ErrInvalidAmount)
	assert.Equal(t, 2, log.Len())
}
