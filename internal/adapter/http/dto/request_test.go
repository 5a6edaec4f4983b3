package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/balancekeeper/internal/domain"
)

func TestTransactionChangeRequest_ToDomain(t *testing.T) {
	body := `{
		"operation": "update",
		"old": {"id": "t1", "amount": "100.50", "currency": "USD", "date": "2024-03-01T10:00:00Z",
			"account_id": "usd", "target_account_id": "kzt", "target_amount": 46000, "kind": "transfer"},
		"new": {"id": "t1", "amount": 120, "currency": "USD", "date": "2024-03-02T10:00:00Z",
			"account_id": "usd", "kind": "expense", "category_id": "food"}
	}`

	var req TransactionChangeRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	change := req.ToDomain()
	assert.Equal(t, domain.OperationUpdate, change.Operation)
	require.NotNil(t, change.Old)
	require.NotNil(t, change.New)

	assert.True(t, change.Old.Amount.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, change.Old.IsTransfer())
	require.NotNil(t, change.Old.TargetAmount)
	assert.True(t, change.Old.TargetAmount.Equal(decimal.NewFromInt(46000)))
	assert.Equal(t, time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC), change.Old.Date.UTC())

	assert.Equal(t, domain.KindExpense, change.New.Kind)
	assert.Equal(t, "food", change.New.CategoryID)
	assert.Nil(t, change.New.TargetAmount)
	require.NoError(t, change.Validate())
}

func TestTransactionChangeRequest_MissingSide(t *testing.T) {
	req := TransactionChangeRequest{Operation: "delete"}
	change := req.ToDomain()

	assert.Nil(t, change.Old)
	assert.ErrorIs(t, change.Validate(), domain.ErrMissingTransaction)
}

func TestRecalculateRequest_ToDomain(t *testing.T) {
	body := `{
		"accounts": [{"id": "dep", "currency": "KZT", "displayed_balance": "1000",
			"deposit": {"principal": "1000", "interest_rate": "0.14", "capitalize": true, "posting_day": 1}}],
		"transactions": [{"id": "t1", "amount": "400", "currency": "KZT", "date": "2024-03-01T00:00:00Z",
			"account_id": "dep", "kind": "expense"}]
	}`

	var req RecalculateRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	accounts, txs := req.ToDomain()
	require.Len(t, accounts, 1)
	require.Len(t, txs, 1)

	assert.True(t, accounts[0].DisplayedBalance.Equal(decimal.NewFromInt(1000)))
	require.NotNil(t, accounts[0].Deposit)
	assert.True(t, accounts[0].Deposit.Capitalize)
	assert.Equal(t, "dep", txs[0].AccountID)
}

func TestEntryFromDomain(t *testing.T) {
	e := domain.LedgerEntry{
		AccountID:      "a",
		Currency:       "KZT",
		Mode:           domain.ModeImported,
		Status:         domain.StatusDegraded,
		CurrentBalance: decimal.RequireFromString("82884.07"),
		Version:        3,
	}

	raw, err := json.Marshal(EntryFromDomain(e))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"current_balance":"82884.07"`)
	assert.Contains(t, string(raw), `"mode":"imported"`)
	assert.Contains(t, string(raw), `"status":"degraded"`)
	assert.NotContains(t, string(raw), `"deposit"`)
}

func TestSnapshotFromDomainUsesEmptyCollections(t *testing.T) {
	raw, err := json.Marshal(SnapshotFromDomain(domain.BalanceSnapshot{Sequence: 2}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"balances":{}`)
	assert.Contains(t, string(raw), `"degraded":[]`)
}
