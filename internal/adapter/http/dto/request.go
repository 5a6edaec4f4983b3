package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
)

// DepositRequest carries interest-bearing account metadata.
type DepositRequest struct {
	Principal    decimal.Decimal `json:"principal"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	Capitalize   bool            `json:"capitalize"`
	PostingDay   int             `json:"posting_day"`
}

// AccountRequest is one account registry tuple.
type AccountRequest struct {
	ID               string          `json:"id"`
	Currency         string          `json:"currency"`
	DisplayedBalance decimal.Decimal `json:"displayed_balance"`
	Deposit          *DepositRequest `json:"deposit,omitempty"`
}

// ToDomain converts to the registry tuple.
func (r AccountRequest) ToDomain() domain.AccountInfo {
	info := domain.AccountInfo{
		ID:               r.ID,
		Currency:         r.Currency,
		DisplayedBalance: r.DisplayedBalance,
	}
	if r.Deposit != nil {
		info.Deposit = &domain.DepositInfo{
			Principal:    r.Deposit.Principal,
			InterestRate: r.Deposit.InterestRate,
			Capitalize:   r.Deposit.Capitalize,
			PostingDay:   r.Deposit.PostingDay,
		}
	}
	return info
}

// RegisterAccountsRequest registers or refreshes accounts.
type RegisterAccountsRequest struct {
	Accounts []AccountRequest `json:"accounts"`
}

// ToDomain converts every account.
func (r *RegisterAccountsRequest) ToDomain() []domain.AccountInfo {
	return accountsToDomain(r.Accounts)
}

// OpeningBalanceRequest sets an explicit opening balance.
type OpeningBalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ModeRequest switches the calculation mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// TransactionRequest is a transaction as supplied by the transaction log.
type TransactionRequest struct {
	ID              string           `json:"id"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	Date            time.Time        `json:"date"`
	AccountID       string           `json:"account_id"`
	TargetAccountID string           `json:"target_account_id,omitempty"`
	TargetAmount    *decimal.Decimal `json:"target_amount,omitempty"`
	Kind            string           `json:"kind"`
	CategoryID      string           `json:"category_id,omitempty"`
}

// ToDomain converts to a domain transaction.
func (r *TransactionRequest) ToDomain() *domain.Transaction {
	if r == nil {
		return nil
	}
	return &domain.Transaction{
		ID:              r.ID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Date:            r.Date,
		AccountID:       r.AccountID,
		TargetAccountID: r.TargetAccountID,
		TargetAmount:    r.TargetAmount,
		Kind:            domain.TransactionKind(r.Kind),
		CategoryID:      r.CategoryID,
	}
}

// TransactionChangeRequest is an incremental update.
type TransactionChangeRequest struct {
	Operation string              `json:"operation"`
	Old       *TransactionRequest `json:"old,omitempty"`
	New       *TransactionRequest `json:"new,omitempty"`
}

// ToDomain converts to a domain change.
func (r *TransactionChangeRequest) ToDomain() domain.TransactionChange {
	return domain.TransactionChange{
		Operation: domain.Operation(r.Operation),
		Old:       r.Old.ToDomain(),
		New:       r.New.ToDomain(),
	}
}

// RecalculateRequest runs a full recompute.
type RecalculateRequest struct {
	Accounts     []AccountRequest     `json:"accounts"`
	Transactions []TransactionRequest `json:"transactions"`
}

// ToDomain converts the accounts and transactions.
func (r *RecalculateRequest) ToDomain() ([]domain.AccountInfo, []domain.Transaction) {
	txs := make([]domain.Transaction, len(r.Transactions))
	for i := range r.Transactions {
		txs[i] = *r.Transactions[i].ToDomain()
	}
	return accountsToDomain(r.Accounts), txs
}

func accountsToDomain(in []AccountRequest) []domain.AccountInfo {
	out := make([]domain.AccountInfo, len(in))
	for i, a := range in {
		out[i] = a.ToDomain()
	}
	return out
}
