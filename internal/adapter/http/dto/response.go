package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/usecase"
)

// EntryResponse represents a ledger entry in API responses.
type EntryResponse struct {
	AccountID      string          `json:"account_id"`
	Currency       string          `json:"currency"`
	Mode           string          `json:"mode"`
	Status         string          `json:"status"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	OpeningKnown   bool            `json:"opening_known"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Version        uint64          `json:"version"`
	Deposit        *DepositRequest `json:"deposit,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EntryFromDomain converts a ledger entry to a response.
func EntryFromDomain(e domain.LedgerEntry) EntryResponse {
	resp := EntryResponse{
		AccountID:      e.AccountID,
		Currency:       e.Currency,
		Mode:           string(e.Mode),
		Status:         string(e.Status),
		OpeningBalance: e.OpeningBalance,
		OpeningKnown:   e.OpeningKnown,
		CurrentBalance: e.CurrentBalance,
		Version:        e.Version,
		UpdatedAt:      e.UpdatedAt,
	}
	if e.Deposit != nil {
		resp.Deposit = &DepositRequest{
			Principal:    e.Deposit.Principal,
			InterestRate: e.Deposit.InterestRate,
			Capitalize:   e.Deposit.Capitalize,
			PostingDay:   e.Deposit.PostingDay,
		}
	}
	return resp
}

// EntriesFromDomain converts ledger entries to responses.
func EntriesFromDomain(entries []domain.LedgerEntry) []EntryResponse {
	result := make([]EntryResponse, len(entries))
	for i, e := range entries {
		result[i] = EntryFromDomain(e)
	}
	return result
}

// SkippedResponse describes a transaction left out of a computation.
type SkippedResponse struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Reason        string `json:"reason"`
}

// SkippedFromDomain converts skipped transactions.
func SkippedFromDomain(skipped []domain.SkippedTransaction) []SkippedResponse {
	result := make([]SkippedResponse, len(skipped))
	for i, s := range skipped {
		result[i] = SkippedResponse{TransactionID: s.TransactionID, AccountID: s.AccountID}
		if s.Err != nil {
			result[i].Reason = s.Err.Error()
		}
	}
	return result
}

// OperationResponse is the outcome of one account operation.
type OperationResponse struct {
	AccountID string            `json:"account_id"`
	Status    string            `json:"status"`
	Balance   decimal.Decimal   `json:"balance"`
	Version   uint64            `json:"version"`
	Changed   bool              `json:"changed"`
	Skipped   []SkippedResponse `json:"skipped,omitempty"`
}

// OperationsFromDomain converts operation results.
func OperationsFromDomain(results []domain.OperationResult) []OperationResponse {
	out := make([]OperationResponse, len(results))
	for i, r := range results {
		out[i] = OperationResponse{
			AccountID: r.AccountID,
			Status:    string(r.Status),
			Balance:   r.Balance,
			Version:   r.Version,
			Changed:   r.Changed,
		}
		if len(r.Skipped) > 0 {
			out[i].Skipped = SkippedFromDomain(r.Skipped)
		}
	}
	return out
}

// RecalculateResponse is the outcome of a full recompute.
type RecalculateResponse struct {
	Results  []OperationResponse `json:"results"`
	Skipped  []SkippedResponse   `json:"skipped"`
	Degraded []string            `json:"degraded"`
}

// RecalculateFromDomain converts a recompute result.
func RecalculateFromDomain(r usecase.RecalculateResult) RecalculateResponse {
	degraded := r.Degraded()
	if degraded == nil {
		degraded = []string{}
	}
	return RecalculateResponse{
		Results:  OperationsFromDomain(r.Results),
		Skipped:  SkippedFromDomain(r.Skipped),
		Degraded: degraded,
	}
}

// SnapshotResponse is a published set of balances.
type SnapshotResponse struct {
	Sequence uint64                     `json:"sequence"`
	Cause    string                     `json:"cause,omitempty"`
	Balances map[string]decimal.Decimal `json:"balances"`
	Degraded []string                   `json:"degraded"`
	At       time.Time                  `json:"at"`
}

// SnapshotFromDomain converts a snapshot.
func SnapshotFromDomain(s domain.BalanceSnapshot) SnapshotResponse {
	degraded := s.Degraded
	if degraded == nil {
		degraded = []string{}
	}
	balances := s.Balances
	if balances == nil {
		balances = map[string]decimal.Decimal{}
	}
	return SnapshotResponse{Sequence: s.Sequence, Cause: s.Cause, Balances: balances, Degraded: degraded, At: s.At}
}

// AggregateResponse is a derived value.
type AggregateResponse struct {
	AccountID  string          `json:"account_id"`
	CategoryID string          `json:"category_id,omitempty"`
	Window     string          `json:"window,omitempty"`
	Value      decimal.Decimal `json:"value"`
}

// ReconciliationResponse compares recorded and recomputed balances.
type ReconciliationResponse struct {
	AccountID         string            `json:"account_id"`
	RecordedBalance   decimal.Decimal   `json:"recorded_balance"`
	CalculatedBalance decimal.Decimal   `json:"calculated_balance"`
	Difference        decimal.Decimal   `json:"difference"`
	IsReconciled      bool              `json:"is_reconciled"`
	Skipped           []SkippedResponse `json:"skipped,omitempty"`
	CheckedAt         time.Time         `json:"checked_at"`
}

// ReconciliationFromDomain converts a reconciliation result.
func ReconciliationFromDomain(r usecase.ReconciliationResult) ReconciliationResponse {
	resp := ReconciliationResponse{
		AccountID:         r.AccountID,
		RecordedBalance:   r.RecordedBalance,
		CalculatedBalance: r.CalculatedBalance,
		Difference:        r.Difference,
		IsReconciled:      r.IsReconciled,
		CheckedAt:         r.CheckedAt,
	}
	if len(r.Skipped) > 0 {
		resp.Skipped = SkippedFromDomain(r.Skipped)
	}
	return resp
}

// ReconciliationReportResponse summarizes reconciliation of every account.
type ReconciliationReportResponse struct {
	TotalAccounts      int                      `json:"total_accounts"`
	ReconciledAccounts int                      `json:"reconciled_accounts"`
	Discrepancies      []ReconciliationResponse `json:"discrepancies"`
	CheckedAt          time.Time                `json:"checked_at"`
}

// ReconciliationReportFromDomain converts a report.
func ReconciliationReportFromDomain(r *usecase.ReconciliationReport) ReconciliationReportResponse {
	out := ReconciliationReportResponse{
		TotalAccounts:      r.TotalAccounts,
		ReconciledAccounts: r.ReconciledAccounts,
		Discrepancies:      make([]ReconciliationResponse, len(r.Discrepancies)),
		CheckedAt:          r.CheckedAt,
	}
	for i, d := range r.Discrepancies {
		out.Discrepancies[i] = ReconciliationFromDomain(d)
	}
	return out
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
