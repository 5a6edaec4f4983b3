package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/iho/balancekeeper/internal/adapter/http/dto"
	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/usecase"
)

// TransactionService defines the behavior needed by TransactionHandler.
type TransactionService interface {
	UpdateForTransaction(ctx context.Context, change domain.TransactionChange) ([]domain.OperationResult, error)
	RecalculateAll(ctx context.Context, accounts []domain.AccountInfo, txs []domain.Transaction) (usecase.RecalculateResult, error)
}

// TransactionHandler applies transaction changes and full recomputes.
type TransactionHandler struct {
	svc     TransactionService
	timeout time.Duration
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(svc TransactionService, timeout time.Duration) *TransactionHandler {
	return &TransactionHandler{svc: svc, timeout: timeout}
}

// Apply applies one incremental transaction change.
func (h *TransactionHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req dto.TransactionChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ctx, cancel := operationContext(r, h.timeout)
	defer cancel()

	results, err := h.svc.UpdateForTransaction(ctx, req.ToDomain())
	if err != nil {
		writeError(w, mapDomainError(err), "failed to apply transaction", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.OperationsFromDomain(results))
}

// Recalculate recomputes balances from the full transaction set.
// Accounts that failed are reported with 207 alongside those that committed.
func (h *TransactionHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req dto.RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ctx, cancel := operationContext(r, h.timeout)
	defer cancel()

	accounts, txs := req.ToDomain()
	result, err := h.svc.RecalculateAll(ctx, accounts, txs)
	if err != nil && len(result.Results) == 0 {
		writeError(w, mapDomainError(err), "failed to recalculate balances", err.Error())
		return
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}

	writeJSON(w, status, dto.RecalculateFromDomain(result))
}
