package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/adapter/http/dto"
	"github.com/iho/balancekeeper/internal/domain"
)

// AccountService defines the behavior needed by AccountHandler.
type AccountService interface {
	RegisterAccounts(ctx context.Context, accounts []domain.AccountInfo) ([]domain.OperationResult, error)
	SetOpeningBalance(ctx context.Context, accountID string, amount decimal.Decimal) (domain.OperationResult, error)
	MarkAsManual(ctx context.Context, accountID string) error
	MarkAsImported(ctx context.Context, accountID string) error
	RemoveAccount(ctx context.Context, accountID string) error
	Entry(accountID string) (domain.LedgerEntry, error)
	Entries() []domain.LedgerEntry
}

// AccountHandler handles account registry requests.
type AccountHandler struct {
	svc     AccountService
	timeout time.Duration
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(svc AccountService, timeout time.Duration) *AccountHandler {
	return &AccountHandler{svc: svc, timeout: timeout}
}

// Register registers new accounts and refreshes known ones.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterAccountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Accounts) == 0 {
		writeError(w, http.StatusBadRequest, "no accounts given", "")
		return
	}

	ctx, cancel := operationContext(r, h.timeout)
	defer cancel()

	results, err := h.svc.RegisterAccounts(ctx, req.ToDomain())
	if err != nil {
		writeError(w, mapDomainError(err), "failed to register accounts", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.OperationsFromDomain(results))
}

// List returns every ledger entry.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.EntriesFromDomain(h.svc.Entries()))
}

// Get returns the ledger entry of one account.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.Entry(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get account", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.EntryFromDomain(entry))
}

// SetOpeningBalance sets an explicit opening balance and switches the
// account to manual mode.
func (h *AccountHandler) SetOpeningBalance(w http.ResponseWriter, r *http.Request) {
	var req dto.OpeningBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ctx, cancel := operationContext(r, h.timeout)
	defer cancel()

	result, err := h.svc.SetOpeningBalance(ctx, chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to set opening balance", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.OperationsFromDomain([]domain.OperationResult{result})[0])
}

// SetMode switches the calculation mode of an account.
func (h *AccountHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req dto.ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	mode, err := domain.ParseCalculationMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mode", err.Error())
		return
	}

	ctx, cancel := operationContext(r, h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	if mode == domain.ModeManual {
		err = h.svc.MarkAsManual(ctx, id)
	} else {
		err = h.svc.MarkAsImported(ctx, id)
	}
	if err != nil {
		writeError(w, mapDomainError(err), "failed to set mode", err.Error())
		return
	}

	entry, err := h.svc.Entry(id)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get account", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.EntryFromDomain(entry))
}

// Remove deletes an account and cancels its pending work.
func (h *AccountHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := operationContext(r, h.timeout)
	defer cancel()

	if err := h.svc.RemoveAccount(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, mapDomainError(err), "failed to remove account", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
