package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/balancekeeper/internal/adapter/http/dto"
	"github.com/iho/balancekeeper/internal/usecase"
)

// ReconciliationService defines the behavior needed by ReconciliationHandler.
type ReconciliationService interface {
	Reconcile(ctx context.Context, accountID string) (usecase.ReconciliationResult, error)
	ReconcileAll(ctx context.Context) (*usecase.ReconciliationReport, error)
}

// ReconciliationHandler compares recorded balances against the transaction log.
type ReconciliationHandler struct {
	svc     ReconciliationService
	timeout time.Duration
}

// NewReconciliationHandler creates a new ReconciliationHandler.
func NewReconciliationHandler(svc ReconciliationService, timeout time.Duration) *ReconciliationHandler {
	return &ReconciliationHandler{svc: svc, timeout: timeout}
}

// Account reconciles one account.
func (h *ReconciliationHandler) Account(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := operationContext(r, h.timeout)
	defer cancel()

	result, err := h.svc.Reconcile(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to reconcile account", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.ReconciliationFromDomain(result))
}

// All reconciles every registered account.
func (h *ReconciliationHandler) All(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := operationContext(r, h.timeout)
	defer cancel()

	report, err := h.svc.ReconcileAll(ctx)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to reconcile accounts", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.ReconciliationReportFromDomain(report))
}
