package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/adapter/http/dto"
	"github.com/iho/balancekeeper/internal/domain"
)

type accountServiceStub struct {
	registerFn func(ctx context.Context, accounts []domain.AccountInfo) ([]domain.OperationResult, error)
	openingFn  func(ctx context.Context, id string, amount decimal.Decimal) (domain.OperationResult, error)
	manualFn   func(ctx context.Context, id string) error
	importedFn func(ctx context.Context, id string) error
	removeFn   func(ctx context.Context, id string) error
	entries    map[string]domain.LedgerEntry
}

func (s *accountServiceStub) RegisterAccounts(ctx context.Context, accounts []domain.AccountInfo) ([]domain.OperationResult, error) {
	return s.registerFn(ctx, accounts)
}

func (s *accountServiceStub) SetOpeningBalance(ctx context.Context, id string, amount decimal.Decimal) (domain.OperationResult, error) {
	return s.openingFn(ctx, id, amount)
}

func (s *accountServiceStub) MarkAsManual(ctx context.Context, id string) error {
	return s.manualFn(ctx, id)
}

func (s *accountServiceStub) MarkAsImported(ctx context.Context, id string) error {
	return s.importedFn(ctx, id)
}

func (s *accountServiceStub) RemoveAccount(ctx context.Context, id string) error {
	return s.removeFn(ctx, id)
}

func (s *accountServiceStub) Entry(id string) (domain.LedgerEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return domain.LedgerEntry{}, fmt.Errorf("%w: %s", domain.ErrUnknownAccount, id)
	}
	return e, nil
}

func (s *accountServiceStub) Entries() []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func newAccountRouter(h *AccountHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/accounts", h.Register)
	r.Get("/accounts", h.List)
	r.Get("/accounts/{id}", h.Get)
	r.Put("/accounts/{id}/opening-balance", h.SetOpeningBalance)
	r.Put("/accounts/{id}/mode", h.SetMode)
	r.Delete("/accounts/{id}", h.Remove)
	return r
}

func TestAccountHandler_Register_Success(t *testing.T) {
	var captured []domain.AccountInfo
	h := NewAccountHandler(&accountServiceStub{
		registerFn: func(ctx context.Context, accounts []domain.AccountInfo) ([]domain.OperationResult, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("expected the operation to be bounded by a deadline")
			}
			captured = accounts
			return []domain.OperationResult{{AccountID: "acc-1", Status: domain.StatusCompleted, Balance: decimal.NewFromInt(100), Version: 1, Changed: true}}, nil
		},
	}, time.Second)

	body, _ := json.Marshal(dto.RegisterAccountsRequest{Accounts: []dto.AccountRequest{{
		ID:               "acc-1",
		Currency:         "usd",
		DisplayedBalance: decimal.NewFromInt(100),
	}}})

	rec := httptest.NewRecorder()
	newAccountRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(captured) != 1 || captured[0].ID != "acc-1" || !captured[0].DisplayedBalance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected input to match request, got %+v", captured)
	}

	var resp []dto.OperationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Status != "completed" || !resp[0].Changed {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAccountHandler_Register_RejectsEmptyAndInvalid(t *testing.T) {
	h := NewAccountHandler(&accountServiceStub{
		registerFn: func(ctx context.Context, accounts []domain.AccountInfo) ([]domain.OperationResult, error) {
			return nil, fmt.Errorf("account %q: %w", accounts[0].ID, domain.ErrInvalidCurrency)
		},
	}, time.Second)
	router := newAccountRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewBufferString(`{"accounts":[]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty registration, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewBufferString(`{"accounts":[{"id":"a","currency":"???"}]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid currency, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewBufferString(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestAccountHandler_GetAndList(t *testing.T) {
	h := NewAccountHandler(&accountServiceStub{entries: map[string]domain.LedgerEntry{
		"acc-1": {AccountID: "acc-1", Currency: "USD", Mode: domain.ModeManual, Status: domain.StatusOK, CurrentBalance: decimal.NewFromInt(5), Version: 3},
	}}, time.Second)
	router := newAccountRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/acc-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entry dto.EntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode entry: %v", err)
	}
	if entry.Version != 3 || !entry.CurrentBalance.Equal(decimal.NewFromInt(5)) || entry.Mode != "manual" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))
	var list []dto.EntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("expected one entry, got %s (%v)", rec.Body.String(), err)
	}
}

func TestAccountHandler_SetOpeningBalance(t *testing.T) {
	var gotID string
	var gotAmount decimal.Decimal
	h := NewAccountHandler(&accountServiceStub{
		openingFn: func(ctx context.Context, id string, amount decimal.Decimal) (domain.OperationResult, error) {
			gotID, gotAmount = id, amount
			return domain.OperationResult{AccountID: id, Status: domain.StatusCompleted, Balance: amount, Version: 2, Changed: true}, nil
		},
	}, time.Second)

	rec := httptest.NewRecorder()
	newAccountRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/accounts/acc-1/opening-balance", bytes.NewBufferString(`{"amount":"250.50"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotID != "acc-1" || !gotAmount.Equal(decimal.RequireFromString("250.50")) {
		t.Fatalf("unexpected call id=%s amount=%s", gotID, gotAmount)
	}
}

func TestAccountHandler_SetMode(t *testing.T) {
	var imported, manual []string
	stub := &accountServiceStub{
		manualFn:   func(ctx context.Context, id string) error { manual = append(manual, id); return nil },
		importedFn: func(ctx context.Context, id string) error { imported = append(imported, id); return nil },
		entries:    map[string]domain.LedgerEntry{"acc-1": {AccountID: "acc-1", Mode: domain.ModeImported}},
	}
	router := newAccountRouter(NewAccountHandler(stub, time.Second))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/accounts/acc-1/mode", bytes.NewBufferString(`{"mode":"imported"}`)))
	if rec.Code != http.StatusOK || len(imported) != 1 {
		t.Fatalf("expected imported switch, got %d imported=%v", rec.Code, imported)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/accounts/acc-1/mode", bytes.NewBufferString(`{"mode":"manual"}`)))
	if rec.Code != http.StatusOK || len(manual) != 1 {
		t.Fatalf("expected manual switch, got %d manual=%v", rec.Code, manual)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/accounts/acc-1/mode", bytes.NewBufferString(`{"mode":"bogus"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", rec.Code)
	}
}

func TestAccountHandler_Remove(t *testing.T) {
	h := NewAccountHandler(&accountServiceStub{
		removeFn: func(ctx context.Context, id string) error {
			if id == "missing" {
				return fmt.Errorf("%w: %s", domain.ErrUnknownAccount, id)
			}
			return nil
		},
	}, time.Second)
	router := newAccountRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/accounts/acc-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/accounts/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
