package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/adapter/http/dto"
	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/eventpublisher"
	"github.com/iho/balancekeeper/internal/usecase"
)

// BalanceService defines the behavior needed by BalanceHandler.
type BalanceService interface {
	Snapshot() domain.BalanceSnapshot
	Subscribe(buffer int) *eventpublisher.Subscription
	Aggregate(ctx context.Context, key domain.AggregateKey) (decimal.Decimal, error)
}

// BalanceHandler serves balances, aggregates and the snapshot stream.
type BalanceHandler struct {
	svc     BalanceService
	timeout time.Duration
}

// NewBalanceHandler creates a new BalanceHandler.
func NewBalanceHandler(svc BalanceService, timeout time.Duration) *BalanceHandler {
	return &BalanceHandler{svc: svc, timeout: timeout}
}

// Snapshot returns the current balances.
func (h *BalanceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.SnapshotFromDomain(h.svc.Snapshot()))
}

// Aggregate returns a derived value for an account, category and month.
func (h *BalanceHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := domain.AggregateKey{
		AccountID:  q.Get("account_id"),
		CategoryID: q.Get("category_id"),
		Window:     q.Get("window"),
	}

	ctx, cancel := operationContext(r, h.timeout)
	defer cancel()

	value, err := h.svc.Aggregate(ctx, key)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to compute aggregate", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.AggregateResponse{
		AccountID:  key.AccountID,
		CategoryID: key.CategoryID,
		Window:     key.Window,
		Value:      value,
	})
}

// Stream sends every published snapshot as a server-sent event until the
// client goes away or publishing stops.
func (h *BalanceHandler) Stream(w http.ResponseWriter, r *http.Request) {
	buffer, err := parseIntQuery(r, "buffer", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid buffer", err.Error())
		return
	}

	rc := http.NewResponseController(w)

	sub := h.svc.Subscribe(min(buffer, usecase.MaxSubscriptionBuffer))
	defer sub.Close()

	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(dto.SnapshotFromDomain(snap))
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Sequence, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
