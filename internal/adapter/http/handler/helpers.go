package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/iho/balancekeeper/internal/adapter/http/dto"
	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/usecase"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAccountID),
		errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrAmountTooLarge),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidOperation),
		errors.Is(err, domain.ErrMissingTransaction),
		errors.Is(err, domain.ErrSameAccount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConversion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransferAtomicity),
		errors.Is(err, domain.ErrRecomputeConflict),
		errors.Is(err, domain.ErrStaleVersion),
		errors.Is(err, domain.ErrCancelledAccount):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAggregateUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// parseIntQuery parses a non-negative integer query parameter, returning
// defaultValue when it is absent.
func parseIntQuery(r *http.Request, key string, defaultValue int) (int, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	if i < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return i, nil
}

// operationContext bounds how long a request waits for queued work.
func operationContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = usecase.DefaultOperationTimeout
	}
	return context.WithTimeout(r.Context(), timeout)
}
