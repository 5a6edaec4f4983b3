package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/usecase"
)

// TransactionLog implements usecase.TransactionJournal in process memory.
// Transactions are keyed by ID.
type TransactionLog struct {
	mu  sync.RWMutex
	txs map[string]domain.Transaction
}

// NewTransactionLog creates an empty TransactionLog.
func NewTransactionLog() *TransactionLog {
	return &TransactionLog{txs: make(map[string]domain.Transaction)}
}

// Record applies a committed change to the log.
func (l *TransactionLog) Record(_ context.Context, change domain.TransactionChange) error {
	if err := change.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch change.Operation {
	case domain.OperationAdd:
		l.txs[change.New.ID] = *change.New
	case domain.OperationDelete:
		delete(l.txs, change.Old.ID)
	case domain.OperationUpdate:
		delete(l.txs, change.Old.ID)
		l.txs[change.New.ID] = *change.New
	}

	return nil
}

// Replace drops every transaction touching accountIDs and records txs.
func (l *TransactionLog) Replace(_ context.Context, accountIDs []string, txs []domain.Transaction) error {
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, tx := range l.txs {
		for _, acc := range accountIDs {
			if tx.Affects(acc) {
				delete(l.txs, id)
				break
			}
		}
	}
	for _, tx := range txs {
		l.txs[tx.ID] = tx
	}

	return nil
}

// Transactions returns the matching transactions ordered by date, then ID.
func (l *TransactionLog) Transactions(_ context.Context, filter usecase.TransactionFilter) ([]domain.Transaction, error) {
	l.mu.RLock()
	out := make([]domain.Transaction, 0, len(l.txs))
	for _, tx := range l.txs {
		if filter.Matches(tx) {
			out = append(out, tx)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})

	return out, nil
}

// Len returns the number of recorded transactions.
func (l *TransactionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.txs)
}
