package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/eventpublisher"
	"github.com/iho/balancekeeper/internal/infrastructure/queue"
)

// LedgerStore holds the authoritative entry of every registered account.
type LedgerStore interface {
	Get(id string) (domain.LedgerEntry, bool)
	Version(id string) uint64
	Upsert(entry domain.LedgerEntry) domain.LedgerEntry
	CompareAndSwap(entry domain.LedgerEntry, expectedVersion uint64) (domain.LedgerEntry, error)
	Restore(entry domain.LedgerEntry)
	Remove(id string) error
	Snapshot() map[string]decimal.Decimal
	Entries() []domain.LedgerEntry
	Degraded() []string
}

// AggregateCache caches derived values tagged with the ledger version they
// were computed from.
type AggregateCache interface {
	Get(key domain.AggregateKey) (decimal.Decimal, uint64, bool)
	Put(key domain.AggregateKey, value decimal.Decimal, version uint64)
	Invalidate(accountIDs, categoryIDs []string) int
	Len() int
	Purge()
}

// Queue serializes account work.
type Queue interface {
	Submit(accountID string, task queue.Task) *queue.Handle
	Cancel(accountID string) int
	Flush(ctx context.Context, accountID string) error
	FlushAll(ctx context.Context) error
	Close(ctx context.Context) error
}

// SnapshotBroadcaster distributes committed snapshots to subscribers.
type SnapshotBroadcaster interface {
	Publish(ctx context.Context, snap domain.BalanceSnapshot) error
	Subscribe(buffer int) *eventpublisher.Subscription
}

// EntryRepository persists ledger entries outside the process.
type EntryRepository interface {
	Save(ctx context.Context, entry domain.LedgerEntry) error
	Delete(ctx context.Context, accountID string) error
	LoadAll(ctx context.Context) ([]domain.LedgerEntry, error)
}

// TransactionFilter narrows a transaction log query. Zero values match everything.
type TransactionFilter struct {
	From       time.Time
	To         time.Time
	AccountID  string
	CategoryID string
}

// Matches reports whether tx passes the filter. From is inclusive, To exclusive.
func (f TransactionFilter) Matches(tx domain.Transaction) bool {
	if f.AccountID != "" && !tx.Affects(f.AccountID) {
		return false
	}
	if f.CategoryID != "" && tx.CategoryID != f.CategoryID {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.Date.Before(f.To) {
		return false
	}
	return true
}

// TransactionSource reads the external transaction log.
type TransactionSource interface {
	Transactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
}

// TransactionJournal is a transaction log the coordinator writes the
// changes it committed to. Recording a transaction that is already present
// replaces it.
type TransactionJournal interface {
	TransactionSource
	Record(ctx context.Context, change domain.TransactionChange) error
	// Replace makes txs the complete history of accountIDs: every recorded
	// transaction touching one of them is dropped first.
	Replace(ctx context.Context, accountIDs []string, txs []domain.Transaction) error
}

// Retrier retries operations that failed with a retryable error.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops the key so the request can be retried.
	Release(ctx context.Context, key string) error
}
