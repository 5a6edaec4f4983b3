// Package memory holds the in-process Ledger Store.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
)

// LedgerStore implements usecase.LedgerStore.
//
// Writers for one account are serialized by the update queue; the lock only
// protects the map itself so reads of different accounts never wait on
// computation.
type LedgerStore struct {
	mu      sync.RWMutex
	entries map[string]domain.LedgerEntry
	now     func() time.Time
}

// NewLedgerStore creates an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		entries: make(map[string]domain.LedgerEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the entry for id.
func (s *LedgerStore) Get(id string) (domain.LedgerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Version returns the current version of id, or 0 when absent.
func (s *LedgerStore) Version(id string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id].Version
}

// Upsert replaces the entry and bumps its version past the stored one.
func (s *LedgerStore) Upsert(entry domain.LedgerEntry) domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Version = s.entries[entry.AccountID].Version + 1
	entry.UpdatedAt = s.now()
	s.entries[entry.AccountID] = entry

	return entry
}

// CompareAndSwap stores entry only if the stored version still equals
// expectedVersion. An expectedVersion of 0 requires the entry to be absent.
func (s *LedgerStore) CompareAndSwap(entry domain.LedgerEntry, expectedVersion uint64) (domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[entry.AccountID]
	if !ok && expectedVersion != 0 {
		return domain.LedgerEntry{}, domain.ErrUnknownAccount
	}
	if current.Version != expectedVersion {
		return domain.LedgerEntry{}, domain.ErrStaleVersion
	}

	entry.Version = expectedVersion + 1
	entry.UpdatedAt = s.now()
	s.entries[entry.AccountID] = entry

	return entry, nil
}

// Restore loads a persisted entry keeping its version.
func (s *LedgerStore) Restore(entry domain.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.AccountID] = entry
}

// Remove deletes the entry. Removing an absent entry is ErrUnknownAccount.
func (s *LedgerStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return domain.ErrUnknownAccount
	}
	delete(s.entries, id)

	return nil
}

// Snapshot returns a copy of every current balance.
func (s *LedgerStore) Snapshot() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.CurrentBalance
	}

	return out
}

// Entries returns all entries ordered by account ID.
func (s *LedgerStore) Entries() []domain.LedgerEntry {
	s.mu.RLock()
	out := make([]domain.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })

	return out
}

// Degraded lists the accounts whose last computation skipped transactions.
func (s *LedgerStore) Degraded() []string {
	s.mu.RLock()
	var ids []string
	for id, e := range s.entries {
		if e.Degraded() {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Strings(ids)

	return ids
}
