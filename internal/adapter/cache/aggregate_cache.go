// Package cache holds the bounded aggregate cache.
package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/metrics"
)

// DefaultCapacity is sized for recently viewed windows and categories.
const DefaultCapacity = 512

type cached struct {
	value   decimal.Decimal
	version uint64
}

// AggregateCache implements usecase.AggregateCache with an LRU and two scope
// indexes so invalidation only touches the keys of the given accounts and
// categories.
type AggregateCache struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[domain.AggregateKey, cached]
	byAccount  map[string]map[domain.AggregateKey]struct{}
	byCategory map[string]map[domain.AggregateKey]struct{}
	metrics    *metrics.Metrics
	// invalidating is set while Invalidate removes keys, so the eviction
	// callback does not count them as capacity evictions.
	invalidating bool
}

// NewAggregateCache creates a cache holding at most capacity entries.
func NewAggregateCache(capacity int, m *metrics.Metrics) (*AggregateCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	c := &AggregateCache{
		byAccount:  make(map[string]map[domain.AggregateKey]struct{}),
		byCategory: make(map[string]map[domain.AggregateKey]struct{}),
		metrics:    m,
	}

	l, err := simplelru.NewLRU[domain.AggregateKey, cached](capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	c.lru = l

	return c, nil
}

// Get returns the cached value and the ledger version it was derived from.
func (c *AggregateCache) Get(key domain.AggregateKey) (decimal.Decimal, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		c.metrics.CacheMisses.Inc()
		return decimal.Zero, 0, false
	}

	c.metrics.CacheHits.Inc()
	return v.value, v.version, true
}

// Put stores value derived from the given ledger version.
func (c *AggregateCache) Put(key domain.AggregateKey, value decimal.Decimal, version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, cached{value: value, version: version})
	index(c.byAccount, key.AccountID, key)
	if key.CategoryID != "" {
		index(c.byCategory, key.CategoryID, key)
	}
}

// Invalidate removes every entry whose key touches one of the accounts or
// categories. It returns the number of removed entries.
func (c *AggregateCache) Invalidate(accountIDs, categoryIDs []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []domain.AggregateKey
	for _, id := range accountIDs {
		for k := range c.byAccount[id] {
			doomed = append(doomed, k)
		}
	}
	for _, id := range categoryIDs {
		for k := range c.byCategory[id] {
			doomed = append(doomed, k)
		}
	}

	c.invalidating = true
	removed := 0
	for _, k := range doomed {
		if c.lru.Remove(k) {
			removed++
		}
	}
	c.invalidating = false

	c.metrics.CacheInvalidations.Add(float64(removed))

	return removed
}

// Len returns the number of cached entries.
func (c *AggregateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops everything.
func (c *AggregateCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidating = true
	c.lru.Purge()
	c.invalidating = false
}

// onEvict runs inside lru calls, which only happen under c.mu.
func (c *AggregateCache) onEvict(key domain.AggregateKey, _ cached) {
	unindex(c.byAccount, key.AccountID, key)
	if key.CategoryID != "" {
		unindex(c.byCategory, key.CategoryID, key)
	}
	if !c.invalidating {
		c.metrics.CacheEvictions.Inc()
	}
}

func index(idx map[string]map[domain.AggregateKey]struct{}, scope string, key domain.AggregateKey) {
	keys, ok := idx[scope]
	if !ok {
		keys = make(map[domain.AggregateKey]struct{})
		idx[scope] = keys
	}
	keys[key] = struct{}{}
}

func unindex(idx map[string]map[domain.AggregateKey]struct{}, scope string, key domain.AggregateKey) {
	keys, ok := idx[scope]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(idx, scope)
	}
}
