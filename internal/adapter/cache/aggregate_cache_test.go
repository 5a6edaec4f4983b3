package cache

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/metrics"
)

func key(account, category, window string) domain.AggregateKey {
	return domain.AggregateKey{AccountID: account, CategoryID: category, Window: window}
}

func TestAggregateCache_GetPut(t *testing.T) {
	m := metrics.NewUnregistered()
	c, err := NewAggregateCache(4, m)
	require.NoError(t, err)

	_, _, ok := c.Get(key("a", "", ""))
	assert.False(t, ok)

	c.Put(key("a", "", ""), decimal.NewFromInt(10), 3)

	v, version, ok := c.Get(key("a", "", ""))
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, uint64(3), version)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses))
}

func TestAggregateCache_EvictsLeastRecentlyUsed(t *testing.T) {
	m := metrics.NewUnregistered()
	c, err := NewAggregateCache(2, m)
	require.NoError(t, err)

	c.Put(key("a", "", ""), decimal.NewFromInt(1), 1)
	c.Put(key("b", "", ""), decimal.NewFromInt(2), 1)

	// touch a so b becomes the oldest
	_, _, _ = c.Get(key("a", "", ""))
	c.Put(key("c", "", ""), decimal.NewFromInt(3), 1)

	_, _, ok := c.Get(key("b", "", ""))
	assert.False(t, ok, "b should have been evicted")
	_, _, ok = c.Get(key("a", "", ""))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheEvictions))

	// the evicted key must no longer be indexed
	assert.Equal(t, 0, c.Invalidate([]string{"b"}, nil))
}

func TestAggregateCache_InvalidateByScope(t *testing.T) {
	c, err := NewAggregateCache(16, nil)
	require.NoError(t, err)

	c.Put(key("a", "", ""), decimal.NewFromInt(1), 1)
	c.Put(key("a", "food", "2024-01"), decimal.NewFromInt(2), 1)
	c.Put(key("b", "food", ""), decimal.NewFromInt(3), 1)
	c.Put(key("b", "rent", ""), decimal.NewFromInt(4), 1)
	c.Put(key("c", "", "2024-02"), decimal.NewFromInt(5), 1)

	removed := c.Invalidate([]string{"a"}, []string{"food"})
	assert.Equal(t, 3, removed)

	_, _, ok := c.Get(key("b", "rent", ""))
	assert.True(t, ok)
	_, _, ok = c.Get(key("c", "", "2024-02"))
	assert.True(t, ok)
	_, _, ok = c.Get(key("b", "food", ""))
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestAggregateCache_Purge(t *testing.T) {
	c, err := NewAggregateCache(0, nil)
	require.NoError(t, err)

	c.Put(key("a", "", ""), decimal.NewFromInt(1), 1)
	c.Purge()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.Invalidate([]string{"a"}, nil))
}

func TestAggregateCache_Concurrent(t *testing.T) {
	c, err := NewAggregateCache(8, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		id := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				c.Put(key(id, "", ""), decimal.NewFromInt(int64(j)), uint64(j))
				_, _, _ = c.Get(key(id, "", ""))
				if j%10 == 0 {
					c.Invalidate([]string{id}, nil)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 8)
}
