package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
)

// Aggregate returns a derived value for key. The plain balance comes from
// the ledger; category and month windows are summed from the transaction
// source. Values are cached with the ledger version they were derived from,
// so a cached value is served only while the account is unchanged, and are
// not cached at all when the journal changed while they were computed.
func (c *Coordinator) Aggregate(ctx context.Context, key domain.AggregateKey) (value decimal.Decimal, err error) {
	defer func(start time.Time) { c.observe("aggregate", start, err) }(time.Now())

	if err := key.Validate(); err != nil {
		return decimal.Zero, err
	}

	generation := c.journalGeneration()

	entry, err := c.Entry(key.AccountID)
	if err != nil {
		return decimal.Zero, err
	}

	if v, version, ok := c.cache.Get(key); ok && version == entry.Version {
		return v, nil
	}

	if key.IsBalance() {
		value = entry.CurrentBalance
	} else {
		value, err = c.sumTransactions(ctx, key, entry)
		if err != nil {
			return decimal.Zero, err
		}
	}

	c.cacheAggregate(key, value, entry.Version, generation)

	return value, nil
}

func (c *Coordinator) sumTransactions(ctx context.Context, key domain.AggregateKey, entry domain.LedgerEntry) (decimal.Decimal, error) {
	if c.source == nil {
		return decimal.Zero, domain.ErrAggregateUnavailable
	}

	filter := TransactionFilter{AccountID: key.AccountID, CategoryID: key.CategoryID}
	if from, to, ok := key.Range(); ok {
		filter.From, filter.To = from, to
	}

	txs, err := c.source.Transactions(ctx, filter)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load transactions: %w", err)
	}

	sum := decimal.Zero
	for _, tx := range txs {
		if !key.Matches(tx) {
			continue
		}
		contribution, err := c.engine.Contribution(ctx, tx, entry.Perspective())
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(contribution)
	}

	return sum, nil
}
