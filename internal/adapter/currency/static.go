// Package currency provides currency converters for the calculation engine.
package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
)

// Scale is the number of decimal places converted amounts are rounded to.
const Scale = 8

// ErrRateUnavailable is returned when no rate is known for a pair.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

type pair struct {
	from string
	to   string
}

// StaticConverter converts with a fixed rate table. A rate registered for
// one direction also serves the inverse direction. It is safe for concurrent use.
type StaticConverter struct {
	mu    sync.RWMutex
	rates map[pair]decimal.Decimal
}

// NewStaticConverter creates a converter from a rate table such as
// "USD:EUR=0.92,EUR:KZT=520.5".
func NewStaticConverter(table string) (*StaticConverter, error) {
	c := &StaticConverter{rates: make(map[pair]decimal.Decimal)}

	for _, item := range strings.Split(table, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		codes, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q: expected FROM:TO=RATE", item)
		}
		from, to, ok := strings.Cut(codes, ":")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q: expected FROM:TO=RATE", item)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q: %w", item, err)
		}
		if err := c.SetRate(from, to, rate); err != nil {
			return nil, fmt.Errorf("invalid rate %q: %w", item, err)
		}
	}

	return c, nil
}

// SetRate registers how many units of to one unit of from buys.
func (c *StaticConverter) SetRate(from, to string, rate decimal.Decimal) error {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))

	if err := domain.ValidateCurrency(from); err != nil {
		return err
	}
	if err := domain.ValidateCurrency(to); err != nil {
		return err
	}
	if !rate.IsPositive() {
		return fmt.Errorf("rate must be positive, got %s", rate)
	}

	c.mu.Lock()
	c.rates[pair{from, to}] = rate
	c.mu.Unlock()

	return nil
}

// Convert implements engine.Converter.
func (c *StaticConverter) Convert(_ context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to {
		return amount, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if rate, ok := c.rates[pair{from, to}]; ok {
		return amount.Mul(rate).Round(Scale), nil
	}
	if rate, ok := c.rates[pair{to, from}]; ok {
		return amount.DivRound(rate, Scale), nil
	}

	return decimal.Zero, fmt.Errorf("%w: %s to %s", ErrRateUnavailable, from, to)
}

// Len returns the number of registered rates.
func (c *StaticConverter) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rates)
}
