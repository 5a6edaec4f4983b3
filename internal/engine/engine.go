// Package engine holds the pure balance arithmetic: applying and reverting a
// transaction, inferring an opening balance and full recomputation.
// Nothing here touches shared state; the only collaborator is the currency
// converter, which is treated as a pure function.
package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
)

var errNoConverter = errors.New("no currency converter configured")

// Converter converts an amount between currencies.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)

// Convert calls f.
func (f ConverterFunc) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	return f(ctx, amount, from, to)
}

// Engine computes balances. It is safe for concurrent use.
type Engine struct {
	converter Converter
}

// New creates an Engine. A nil converter makes every cross-currency
// transaction fail with a ConversionError.
func New(converter Converter) *Engine {
	return &Engine{converter: converter}
}

// Contribution returns the signed amount tx adds to acc, in acc's currency.
//
// The source leg is signed by kind (income and deposit interest add, expense
// and transfer subtract). The inbound leg of a transfer adds TargetAmount
// when recorded, otherwise the converted amount. Transactions that do not
// touch acc contribute zero.
func (e *Engine) Contribution(ctx context.Context, tx domain.Transaction, acc domain.Account) (decimal.Decimal, error) {
	switch {
	case tx.AccountID == acc.ID:
		amount, err := e.convert(ctx, tx, tx.Amount.Abs(), tx.Currency, acc.Currency)
		if err != nil {
			return decimal.Zero, err
		}
		if outbound(tx) {
			return amount.Neg(), nil
		}
		return amount, nil

	case tx.IsTransfer() && tx.TargetAccountID == acc.ID:
		if tx.TargetAmount != nil {
			return tx.TargetAmount.Abs(), nil
		}
		return e.convert(ctx, tx, tx.Amount.Abs(), tx.Currency, acc.Currency)
	}

	return decimal.Zero, nil
}

// ApplyDelta adds tx's contribution to balance. On error balance is returned unchanged.
func (e *Engine) ApplyDelta(ctx context.Context, balance decimal.Decimal, tx domain.Transaction, acc domain.Account) (decimal.Decimal, error) {
	c, err := e.Contribution(ctx, tx, acc)
	if err != nil {
		return balance, err
	}
	return balance.Add(c), nil
}

// RevertDelta subtracts exactly what ApplyDelta adds.
func (e *Engine) RevertDelta(ctx context.Context, balance decimal.Decimal, tx domain.Transaction, acc domain.Account) (decimal.Decimal, error) {
	c, err := e.Contribution(ctx, tx, acc)
	if err != nil {
		return balance, err
	}
	return balance.Sub(c), nil
}

func outbound(tx domain.Transaction) bool {
	if tx.IsTransfer() {
		return true
	}
	return tx.Kind == domain.KindExpense || tx.Kind == domain.KindTransfer
}

func (e *Engine) convert(ctx context.Context, tx domain.Transaction, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == "" || to == "" || strings.EqualFold(from, to) {
		return amount, nil
	}

	if e.converter == nil {
		return decimal.Zero, &domain.ConversionError{TransactionID: tx.ID, From: from, To: to, Err: errNoConverter}
	}

	converted, err := e.converter.Convert(ctx, amount, from, to)
	if err != nil {
		return decimal.Zero, &domain.ConversionError{TransactionID: tx.ID, From: from, To: to, Err: err}
	}

	return converted, nil
}
