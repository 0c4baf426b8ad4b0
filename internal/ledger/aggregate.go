// Package ledger folds stored line items and documents into period
// totals, a net worth series and a yearly profit and loss report.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
)

// Normalizer converts an amount into the canonical currency.
type Normalizer interface {
	ToCanonical(ctx context.Context, amount decimal.Decimal, code core.Currency) (decimal.Decimal, error)
}

// PeriodTotals are one period's sums in ILS.
type PeriodTotals struct {
	Income         decimal.Decimal `json:"incomeTotal"`
	Expense        decimal.Decimal `json:"expenseTotal"`
	Bill           decimal.Decimal `json:"billTotal"`
	DebtPayment    decimal.Decimal `json:"debtPaymentTotal"`
	SavingsDeposit decimal.Decimal `json:"savingsDepositTotal"`
}

// Outflow is what reduces net worth: expenses, bills and debt payments.
// Savings deposits stay within the user's assets.
func (t PeriodTotals) Outflow() decimal.Decimal {
	return t.Expense.Add(t.Bill).Add(t.DebtPayment)
}

func (t PeriodTotals) NetChange() decimal.Decimal {
	return t.Income.Sub(t.Outflow())
}

// AggregatePeriod sums every collection of a period after normalising each
// item with its own currency. Negative amounts pass through unclamped.
func AggregatePeriod(ctx context.Context, n Normalizer, items core.PeriodItems) (PeriodTotals, error) {
	var (
		t   PeriodTotals
		err error
	)
	if t.Income, err = sum(ctx, n, items.Incomes); err != nil {
		return PeriodTotals{}, err
	}
	if t.Expense, err = sum(ctx, n, items.Expenses); err != nil {
		return PeriodTotals{}, err
	}
	if t.Bill, err = sum(ctx, n, items.Bills); err != nil {
		return PeriodTotals{}, err
	}
	if t.DebtPayment, err = sum(ctx, n, items.Debts); err != nil {
		return PeriodTotals{}, err
	}
	if t.SavingsDeposit, err = sum(ctx, n, items.Savings); err != nil {
		return PeriodTotals{}, err
	}
	return t, nil
}

func sum[T core.LineItem](ctx context.Context, n Normalizer, items []T) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, item := range items {
		m := item.Money()
		v, err := n.ToCanonical(ctx, m.Amount, m.Currency)
		if err != nil {
			return decimal.Zero, fmt.Errorf("normalize %s: %w", item.Kind(), err)
		}
		total = total.Add(v)
	}
	return total, nil
}
