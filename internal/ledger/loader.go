package ledger

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kesefly/internal/core"
)

// ItemStore is the read side the ledger needs from storage.
type ItemStore interface {
	// ListPeriods returns the user's periods of a scope up to and
	// including through, ascending.
	ListPeriods(ctx context.Context, userID string, scope core.Scope, through core.YearMonth) ([]core.Period, error)
	ListIncomes(ctx context.Context, periodID string) ([]core.Income, error)
	ListExpenses(ctx context.Context, periodID string) ([]core.Expense, error)
	ListBills(ctx context.Context, periodID string) ([]core.Bill, error)
	ListDebts(ctx context.Context, periodID string) ([]core.Debt, error)
	ListSavings(ctx context.Context, periodID string) ([]core.SavingsDeposit, error)
}

// historyConcurrency bounds the number of periods loaded at once.
const historyConcurrency = 4

// LoadPeriod fetches the five collections of a period concurrently.
func LoadPeriod(ctx context.Context, store ItemStore, periodID string) (core.PeriodItems, error) {
	var items core.PeriodItems
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		items.Incomes, err = store.ListIncomes(ctx, periodID)
		return err
	})
	g.Go(func() (err error) {
		items.Expenses, err = store.ListExpenses(ctx, periodID)
		return err
	})
	g.Go(func() (err error) {
		items.Bills, err = store.ListBills(ctx, periodID)
		return err
	})
	g.Go(func() (err error) {
		items.Debts, err = store.ListDebts(ctx, periodID)
		return err
	})
	g.Go(func() (err error) {
		items.Savings, err = store.ListSavings(ctx, periodID)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.PeriodItems{}, fmt.Errorf("load period %s: %w", periodID, err)
	}
	return items, nil
}

// LoadHistory loads every period of a scope through the given month with
// its items, preserving ascending order.
func LoadHistory(ctx context.Context, store ItemStore, userID string, scope core.Scope, through core.YearMonth) ([]PeriodLedger, error) {
	periods, err := store.ListPeriods(ctx, userID, scope, through)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	out := make([]PeriodLedger, len(periods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyConcurrency)
	for i, p := range periods {
		g.Go(func() error {
			items, err := LoadPeriod(gctx, store, p.ID)
			if err != nil {
				return err
			}
			out[i] = PeriodLedger{Period: p, Items: items}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
