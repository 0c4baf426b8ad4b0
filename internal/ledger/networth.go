package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
)

// ErrPeriodOrder is returned when a period is applied out of chronological
// order or twice.
var ErrPeriodOrder = errors.New("periods must be applied in strictly ascending order")

// Point is one month of the net worth series.
type Point struct {
	Month int `json:"month"`
	Year  int `json:"year"`
	// Opening is the balance the month's net change was applied to, after
	// any override or baseline.
	Opening             decimal.Decimal `json:"openingBalance"`
	Income              decimal.Decimal `json:"income"`
	Expenses            decimal.Decimal `json:"expenses"`
	NetChange           decimal.Decimal `json:"netChange"`
	AccumulatedNetWorth decimal.Decimal `json:"accumulatedNetWorth"`
}

// Accumulator is the left fold that carries a balance across periods.
//
// For each period, in order: an override replaces the balance with its
// own total; otherwise the first period seeds the balance from the scope's
// global baseline; then the period's net change is added.
type Accumulator struct {
	baseline    decimal.Decimal
	accumulated decimal.Decimal
	started     bool
	last        core.YearMonth
}

func NewAccumulator(baseline decimal.Decimal) *Accumulator {
	return &Accumulator{baseline: baseline}
}

// Apply folds one period into the balance. Periods must arrive strictly
// after the previously applied one.
func (a *Accumulator) Apply(p core.Period, totals PeriodTotals) (Point, error) {
	if a.started && !p.YearMonth.After(a.last) {
		return Point{}, fmt.Errorf("%w: %s after %s", ErrPeriodOrder, p.YearMonth, a.last)
	}

	switch {
	case p.HasOverride():
		a.accumulated = p.OverrideTotal()
	case !a.started:
		a.accumulated = a.baseline
	}
	a.started = true
	a.last = p.YearMonth

	opening := a.accumulated
	net := totals.NetChange()
	a.accumulated = a.accumulated.Add(net)

	return Point{
		Month:               p.Month,
		Year:                p.Year,
		Opening:             opening,
		Income:              totals.Income,
		Expenses:            totals.Outflow(),
		NetChange:           net,
		AccumulatedNetWorth: a.accumulated,
	}, nil
}

// Balance is the accumulated net worth so far, or the baseline when no
// period has been applied.
func (a *Accumulator) Balance() decimal.Decimal {
	if !a.started {
		return a.baseline
	}
	return a.accumulated
}

// PeriodLedger is a period together with its line items.
type PeriodLedger struct {
	Period core.Period
	Items  core.PeriodItems
}

// NetWorthSeries aggregates and folds periods in the order given. Callers
// pass them sorted ascending; anything else fails with ErrPeriodOrder.
func NetWorthSeries(ctx context.Context, n Normalizer, baseline decimal.Decimal, periods []PeriodLedger) ([]Point, error) {
	acc := NewAccumulator(baseline)
	points := make([]Point, 0, len(periods))
	for _, pl := range periods {
		totals, err := AggregatePeriod(ctx, n, pl.Items)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", pl.Period.YearMonth, err)
		}
		pt, err := acc.Apply(pl.Period, totals)
		if err != nil {
			return nil, err
		}
		points = append(points, pt)
	}
	return points, nil
}
