package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
)

const periodColumns = `id, user_id, type, year, month, currency, initial_balance, initial_savings`

func scanPeriod(row interface{ Scan(...any) error }) (core.Period, error) {
	var p core.Period
	err := row.Scan(&p.ID, &p.UserID, &p.Scope, &p.Year, &p.Month, &p.Currency, &p.InitialBalance, &p.InitialSavings)
	return p, err
}

// EnsurePeriod finds or creates the (user, month, year, scope) period.
// Concurrent callers converge on the same row through the unique key.
func (r *SQLiteRepository) EnsurePeriod(ctx context.Context, userID string, scope core.Scope, ym core.YearMonth) (core.Period, error) {
	return ensurePeriod(ctx, r.db, userID, scope, ym)
}

func ensurePeriod(ctx context.Context, q dbtx, userID string, scope core.Scope, ym core.YearMonth) (core.Period, error) {
	if err := ym.Validate(); err != nil {
		return core.Period{}, err
	}
	if !scope.Valid() {
		return core.Period{}, core.ErrInvalidScope
	}
	_, err := q.ExecContext(ctx, `INSERT INTO budgets (id, user_id, month, year, type) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, month, year, type) DO NOTHING`,
		newID(), userID, ym.Month, ym.Year, scope)
	if err != nil {
		return core.Period{}, fmt.Errorf("upsert period %s %s: %w", scope, ym, err)
	}
	p, err := scanPeriod(q.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM budgets
		WHERE user_id = ? AND month = ? AND year = ? AND type = ?`, userID, ym.Month, ym.Year, scope))
	if err != nil {
		return core.Period{}, notFound(err, "period")
	}
	return p, nil
}

func (r *SQLiteRepository) GetPeriod(ctx context.Context, id string) (core.Period, error) {
	p, err := scanPeriod(r.db.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM budgets WHERE id = ?`, id))
	if err != nil {
		return core.Period{}, notFound(err, "period")
	}
	return p, nil
}

// ListPeriods returns the scope's periods up to and including through,
// in ascending chronological order.
func (r *SQLiteRepository) ListPeriods(ctx context.Context, userID string, scope core.Scope, through core.YearMonth) ([]core.Period, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+periodColumns+` FROM budgets
		WHERE user_id = ? AND type = ? AND (year < ? OR (year = ? AND month <= ?))
		ORDER BY year ASC, month ASC`,
		userID, scope, through.Year, through.Year, through.Month)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	var out []core.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetPeriodOverride sets or clears the period's balance checkpoint. An
// invalid NullDecimal clears that half.
func (r *SQLiteRepository) SetPeriodOverride(ctx context.Context, userID, periodID string, balance, savings decimal.NullDecimal) error {
	return r.updateOne(ctx, "period",
		`UPDATE budgets SET initial_balance = ?, initial_savings = ? WHERE id = ? AND user_id = ?`,
		balance, savings, periodID, userID)
}
