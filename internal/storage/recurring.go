package storage

import (
	"context"
	"database/sql"
	"fmt"

	"kesefly/internal/core"
)

var recurringTables = map[core.ItemKind]string{
	core.KindIncome:  "incomes",
	core.KindExpense: "expenses",
	core.KindBill:    "bills",
	core.KindSavings: "savings",
}

func recurringTable(kind core.ItemKind) (string, error) {
	t, ok := recurringTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s cannot recur", core.ErrInvalidKind, kind)
	}
	return t, nil
}

// RecurringParent is a series origin together with the owner and scope of
// the period it lives in.
type RecurringParent struct {
	Kind   core.ItemKind
	UserID string
	Scope  core.Scope
	Period core.YearMonth
	Item   core.LineItem
	Series core.Series
	ID     string
}

// RecurringParents lists every series origin across users.
func (r *SQLiteRepository) RecurringParents(ctx context.Context) ([]RecurringParent, error) {
	parentsOf := func(alias string) string {
		return ` WHERE ` + alias + `.is_recurring = 1 AND ` + alias + `.recurring_source_id IS NULL`
	}
	var out []RecurringParent
	add := func(kind core.ItemKind, id, periodID string, item core.LineItem, s core.Series) error {
		p, err := r.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		out = append(out, RecurringParent{Kind: kind, UserID: p.UserID, Scope: p.Scope, Period: p.YearMonth, Item: item, Series: s, ID: id})
		return nil
	}

	incomes, err := queryAll(ctx, r.db, "recurring incomes", scanIncome,
		incomeSelect+parentsOf("i"))
	if err != nil {
		return nil, err
	}
	for _, v := range incomes {
		if err := add(core.KindIncome, v.ID, v.PeriodID, v, v.Series); err != nil {
			return nil, err
		}
	}

	expenses, err := queryAll(ctx, r.db, "recurring expenses", scanExpense,
		expenseSelect+parentsOf("e"))
	if err != nil {
		return nil, err
	}
	for _, v := range expenses {
		if err := add(core.KindExpense, v.ID, v.PeriodID, v, v.Series); err != nil {
			return nil, err
		}
	}

	bills, err := queryAll(ctx, r.db, "recurring bills", scanBill,
		`SELECT id, budget_id, name, amount, currency, due_day, is_paid, `+seriesColumns+` FROM bills t`+parentsOf("t"))
	if err != nil {
		return nil, err
	}
	for _, v := range bills {
		if err := add(core.KindBill, v.ID, v.PeriodID, v, v.Series); err != nil {
			return nil, err
		}
	}

	savings, err := queryAll(ctx, r.db, "recurring savings", scanSavings,
		`SELECT id, budget_id, name, monthly_deposit, currency, target_amount, date, `+seriesColumns+` FROM savings t`+parentsOf("t"))
	if err != nil {
		return nil, err
	}
	for _, v := range savings {
		if err := add(core.KindSavings, v.ID, v.PeriodID, v, v.Series); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// HasRecurringChild reports whether the series already has a child in the
// given month, in any scope.
func (r *SQLiteRepository) HasRecurringChild(ctx context.Context, kind core.ItemKind, parentID string, ym core.YearMonth) (bool, error) {
	table, err := recurringTable(kind)
	if err != nil {
		return false, err
	}
	var n int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` t JOIN budgets b ON b.id = t.budget_id
		WHERE t.recurring_source_id = ? AND b.year = ? AND b.month = ?`, parentID, ym.Year, ym.Month).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check recurring child: %w", err)
	}
	return n > 0, nil
}

// owner returns the user and scope of the period holding a row.
func owner(ctx context.Context, q dbtx, table, id string) (string, core.Scope, error) {
	var (
		userID string
		scope  core.Scope
	)
	err := q.QueryRowContext(ctx, `SELECT b.user_id, b.type FROM `+table+` t JOIN budgets b ON b.id = t.budget_id WHERE t.id = ?`, id).
		Scan(&userID, &scope)
	if err != nil {
		return "", "", notFound(err, table)
	}
	return userID, scope, nil
}

// InsertRecurringChild stores a materialised occurrence of a series. The
// child's period must belong to the parent's user and scope, otherwise
// core.ErrScopeMismatch.
func (r *SQLiteRepository) InsertRecurringChild(ctx context.Context, parentID string, child core.LineItem) error {
	table, err := recurringTable(child.Kind())
	if err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		parentUser, parentScope, err := owner(ctx, tx, table, parentID)
		if err != nil {
			return err
		}
		var periodID string
		switch c := child.(type) {
		case core.Income:
			periodID = c.PeriodID
		case core.Expense:
			periodID = c.PeriodID
		case core.Bill:
			periodID = c.PeriodID
		case core.SavingsDeposit:
			periodID = c.PeriodID
		}
		var (
			childUser  string
			childScope core.Scope
		)
		if err := tx.QueryRowContext(ctx, `SELECT user_id, type FROM budgets WHERE id = ?`, periodID).Scan(&childUser, &childScope); err != nil {
			return notFound(err, "period")
		}
		if childUser != parentUser || childScope != parentScope {
			return fmt.Errorf("%s child of %s in %s period, parent is %s: %w", child.Kind(), parentID, childScope, parentScope, core.ErrScopeMismatch)
		}

		now := r.timestamp()
		switch c := child.(type) {
		case core.Income:
			c.SourceID = parentID
			_, err = insertIncome(ctx, tx, c, now)
		case core.Expense:
			c.SourceID = parentID
			_, err = insertExpense(ctx, tx, c, now)
		case core.Bill:
			c.SourceID = parentID
			_, err = insertBill(ctx, tx, c, now)
		case core.SavingsDeposit:
			c.SourceID = parentID
			_, err = insertSavings(ctx, tx, c, now)
		}
		return err
	})
}

// ScopeMismatch is a recurring child stored in a period whose scope
// differs from its parent's.
type ScopeMismatch struct {
	Kind        core.ItemKind
	ChildID     string
	ParentID    string
	UserID      string
	ChildScope  core.Scope
	ParentScope core.Scope
	Month       core.YearMonth
}

// ScopeMismatches finds every recurring child outside its parent's scope.
func (r *SQLiteRepository) ScopeMismatches(ctx context.Context) ([]ScopeMismatch, error) {
	var out []ScopeMismatch
	for _, kind := range core.RecurringKinds {
		table := recurringTables[kind]
		found, err := queryAll(ctx, r.db, "scope mismatches", func(row interface{ Scan(...any) error }) (ScopeMismatch, error) {
			m := ScopeMismatch{Kind: kind}
			err := row.Scan(&m.ChildID, &m.ParentID, &m.UserID, &m.ChildScope, &m.ParentScope, &m.Month.Year, &m.Month.Month)
			return m, err
		}, `SELECT c.id, c.recurring_source_id, cb.user_id, cb.type, pb.type, cb.year, cb.month
			FROM `+table+` c
			JOIN budgets cb ON cb.id = c.budget_id
			JOIN `+table+` p ON p.id = c.recurring_source_id
			JOIN budgets pb ON pb.id = p.budget_id
			WHERE cb.type <> pb.type
			ORDER BY cb.user_id, cb.year, cb.month`)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// RepairScope moves a mismatched child into the period of the same month
// in its parent's scope, creating that period if needed.
func (r *SQLiteRepository) RepairScope(ctx context.Context, m ScopeMismatch) error {
	table, err := recurringTable(m.Kind)
	if err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		p, err := ensurePeriod(ctx, tx, m.UserID, m.ParentScope, m.Month)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET budget_id = ? WHERE id = ?`, p.ID, m.ChildID); err != nil {
			return fmt.Errorf("move %s %s: %w", m.Kind, m.ChildID, err)
		}
		return nil
	})
}

// EndSeries stops a series before the month from: the parent's end date
// becomes the last day of the previous month and children in from or
// later are deleted. It returns the number of deleted children.
func (r *SQLiteRepository) EndSeries(ctx context.Context, userID string, kind core.ItemKind, parentID string, from core.YearMonth) (int64, error) {
	table, err := recurringTable(kind)
	if err != nil {
		return 0, err
	}
	var deleted int64
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		parentUser, _, err := owner(ctx, tx, table, parentID)
		if err != nil {
			return err
		}
		if parentUser != userID {
			return fmt.Errorf("%s: %w", table, core.ErrNotFound)
		}
		end := from.FirstDay().AddDate(0, 0, -1)
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET recurring_end_date = ? WHERE id = ?`, fmtDate(end), parentID); err != nil {
			return fmt.Errorf("end series: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE recurring_source_id = ? AND budget_id IN (
			SELECT id FROM budgets WHERE year > ? OR (year = ? AND month >= ?))`, parentID, from.Year, from.Year, from.Month)
		if err != nil {
			return fmt.Errorf("delete future children: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
