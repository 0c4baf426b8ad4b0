package storage

import (
	"context"
	"database/sql"
	"fmt"

	"kesefly/internal/core"
)

const seriesColumns = `is_recurring, recurring_source_id, recurring_start_date, recurring_end_date, recurring_frequency`

func seriesArgs(s core.Series) []any {
	return []any{s.Recurring, nullString(s.SourceID), nullDate(s.Start), nullDate(s.End), string(s.Frequency)}
}

// seriesScan collects the nullable series columns of one row.
type seriesScan struct {
	recurring  bool
	sourceID   sql.NullString
	start, end sql.NullString
	frequency  string
}

func (s *seriesScan) dest() []any {
	return []any{&s.recurring, &s.sourceID, &s.start, &s.end, &s.frequency}
}

func (s *seriesScan) series() (core.Series, error) {
	start, err := parseNullDate(s.start)
	if err != nil {
		return core.Series{}, err
	}
	end, err := parseNullDate(s.end)
	if err != nil {
		return core.Series{}, err
	}
	return core.Series{
		Recurring: s.recurring,
		SourceID:  s.sourceID.String,
		Start:     start,
		End:       end,
		Frequency: core.Frequency(s.frequency),
	}, nil
}

func args(head []any, tail ...any) []any { return append(head, tail...) }

// InsertIncome stores an income in its period.
func (r *SQLiteRepository) InsertIncome(ctx context.Context, inc core.Income) (core.Income, error) {
	return insertIncome(ctx, r.db, inc, r.timestamp())
}

func insertIncome(ctx context.Context, q dbtx, inc core.Income, now string) (core.Income, error) {
	if inc.ID == "" {
		inc.ID = newID()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO incomes (id, budget_id, source, category, amount, currency, date,
		vat_amount, amount_before_vat, vat_rate, invoice_id, client_id, payer, `+seriesColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args([]any{inc.ID, inc.PeriodID, inc.Source, inc.Category, inc.Amount, inc.Currency, fmtDate(inc.Date),
			inc.VATAmount, inc.AmountBeforeVAT, inc.VATRate, nullString(inc.InvoiceID), nullString(inc.ClientID), inc.Payer},
			append(seriesArgs(inc.Series), now)...)...)
	if err != nil {
		return core.Income{}, fmt.Errorf("insert income: %w", err)
	}
	return inc, nil
}

// InsertExpense stores an expense unless an expense with the same amount,
// date and description already exists in the period.
func (r *SQLiteRepository) InsertExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses
			WHERE budget_id = ? AND amount = ? AND date = ? AND description = ?`,
			e.PeriodID, e.Amount, fmtDate(e.Date), e.Description).Scan(&n)
		if err != nil {
			return fmt.Errorf("check duplicate expense: %w", err)
		}
		if n > 0 {
			return core.ErrDuplicateExpense
		}
		e, err = insertExpense(ctx, tx, e, r.timestamp())
		return err
	})
	if err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func insertExpense(ctx context.Context, q dbtx, e core.Expense, now string) (core.Expense, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO expenses (id, budget_id, category, description, amount, currency, date,
		supplier_id, amount_before_vat, vat_rate, vat_amount, is_deductible, deductible_rate, payment_method, `+seriesColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args([]any{e.ID, e.PeriodID, e.Category, e.Description, e.Amount, e.Currency, fmtDate(e.Date),
			nullString(e.SupplierID), e.AmountBeforeVAT, e.VATRate, e.VATAmount, e.IsDeductible, e.DeductibleRate, e.PaymentMethod},
			append(seriesArgs(e.Series), now)...)...)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) InsertBill(ctx context.Context, b core.Bill) (core.Bill, error) {
	return insertBill(ctx, r.db, b, r.timestamp())
}

func insertBill(ctx context.Context, q dbtx, b core.Bill, now string) (core.Bill, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO bills (id, budget_id, name, amount, currency, due_day, is_paid, `+seriesColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args([]any{b.ID, b.PeriodID, b.Name, b.Amount, b.Currency, b.DueDay, b.IsPaid},
			append(seriesArgs(b.Series), now)...)...)
	if err != nil {
		return core.Bill{}, fmt.Errorf("insert bill: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepository) InsertDebt(ctx context.Context, d core.Debt) (core.Debt, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO debts (id, budget_id, creditor, total_amount, monthly_payment, currency, due_day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.PeriodID, d.Creditor, d.TotalAmount, d.MonthlyPayment, d.Currency, d.DueDay, r.timestamp())
	if err != nil {
		return core.Debt{}, fmt.Errorf("insert debt: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) InsertSavings(ctx context.Context, s core.SavingsDeposit) (core.SavingsDeposit, error) {
	return insertSavings(ctx, r.db, s, r.timestamp())
}

func insertSavings(ctx context.Context, q dbtx, s core.SavingsDeposit, now string) (core.SavingsDeposit, error) {
	if s.ID == "" {
		s.ID = newID()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO savings (id, budget_id, name, monthly_deposit, currency, target_amount, date, `+seriesColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args([]any{s.ID, s.PeriodID, s.Name, s.MonthlyDeposit, s.Currency, s.TargetAmount, fmtDate(s.Date)},
			append(seriesArgs(s.Series), now)...)...)
	if err != nil {
		return core.SavingsDeposit{}, fmt.Errorf("insert savings: %w", err)
	}
	return s, nil
}

const (
	incomeSelect = `SELECT i.id, i.budget_id, i.source, i.category, i.amount, i.currency, i.date,
		i.vat_amount, i.amount_before_vat, i.vat_rate, COALESCE(i.invoice_id, ''), COALESCE(i.client_id, ''),
		COALESCE(c.name, ''), i.payer, i.is_recurring, i.recurring_source_id, i.recurring_start_date,
		i.recurring_end_date, i.recurring_frequency
		FROM incomes i
		JOIN budgets b ON b.id = i.budget_id
		LEFT JOIN clients c ON c.id = i.client_id`

	expenseSelect = `SELECT e.id, e.budget_id, e.category, e.description, e.amount, e.currency, e.date,
		COALESCE(e.supplier_id, ''), COALESCE(s.name, ''), e.amount_before_vat, e.vat_rate, e.vat_amount,
		e.is_deductible, e.deductible_rate, e.payment_method, e.is_recurring, e.recurring_source_id,
		e.recurring_start_date, e.recurring_end_date, e.recurring_frequency
		FROM expenses e
		JOIN budgets b ON b.id = e.budget_id
		LEFT JOIN suppliers s ON s.id = e.supplier_id`
)

func scanIncome(row interface{ Scan(...any) error }) (core.Income, error) {
	var (
		inc  core.Income
		date string
		ss   seriesScan
	)
	dest := []any{&inc.ID, &inc.PeriodID, &inc.Source, &inc.Category, &inc.Amount, &inc.Currency, &date,
		&inc.VATAmount, &inc.AmountBeforeVAT, &inc.VATRate, &inc.InvoiceID, &inc.ClientID, &inc.ClientName, &inc.Payer}
	if err := row.Scan(append(dest, ss.dest()...)...); err != nil {
		return core.Income{}, err
	}
	var err error
	if inc.Date, err = parseDate(date); err != nil {
		return core.Income{}, err
	}
	inc.Series, err = ss.series()
	return inc, err
}

func scanExpense(row interface{ Scan(...any) error }) (core.Expense, error) {
	var (
		e    core.Expense
		date string
		ss   seriesScan
	)
	dest := []any{&e.ID, &e.PeriodID, &e.Category, &e.Description, &e.Amount, &e.Currency, &date,
		&e.SupplierID, &e.SupplierName, &e.AmountBeforeVAT, &e.VATRate, &e.VATAmount,
		&e.IsDeductible, &e.DeductibleRate, &e.PaymentMethod}
	if err := row.Scan(append(dest, ss.dest()...)...); err != nil {
		return core.Expense{}, err
	}
	var err error
	if e.Date, err = parseDate(date); err != nil {
		return core.Expense{}, err
	}
	e.Series, err = ss.series()
	return e, err
}

func scanBill(row interface{ Scan(...any) error }) (core.Bill, error) {
	var (
		b  core.Bill
		ss seriesScan
	)
	dest := []any{&b.ID, &b.PeriodID, &b.Name, &b.Amount, &b.Currency, &b.DueDay, &b.IsPaid}
	if err := row.Scan(append(dest, ss.dest()...)...); err != nil {
		return core.Bill{}, err
	}
	var err error
	b.Series, err = ss.series()
	return b, err
}

func scanDebt(row interface{ Scan(...any) error }) (core.Debt, error) {
	var d core.Debt
	err := row.Scan(&d.ID, &d.PeriodID, &d.Creditor, &d.TotalAmount, &d.MonthlyPayment, &d.Currency, &d.DueDay)
	return d, err
}

func scanSavings(row interface{ Scan(...any) error }) (core.SavingsDeposit, error) {
	var (
		s    core.SavingsDeposit
		date string
		ss   seriesScan
	)
	dest := []any{&s.ID, &s.PeriodID, &s.Name, &s.MonthlyDeposit, &s.Currency, &s.TargetAmount, &date}
	if err := row.Scan(append(dest, ss.dest()...)...); err != nil {
		return core.SavingsDeposit{}, err
	}
	var err error
	if s.Date, err = parseDate(date); err != nil {
		return core.SavingsDeposit{}, err
	}
	s.Series, err = ss.series()
	return s, err
}

// queryAll runs a query and scans every row with scan.
func queryAll[T any](ctx context.Context, q dbtx, what string, scan func(interface{ Scan(...any) error }) (T, error), query string, qargs ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, qargs...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListIncomes(ctx context.Context, periodID string) ([]core.Income, error) {
	return queryAll(ctx, r.db, "incomes", scanIncome, incomeSelect+` WHERE i.budget_id = ? ORDER BY i.date, i.created_at`, periodID)
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, periodID string) ([]core.Expense, error) {
	return queryAll(ctx, r.db, "expenses", scanExpense, expenseSelect+` WHERE e.budget_id = ? ORDER BY e.date, e.created_at`, periodID)
}

func (r *SQLiteRepository) ListBills(ctx context.Context, periodID string) ([]core.Bill, error) {
	return queryAll(ctx, r.db, "bills", scanBill, `SELECT id, budget_id, name, amount, currency, due_day, is_paid, `+seriesColumns+`
		FROM bills WHERE budget_id = ? ORDER BY due_day, created_at`, periodID)
}

func (r *SQLiteRepository) ListDebts(ctx context.Context, periodID string) ([]core.Debt, error) {
	return queryAll(ctx, r.db, "debts", scanDebt, `SELECT id, budget_id, creditor, total_amount, monthly_payment, currency, due_day
		FROM debts WHERE budget_id = ? ORDER BY due_day, created_at`, periodID)
}

func (r *SQLiteRepository) ListSavings(ctx context.Context, periodID string) ([]core.SavingsDeposit, error) {
	return queryAll(ctx, r.db, "savings", scanSavings, `SELECT id, budget_id, name, monthly_deposit, currency, target_amount, date, `+seriesColumns+`
		FROM savings WHERE budget_id = ? ORDER BY date, created_at`, periodID)
}

// ItemFilter selects a user's items across periods. A zero Scope matches
// both scopes and a zero Year matches every year.
type ItemFilter struct {
	UserID string
	Scope  core.Scope
	Year   int
}

func (f ItemFilter) where(dateCol string) (string, []any) {
	clause := ` WHERE b.user_id = ?`
	qargs := []any{f.UserID}
	if f.Scope != "" {
		clause += ` AND b.type = ?`
		qargs = append(qargs, f.Scope)
	}
	if f.Year != 0 {
		from, to := yearBounds(f.Year)
		clause += ` AND ` + dateCol + ` >= ? AND ` + dateCol + ` < ?`
		qargs = append(qargs, from, to)
	}
	return clause, qargs
}

func (r *SQLiteRepository) QueryIncomes(ctx context.Context, f ItemFilter) ([]core.Income, error) {
	where, qargs := f.where("i.date")
	return queryAll(ctx, r.db, "incomes", scanIncome, incomeSelect+where+` ORDER BY i.date DESC`, qargs...)
}

func (r *SQLiteRepository) QueryExpenses(ctx context.Context, f ItemFilter) ([]core.Expense, error) {
	where, qargs := f.where("e.date")
	return queryAll(ctx, r.db, "expenses", scanExpense, expenseSelect+where+` ORDER BY e.date DESC`, qargs...)
}
