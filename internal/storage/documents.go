package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
)

const (
	firstDocumentNumber = 1001
	creditNotePrefix    = "CN-"
)

// counterpartyTables guards the table name spliced into counterparty SQL.
var counterpartyTables = map[string]bool{"clients": true, "suppliers": true}

func (r *SQLiteRepository) insertCounterparty(ctx context.Context, table string, c core.Counterparty) (core.Counterparty, error) {
	if !counterpartyTables[table] {
		return core.Counterparty{}, fmt.Errorf("unknown counterparty table %q", table)
	}
	c.ID = newID()
	c.CreatedAt = r.now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO `+table+` (id, user_id, name, tax_id, email, phone, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.TaxID, c.Email, c.Phone, c.Address, c.CreatedAt.Format(timeLayout))
	if err != nil {
		return core.Counterparty{}, fmt.Errorf("insert %s: %w", table, err)
	}
	return c, nil
}

func scanCounterparty(row interface{ Scan(...any) error }) (core.Counterparty, error) {
	var (
		c       core.Counterparty
		created string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.TaxID, &c.Email, &c.Phone, &c.Address, &created); err != nil {
		return core.Counterparty{}, err
	}
	var err error
	c.CreatedAt, err = parseTime(created)
	return c, err
}

const counterpartyColumns = `id, user_id, name, tax_id, email, phone, address, created_at`

func (r *SQLiteRepository) CreateClient(ctx context.Context, c core.Client) (core.Client, error) {
	cp, err := r.insertCounterparty(ctx, "clients", c.Counterparty)
	return core.Client{Counterparty: cp}, err
}

func (r *SQLiteRepository) CreateSupplier(ctx context.Context, s core.Supplier) (core.Supplier, error) {
	cp, err := r.insertCounterparty(ctx, "suppliers", s.Counterparty)
	return core.Supplier{Counterparty: cp}, err
}

func (r *SQLiteRepository) GetClient(ctx context.Context, userID, id string) (core.Client, error) {
	cp, err := scanCounterparty(r.db.QueryRowContext(ctx,
		`SELECT `+counterpartyColumns+` FROM clients WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return core.Client{}, notFound(err, "client")
	}
	return core.Client{Counterparty: cp}, nil
}

func (r *SQLiteRepository) ListClients(ctx context.Context, userID string) ([]core.Client, error) {
	cps, err := queryAll(ctx, r.db, "clients", scanCounterparty,
		`SELECT `+counterpartyColumns+` FROM clients WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Client, len(cps))
	for i, cp := range cps {
		out[i] = core.Client{Counterparty: cp}
	}
	return out, nil
}

func (r *SQLiteRepository) GetSupplier(ctx context.Context, userID, id string) (core.Supplier, error) {
	cp, err := scanCounterparty(r.db.QueryRowContext(ctx,
		`SELECT `+counterpartyColumns+` FROM suppliers WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return core.Supplier{}, notFound(err, "supplier")
	}
	return core.Supplier{Counterparty: cp}, nil
}

func (r *SQLiteRepository) ListSuppliers(ctx context.Context, userID string) ([]core.Supplier, error) {
	cps, err := queryAll(ctx, r.db, "suppliers", scanCounterparty,
		`SELECT `+counterpartyColumns+` FROM suppliers WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Supplier, len(cps))
	for i, cp := range cps {
		out[i] = core.Supplier{Counterparty: cp}
	}
	return out, nil
}

// nextNumber returns prefix + (largest numeric suffix + 1), or prefix +
// 1001 when no number has a numeric suffix.
func nextNumber(ctx context.Context, q dbtx, query, userID, prefix string) (string, error) {
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return "", fmt.Errorf("list document numbers: %w", err)
	}
	defer rows.Close()

	last := firstDocumentNumber - 1
	for rows.Next() {
		var num string
		if err := rows.Scan(&num); err != nil {
			return "", err
		}
		n, err := strconv.Atoi(strings.TrimPrefix(num, prefix))
		if err == nil && n > last {
			last = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return prefix + strconv.Itoa(last+1), nil
}

// NextInvoiceNumber is the number a new invoice gets when none is given.
func (r *SQLiteRepository) NextInvoiceNumber(ctx context.Context, userID string) (string, error) {
	return nextNumber(ctx, r.db, `SELECT invoice_number FROM invoices WHERE user_id = ?`, userID, "")
}

// CreateInvoice stores an invoice and its lines. A number already used by
// the user is core.ErrDuplicateNumber; an empty number is assigned.
func (r *SQLiteRepository) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if inv.Number == "" {
			num, err := nextNumber(ctx, tx, `SELECT invoice_number FROM invoices WHERE user_id = ?`, inv.UserID, "")
			if err != nil {
				return err
			}
			inv.Number = num
		}
		inv.ID = newID()
		var due any
		if inv.DueDate != nil {
			due = fmtDate(*inv.DueDate)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO invoices (id, user_id, client_id, scope, invoice_number, issue_date,
			due_date, currency, subtotal, vat_rate, vat_amount, total, status, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.UserID, inv.ClientID, inv.Scope, inv.Number, fmtDate(inv.IssueDate), due, inv.Currency,
			inv.Subtotal, inv.VATRate, inv.VATAmount, inv.Total, inv.Status, inv.Notes, r.timestamp())
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice %s: %w", inv.Number, core.ErrDuplicateNumber)
		}
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		for i := range inv.Lines {
			l := &inv.Lines[i]
			l.ID = newID()
			_, err := tx.ExecContext(ctx, `INSERT INTO invoice_line_items (id, invoice_id, position, description, quantity, price, total)
				VALUES (?, ?, ?, ?, ?, ?, ?)`, l.ID, inv.ID, i, l.Description, l.Quantity, l.Price, l.Total)
			if err != nil {
				return fmt.Errorf("insert invoice line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Invoice{}, err
	}
	return inv, nil
}

const invoiceSelect = `SELECT inv.id, inv.user_id, inv.client_id, inv.scope, inv.invoice_number, inv.issue_date,
	inv.due_date, inv.currency, inv.subtotal, inv.vat_rate, inv.vat_amount, inv.total, inv.status, inv.signed_at,
	inv.document_hash, inv.notes,
	c.id, c.user_id, c.name, c.tax_id, c.email, c.phone, c.address, c.created_at
	FROM invoices inv
	JOIN clients c ON c.id = inv.client_id`

func scanInvoice(row interface{ Scan(...any) error }) (core.Invoice, error) {
	var (
		inv           core.Invoice
		issue         string
		due, signed   sql.NullString
		c             core.Counterparty
		clientCreated string
	)
	err := row.Scan(&inv.ID, &inv.UserID, &inv.ClientID, &inv.Scope, &inv.Number, &issue,
		&due, &inv.Currency, &inv.Subtotal, &inv.VATRate, &inv.VATAmount, &inv.Total, &inv.Status, &signed,
		&inv.DocumentHash, &inv.Notes,
		&c.ID, &c.UserID, &c.Name, &c.TaxID, &c.Email, &c.Phone, &c.Address, &clientCreated)
	if err != nil {
		return core.Invoice{}, err
	}
	if inv.IssueDate, err = parseDate(issue); err != nil {
		return core.Invoice{}, err
	}
	if due.Valid {
		d, err := parseDate(due.String)
		if err != nil {
			return core.Invoice{}, err
		}
		inv.DueDate = &d
	}
	if signed.Valid {
		s, err := parseTime(signed.String)
		if err != nil {
			return core.Invoice{}, err
		}
		inv.SignedAt = &s
	}
	if c.CreatedAt, err = parseTime(clientCreated); err != nil {
		return core.Invoice{}, err
	}
	inv.Client = &core.Client{Counterparty: c}
	return inv, nil
}

func scanDecimal(row interface{ Scan(...any) error }) (decimal.Decimal, error) {
	var d decimal.Decimal
	err := row.Scan(&d)
	return d, err
}

func scanLine(row interface{ Scan(...any) error }) (core.InvoiceLine, error) {
	var l core.InvoiceLine
	err := row.Scan(&l.ID, &l.Description, &l.Quantity, &l.Price, &l.Total)
	return l, err
}

func (r *SQLiteRepository) loadLines(ctx context.Context, q dbtx, inv *core.Invoice) error {
	lines, err := queryAll(ctx, q, "invoice lines", scanLine,
		`SELECT id, description, quantity, price, total FROM invoice_line_items WHERE invoice_id = ? ORDER BY position`, inv.ID)
	if err != nil {
		return err
	}
	inv.Lines = lines
	return nil
}

func (r *SQLiteRepository) getInvoice(ctx context.Context, q dbtx, userID, id string) (core.Invoice, error) {
	inv, err := scanInvoice(q.QueryRowContext(ctx, invoiceSelect+` WHERE inv.id = ? AND inv.user_id = ?`, id, userID))
	if err != nil {
		return core.Invoice{}, notFound(err, "invoice")
	}
	if err := r.loadLines(ctx, q, &inv); err != nil {
		return core.Invoice{}, err
	}
	return inv, nil
}

// GetInvoice returns the invoice with its client and lines.
func (r *SQLiteRepository) GetInvoice(ctx context.Context, userID, id string) (core.Invoice, error) {
	return r.getInvoice(ctx, r.db, userID, id)
}

// ListInvoices returns the user's invoices of a year, or of every year
// when year is 0, newest first.
func (r *SQLiteRepository) ListInvoices(ctx context.Context, userID string, scope core.Scope, year int) ([]core.Invoice, error) {
	query := invoiceSelect + ` WHERE inv.user_id = ?`
	qargs := []any{userID}
	if scope != "" {
		query += ` AND inv.scope = ?`
		qargs = append(qargs, scope)
	}
	if year != 0 {
		from, to := yearBounds(year)
		query += ` AND inv.issue_date >= ? AND inv.issue_date < ?`
		qargs = append(qargs, from, to)
	}
	invoices, err := queryAll(ctx, r.db, "invoices", scanInvoice, query+` ORDER BY inv.issue_date DESC, inv.invoice_number DESC`, qargs...)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		if err := r.loadLines(ctx, r.db, &invoices[i]); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

// SignInvoice moves a DRAFT or SENT invoice to SIGNED and stamps it.
func (r *SQLiteRepository) SignInvoice(ctx context.Context, userID, id string, signedAt time.Time) (core.Invoice, error) {
	var inv core.Invoice
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		inv, err = r.getInvoice(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if inv.Status != core.StatusDraft && inv.Status != core.StatusSent {
			return fmt.Errorf("invoice %s is %s: %w", inv.Number, inv.Status, core.ErrInvoiceNotDraft)
		}
		at := signedAt.UTC()
		inv.Status, inv.SignedAt = core.StatusSigned, &at
		inv.DocumentHash = inv.Hash()
		_, err = tx.ExecContext(ctx, `UPDATE invoices SET status = ?, signed_at = ?, document_hash = ? WHERE id = ?`,
			inv.Status, at.Format(timeLayout), inv.DocumentHash, inv.ID)
		if err != nil {
			return fmt.Errorf("sign invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Invoice{}, err
	}
	return inv, nil
}

// MarkInvoicePaid moves a SIGNED invoice to PAID.
func (r *SQLiteRepository) MarkInvoicePaid(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE invoices SET status = ? WHERE id = ? AND user_id = ? AND status = ?`,
		core.StatusPaid, id, userID, core.StatusSigned)
	if err != nil {
		return fmt.Errorf("mark invoice paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetInvoice(ctx, userID, id); err != nil {
			return err
		}
		return core.ErrInvoiceNotSigned
	}
	return nil
}

// CreateCreditNote issues a credit note against a signed invoice.
//
// In one transaction it checks the remaining creditable total, assigns
// the next CN- number when none is given, stamps the document hash and
// records the negative business income in the period of the issue month.
func (r *SQLiteRepository) CreateCreditNote(ctx context.Context, userID, invoiceID string, cn core.CreditNote) (core.CreditNote, core.Income, error) {
	var reversal core.Income
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		inv, err := r.getInvoice(ctx, tx, userID, invoiceID)
		if err != nil {
			return err
		}

		totals, err := queryAll(ctx, tx, "credit totals", scanDecimal,
			`SELECT total_credit FROM credit_notes WHERE invoice_id = ?`, inv.ID)
		if err != nil {
			return err
		}
		credited := decimal.Zero
		for _, t := range totals {
			credited = credited.Add(t)
		}

		if err := inv.Credit(&cn, credited); err != nil {
			return err
		}

		if cn.Number == "" {
			if cn.Number, err = nextNumber(ctx, tx, `SELECT credit_note_number FROM credit_notes WHERE user_id = ?`, userID, creditNotePrefix); err != nil {
				return err
			}
		}
		cn.ID, cn.UserID = newID(), userID
		cn.SignedAt = r.now().UTC()
		cn.DocumentHash = cn.Hash()

		_, err = tx.ExecContext(ctx, `INSERT INTO credit_notes (id, user_id, invoice_id, credit_note_number, issue_date,
			credit_amount, vat_amount, total_credit, reason, document_hash, signed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cn.ID, userID, inv.ID, cn.Number, fmtDate(cn.IssueDate), cn.CreditAmount, cn.VATAmount, cn.TotalCredit,
			cn.Reason, cn.DocumentHash, cn.SignedAt.Format(timeLayout))
		if isUniqueViolation(err) {
			return fmt.Errorf("credit note %s: %w", cn.Number, core.ErrDuplicateNumber)
		}
		if err != nil {
			return fmt.Errorf("insert credit note: %w", err)
		}

		period, err := ensurePeriod(ctx, tx, userID, core.ScopeBusiness, core.YearMonthOf(cn.IssueDate))
		if err != nil {
			return err
		}
		reversal, err = insertIncome(ctx, tx, cn.Reversal(inv, period.ID), r.timestamp())
		if err != nil {
			return err
		}
		cn.Invoice = &inv
		return nil
	})
	if err != nil {
		return core.CreditNote{}, core.Income{}, err
	}
	return cn, reversal, nil
}

const creditNoteSelect = `SELECT id, user_id, invoice_id, credit_note_number, issue_date, credit_amount,
	vat_amount, total_credit, reason, document_hash, signed_at FROM credit_notes`

func scanCreditNote(row interface{ Scan(...any) error }) (core.CreditNote, error) {
	var (
		cn            core.CreditNote
		issue, signed string
	)
	err := row.Scan(&cn.ID, &cn.UserID, &cn.InvoiceID, &cn.Number, &issue, &cn.CreditAmount,
		&cn.VATAmount, &cn.TotalCredit, &cn.Reason, &cn.DocumentHash, &signed)
	if err != nil {
		return core.CreditNote{}, err
	}
	if cn.IssueDate, err = parseDate(issue); err != nil {
		return core.CreditNote{}, err
	}
	cn.SignedAt, err = parseTime(signed)
	return cn, err
}

// ListCreditNotes returns every credit note of the user with its parent
// invoice loaded, oldest first.
func (r *SQLiteRepository) ListCreditNotes(ctx context.Context, userID string) ([]core.CreditNote, error) {
	notes, err := queryAll(ctx, r.db, "credit notes", scanCreditNote,
		creditNoteSelect+` WHERE user_id = ? ORDER BY issue_date, credit_note_number`, userID)
	if err != nil {
		return nil, err
	}
	invoices := make(map[string]*core.Invoice)
	for i := range notes {
		inv, ok := invoices[notes[i].InvoiceID]
		if !ok {
			loaded, err := r.GetInvoice(ctx, userID, notes[i].InvoiceID)
			if err != nil {
				return nil, err
			}
			inv = &loaded
			invoices[notes[i].InvoiceID] = inv
		}
		notes[i].Invoice = inv
	}
	return notes, nil
}

// GetCreditNote returns one credit note with its parent invoice.
func (r *SQLiteRepository) GetCreditNote(ctx context.Context, userID, id string) (core.CreditNote, error) {
	cn, err := scanCreditNote(r.db.QueryRowContext(ctx, creditNoteSelect+` WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return core.CreditNote{}, notFound(err, "credit note")
	}
	inv, err := r.GetInvoice(ctx, userID, cn.InvoiceID)
	if err != nil {
		return core.CreditNote{}, err
	}
	cn.Invoice = &inv
	return cn, nil
}
