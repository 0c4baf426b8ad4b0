// Package export renders entity lists as CSV or XLSX downloads.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"kesefly/internal/core"
)

type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

var ErrUnknownEntity = errors.New("unknown export entity")

// Entity names accepted in export paths.
const (
	EntityClients   = "clients"
	EntitySuppliers = "suppliers"
	EntityIncomes   = "incomes"
	EntityExpenses  = "expenses"
	EntityInvoices  = "invoices"
)

// ParseTarget splits "incomes.csv" into entity and format.
func ParseTarget(s string) (string, Format, error) {
	entity, ext, ok := strings.Cut(s, ".")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownEntity, s)
	}
	switch entity {
	case EntityClients, EntitySuppliers, EntityIncomes, EntityExpenses, EntityInvoices:
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	switch f := Format(strings.ToLower(ext)); f {
	case CSV, XLSX:
		return entity, f, nil
	}
	return "", "", fmt.Errorf("unsupported export format %q", ext)
}

func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Table is a header row plus data rows. Cells are strings, decimals,
// times or numbers.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// Write encodes t in format f.
func Write(w io.Writer, f Format, t Table) error {
	if f == XLSX {
		return WriteXLSX(w, t)
	}
	return WriteCSV(w, t)
}

const bom = "\ufeff"

// WriteCSV writes a UTF-8 BOM followed by RFC 4180 records, so that
// spreadsheet programs detect the Hebrew text correctly.
func WriteCSV(w io.Writer, t Table) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return err
	}
	record := make([]string, len(t.Headers))
	for _, row := range t.Rows {
		record = record[:0]
		for _, c := range row {
			record = append(record, cellString(c))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a workbook with one sheet and a bold header row.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := t.Name
	if sheet == "" {
		sheet = "Sheet1"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	header := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(max(len(t.Headers), 1), 1)
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return err
	}

	for i, row := range t.Rows {
		cells := make([]any, len(row))
		for j, c := range row {
			cells[j] = cellValue(c)
		}
		axis, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, axis, &cells); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cellString(c any) string {
	switch v := c.(type) {
	case nil:
		return ""
	case string:
		return v
	case decimal.Decimal:
		return v.StringFixed(2)
	case decimal.NullDecimal:
		if !v.Valid {
			return ""
		}
		return v.Decimal.StringFixed(2)
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format("2006-01-02")
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.Format("2006-01-02")
	case bool:
		if v {
			return "כן"
		}
		return "לא"
	}
	return fmt.Sprint(c)
}

// cellValue keeps amounts numeric in the workbook.
func cellValue(c any) any {
	switch v := c.(type) {
	case decimal.Decimal:
		return v.InexactFloat64()
	case decimal.NullDecimal:
		if !v.Valid {
			return nil
		}
		return v.Decimal.InexactFloat64()
	case int, int64, float64:
		return v
	}
	return cellString(c)
}

func ClientsTable(clients []core.Client) Table {
	t := counterpartyTable("Clients")
	for _, c := range clients {
		t.Rows = append(t.Rows, counterpartyRow(c.Counterparty))
	}
	return t
}

func SuppliersTable(suppliers []core.Supplier) Table {
	t := counterpartyTable("Suppliers")
	for _, s := range suppliers {
		t.Rows = append(t.Rows, counterpartyRow(s.Counterparty))
	}
	return t
}

func counterpartyTable(name string) Table {
	return Table{Name: name, Headers: []string{"שם", "ח.פ / ת.ז", "אימייל", "טלפון", "כתובת", "נוצר"}}
}

func counterpartyRow(c core.Counterparty) []any {
	return []any{c.Name, c.TaxID, c.Email, c.Phone, c.Address, c.CreatedAt}
}

func IncomesTable(incomes []core.Income) Table {
	t := Table{Name: "Incomes", Headers: []string{"תאריך", "מקור", "קטגוריה", "סכום", "מטבע", "מע\"מ", "לקוח", "קבוע"}}
	for _, i := range incomes {
		client := i.ClientName
		if client == "" {
			client = i.Payer
		}
		t.Rows = append(t.Rows, []any{i.Date, i.Source, i.Category, i.Amount, string(i.Currency), i.VATAmount, client, i.Recurring})
	}
	return t
}

func ExpensesTable(expenses []core.Expense) Table {
	t := Table{Name: "Expenses", Headers: []string{"תאריך", "תיאור", "קטגוריה", "סכום", "מטבע", "מע\"מ", "מוכר", "ספק", "אמצעי תשלום", "קבוע"}}
	for _, e := range expenses {
		t.Rows = append(t.Rows, []any{e.Date, e.Description, e.Category, e.Amount, string(e.Currency), e.VATAmount, e.IsDeductible, e.SupplierName, e.PaymentMethod, e.Recurring})
	}
	return t
}

func InvoicesTable(invoices []core.Invoice) Table {
	t := Table{Name: "Invoices", Headers: []string{"מספר", "תאריך", "לקוח", "סכום לפני מע\"מ", "מע\"מ", "סה\"כ", "מטבע", "סטטוס", "נחתם"}}
	for _, inv := range invoices {
		client := ""
		if inv.Client != nil {
			client = inv.Client.Name
		}
		t.Rows = append(t.Rows, []any{inv.Number, inv.IssueDate, client, inv.Subtotal, inv.VATAmount, inv.Total, string(inv.Currency), string(inv.Status), inv.SignedAt})
	}
	return t
}
