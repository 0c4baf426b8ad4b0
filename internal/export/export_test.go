package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"kesefly/internal/core"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in         string
		wantEntity string
		wantFormat Format
		wantErr    bool
	}{
		{"clients.csv", EntityClients, CSV, false},
		{"invoices.XLSX", EntityInvoices, XLSX, false},
		{"expenses", "", "", true},
		{"users.csv", "", "", true},
		{"incomes.pdf", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, f, err := ParseTarget(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if e != tt.wantEntity || f != tt.wantFormat {
				t.Errorf("got (%q, %q)", e, f)
			}
		})
	}
	if _, _, err := ParseTarget("users.csv"); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("err = %v, want ErrUnknownEntity", err)
	}
}

func sampleExpenses() []core.Expense {
	return []core.Expense{
		{
			Date:        time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
			Description: `ארוחה "עסקית", תל אביב`,
			Category:    "אוכל",
			Amount:      decimal.RequireFromString("118.5"),
			Currency:    core.ILS,
			VATAmount:   decimal.NewNullDecimal(decimal.RequireFromString("18.08")),
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, ExpensesTable(sampleExpenses())); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatal("missing UTF-8 BOM")
	}
	if !strings.Contains(buf.String(), `"ארוחה ""עסקית"", תל אביב"`) {
		t.Errorf("field not quoted per RFC 4180:\n%s", buf.String())
	}

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes()[3:])).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	row := records[1]
	if row[0] != "2025-02-03" || row[3] != "118.50" || row[5] != "18.08" || row[6] != "לא" {
		t.Errorf("row = %q", row)
	}
}

func TestWriteXLSX(t *testing.T) {
	inv := core.Invoice{
		Number:    "1001",
		IssueDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Client:    &core.Client{Counterparty: core.Counterparty{Name: "Acme"}},
		Subtotal:  decimal.NewFromInt(1000),
		VATAmount: decimal.NewFromInt(180),
		Total:     decimal.NewFromInt(1180),
		Currency:  core.ILS,
		Status:    core.StatusDraft,
	}
	var buf bytes.Buffer
	if err := Write(&buf, XLSX, InvoicesTable([]core.Invoice{inv})); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if got := f.GetSheetList(); len(got) != 1 || got[0] != "Invoices" {
		t.Fatalf("sheets = %v", got)
	}
	rows, err := f.GetRows("Invoices")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "1001" || rows[1][2] != "Acme" || rows[1][5] != "1180" {
		t.Errorf("rows = %q", rows)
	}

	styleID, err := f.GetCellStyle("Invoices", "A1")
	if err != nil {
		t.Fatal(err)
	}
	style, err := f.GetStyle(styleID)
	if err != nil {
		t.Fatal(err)
	}
	if style.Font == nil || !style.Font.Bold {
		t.Error("header row is not bold")
	}
}

func TestCounterpartyTables(t *testing.T) {
	c := core.Counterparty{Name: "ספק", TaxID: "000000018", Phone: "+972501234567"}
	if got := SuppliersTable([]core.Supplier{{Counterparty: c}}); len(got.Rows) != 1 || got.Rows[0][0] != "ספק" {
		t.Errorf("suppliers table = %+v", got)
	}
	if got := ClientsTable(nil); len(got.Rows) != 0 || len(got.Headers) != 6 {
		t.Errorf("clients table = %+v", got)
	}
}
