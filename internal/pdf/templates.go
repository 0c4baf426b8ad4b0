// Package pdf renders invoices, credit notes and profit and loss reports
// to HTML and prints them to PDF with a headless Chrome.
package pdf

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
	"kesefly/internal/ledger"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("pdf").Funcs(template.FuncMap{
	"money":   money,
	"date":    date,
	"neg":     func(d decimal.Decimal) decimal.Decimal { return d.Neg() },
	"percent": func(d decimal.Decimal) string { return d.Shift(2).String() + "%" },
}).ParseFS(templateFS, "templates/*.html"))

type InvoiceView struct {
	Issuer  core.BusinessProfile
	Invoice core.Invoice
	Lines   []core.InvoiceLine
}

type CreditNoteView struct {
	Issuer   core.BusinessProfile
	Note     core.CreditNote
	Currency core.Currency
}

type ProfitLossView struct {
	Issuer      core.BusinessProfile
	Report      ledger.ProfitLoss
	GeneratedAt time.Time
}

// InvoiceHTML renders an invoice. An invoice without lines is shown as a
// single line carrying its notes.
func InvoiceHTML(issuer core.BusinessProfile, inv core.Invoice) ([]byte, error) {
	lines := inv.Lines
	if len(lines) == 0 {
		desc := inv.Notes
		if desc == "" {
			desc = "חשבונית " + inv.Number
		}
		lines = []core.InvoiceLine{{Description: desc, Quantity: decimal.NewFromInt(1), Price: inv.Subtotal, Total: inv.Subtotal}}
	}
	return execute("invoice.html", InvoiceView{Issuer: issuer, Invoice: inv, Lines: lines})
}

func CreditNoteHTML(issuer core.BusinessProfile, cn core.CreditNote) ([]byte, error) {
	currency := core.ILS
	if cn.Invoice != nil && cn.Invoice.Currency != "" {
		currency = cn.Invoice.Currency
	}
	return execute("credit_note.html", CreditNoteView{Issuer: issuer, Note: cn, Currency: currency})
}

func ProfitLossHTML(issuer core.BusinessProfile, report ledger.ProfitLoss, now time.Time) ([]byte, error) {
	return execute("profit_loss.html", ProfitLossView{Issuer: issuer, Report: report, GeneratedAt: now})
}

func execute(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func money(d decimal.Decimal, c any) string {
	return core.FormatAmount(d, core.Currency(fmt.Sprint(c)))
}

func date(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("02/01/2006")
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format("02/01/2006")
	}
	return fmt.Sprint(v)
}
