// Package openformat writes the Israeli tax authority's unified file
// ("Open Format", structure 1.31): a BKMVDATA.TXT record stream and its
// INI.TXT manifest.
package openformat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
	"kesefly/internal/ledger"
)

const (
	StructureVersion = "1.31"
	versionTag       = "&OF1.31&"
	SoftwareName     = "Kesefly"
)

// ErrMissingTaxID is returned when the issuer has no company tax ID.
var ErrMissingTaxID = errors.New("business profile has no tax id")

// DocType is the document type code of C100 and D110 records.
type DocType int

const (
	DocInvoice    DocType = 305
	DocCreditNote DocType = 330
)

// Document is one exported document with amounts already in ILS.
type Document struct {
	Type        DocType
	Number      string
	Date        time.Time
	ClientName  string
	ClientTaxID string
	Net         decimal.Decimal
	VAT         decimal.Decimal
	Total       decimal.Decimal
	Lines       []Line
}

type Line struct {
	Description string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Total       decimal.Decimal
}

// Files is the generated pair, still as Go strings.
type Files struct {
	INI  string
	BKMV string
}

// Documents converts a year's realised invoices and its credit notes into
// export documents, normalising every amount with the invoice's currency.
// Credit notes must carry their parent invoice.
func Documents(ctx context.Context, n ledger.Normalizer, year int, invoices []core.Invoice, credits []core.CreditNote) ([]Document, error) {
	docs := make([]Document, 0, len(invoices)+len(credits))
	for _, inv := range invoices {
		if !inv.Status.Realized() || inv.IssueDate.Year() != year {
			continue
		}
		d, err := fromInvoice(ctx, n, inv)
		if err != nil {
			return nil, fmt.Errorf("invoice %s: %w", inv.Number, err)
		}
		docs = append(docs, d)
	}
	for _, cn := range credits {
		if cn.IssueDate.Year() != year {
			continue
		}
		if cn.Invoice == nil {
			return nil, fmt.Errorf("credit note %s: parent invoice not loaded", cn.Number)
		}
		d, err := fromCreditNote(ctx, n, cn)
		if err != nil {
			return nil, fmt.Errorf("credit note %s: %w", cn.Number, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func fromInvoice(ctx context.Context, n ledger.Normalizer, inv core.Invoice) (Document, error) {
	conv := func(d decimal.Decimal) (decimal.Decimal, error) { return n.ToCanonical(ctx, d, inv.Currency) }
	d := Document{Type: DocInvoice, Number: inv.Number, Date: inv.IssueDate}
	if inv.Client != nil {
		d.ClientName, d.ClientTaxID = inv.Client.Name, inv.Client.TaxID
	}
	var err error
	if d.Net, err = conv(inv.Subtotal); err != nil {
		return Document{}, err
	}
	if d.VAT, err = conv(inv.VATAmount); err != nil {
		return Document{}, err
	}
	if d.Total, err = conv(inv.Total); err != nil {
		return Document{}, err
	}

	if len(inv.Lines) == 0 {
		desc := inv.Notes
		if desc == "" {
			desc = "חשבונית " + inv.Number
		}
		d.Lines = []Line{{Description: desc, Quantity: decimal.NewFromInt(1), Price: d.Net, Total: d.Net}}
		return d, nil
	}
	for _, l := range inv.Lines {
		price, err := conv(l.Price)
		if err != nil {
			return Document{}, err
		}
		total, err := conv(l.Total)
		if err != nil {
			return Document{}, err
		}
		d.Lines = append(d.Lines, Line{Description: l.Description, Quantity: l.Quantity, Price: price, Total: total})
	}
	return d, nil
}

func fromCreditNote(ctx context.Context, n ledger.Normalizer, cn core.CreditNote) (Document, error) {
	inv := cn.Invoice
	conv := func(d decimal.Decimal) (decimal.Decimal, error) { return n.ToCanonical(ctx, d, inv.Currency) }
	d := Document{Type: DocCreditNote, Number: cn.Number, Date: cn.IssueDate}
	if inv.Client != nil {
		d.ClientName, d.ClientTaxID = inv.Client.Name, inv.Client.TaxID
	}
	var err error
	if d.Net, err = conv(cn.CreditAmount); err != nil {
		return Document{}, err
	}
	if d.VAT, err = conv(cn.VATAmount); err != nil {
		return Document{}, err
	}
	if d.Total, err = conv(cn.TotalCredit); err != nil {
		return Document{}, err
	}
	desc := cn.Reason
	if desc == "" {
		desc = "זיכוי עבור חשבונית " + inv.Number
	}
	d.Lines = []Line{{Description: desc, Quantity: decimal.NewFromInt(1), Price: d.Net, Total: d.Net}}
	return d, nil
}

// Generate writes the record stream and manifest for one tax year.
//
// Records are an A100 header, then per document, in ascending date order,
// one C100 followed by its D110 lines, then a Z900 trailer whose count is
// the number of lines before it. The issuer's tax ID must pass the check
// digit.
func Generate(issuer core.BusinessProfile, year int, docs []Document, now time.Time) (Files, error) {
	taxID := strings.TrimSpace(issuer.CompanyID)
	if taxID == "" {
		return Files{}, ErrMissingTaxID
	}
	if !core.ValidIsraeliID(taxID) {
		return Files{}, fmt.Errorf("%w: %s", core.ErrInvalidTaxID, taxID)
	}
	taxID = fmt.Sprintf("%09s", taxID)

	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	primary := now.Format("20060102150405") + "0"
	w := newRecordWriter(taxID)

	w.record("A100").
		num(int64(year), 4).
		raw(primary).
		raw(versionTag).
		text(issuer.CompanyName, 50).
		end()

	for _, d := range sorted {
		w.record("C100").
			num(int64(d.Type), 3).
			text(d.Number, 20).
			raw(d.Date.Format("20060102")).
			raw(d.Date.Format("1504")).
			text(d.ClientName, 50).
			digits(d.ClientTaxID, 9).
			raw(string(core.Canonical)).
			signed(d.Net, 2, 15).
			signed(d.VAT, 2, 15).
			signed(d.Total, 2, 15).
			end()
		for i, l := range d.Lines {
			w.record("D110").
				num(int64(d.Type), 3).
				text(d.Number, 20).
				num(int64(i+1), 4).
				text(l.Description, 30).
				signed(l.Quantity, 4, 17).
				signed(l.Price, 2, 15).
				signed(l.Total, 2, 15).
				end()
		}
	}

	preceding := w.lines
	w.record("Z900").
		raw(primary).
		raw(versionTag).
		num(int64(preceding), 15).
		end()

	if w.err != nil {
		return Files{}, w.err
	}
	return Files{
		INI:  manifest(issuer, taxID, year, primary, now, w.counts, w.lines),
		BKMV: w.b.String(),
	}, nil
}

func manifest(issuer core.BusinessProfile, taxID string, year int, primary string, now time.Time, counts map[string]int, total int) string {
	var b strings.Builder
	line := func(k string, v any) { fmt.Fprintf(&b, "%s=%v\r\n", k, v) }

	b.WriteString("[MivneAhid]\r\n")
	line("CodMivne", StructureVersion)
	line("Yezern", SoftwareName)
	line("ShemYezern", SoftwareName)
	line("MisparRashi", primary)
	line("TaarichHafaka", now.Format("20060102"))
	line("ShaatHafaka", now.Format("1504"))

	b.WriteString("[Isuk]\r\n")
	line("OsekMorha", taxID)
	line("ShemOsek", issuer.CompanyName)
	line("Ktovet", issuer.Address)
	line("ShnatMas", year)
	line("Matbea", core.Canonical)

	b.WriteString("[Records]\r\n")
	for _, code := range []string{"A100", "C100", "D110", "Z900"} {
		line(code, counts[code])
	}
	line("Total", total)
	return b.String()
}
