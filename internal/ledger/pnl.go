package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
)

type TransactionType string

const (
	TxInvoice    TransactionType = "INVOICE"
	TxCreditNote TransactionType = "CREDIT_NOTE"
	TxIncome     TransactionType = "INCOME"
	TxExpense    TransactionType = "EXPENSE"
)

// Transaction is one document or line item contributing to a report, with
// signed amounts in ILS.
type Transaction struct {
	ID           string          `json:"id"`
	Date         time.Time       `json:"date"`
	Type         TransactionType `json:"type"`
	Number       string          `json:"number,omitempty"`
	Description  string          `json:"description"`
	Category     string          `json:"category,omitempty"`
	EntityName   string          `json:"entityName,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	AmountNet    decimal.Decimal `json:"amountNet"`
	VAT          decimal.Decimal `json:"vat"`
	IsRecognized *bool           `json:"isRecognized,omitempty"`
}

type Revenue struct {
	Total   decimal.Decimal `json:"total"`
	Taxable decimal.Decimal `json:"taxable"`
	VAT     decimal.Decimal `json:"vat"`
}

// ExpenseSummary keeps the cash total apart from the tax-recognised cost.
type ExpenseSummary struct {
	Total         decimal.Decimal `json:"total"`
	Recognized    decimal.Decimal `json:"recognized"`
	VATRecognized decimal.Decimal `json:"vatRecognized"`
}

type ProfitLoss struct {
	Year         int             `json:"year"`
	Scope        core.Scope      `json:"scope"`
	Revenue      Revenue         `json:"revenue"`
	Expenses     ExpenseSummary  `json:"expenses"`
	NetProfit    decimal.Decimal `json:"netProfit"`
	Transactions []Transaction   `json:"transactions"`
}

// YearDocuments is the raw material of a yearly report. Inputs outside
// the year, unrealised invoices, invoice-linked incomes and credit notes
// of uncounted invoices are ignored.
type YearDocuments struct {
	Year        int
	Scope       core.Scope
	Invoices    []core.Invoice
	CreditNotes []core.CreditNote
	Incomes     []core.Income
	Expenses    []core.Expense
}

// ProfitAndLoss computes revenue, recognised expenses and net profit.
//
// Signed invoices add their total, VAT and subtotal; credit notes subtract
// theirs. Manual incomes split VAT from an explicit VAT amount, else from
// an amount before VAT, else count as VAT-free. An expense's recognised
// cost is its net amount times its deductible rate when deductible and
// zero otherwise, while the cash total always includes it in full.
func ProfitAndLoss(ctx context.Context, n Normalizer, docs YearDocuments) (ProfitLoss, error) {
	r := ProfitLoss{Year: docs.Year, Scope: docs.Scope, Transactions: []Transaction{}}
	inYear := func(t time.Time) bool { return t.Year() == docs.Year }

	counted := make(map[string]core.Invoice, len(docs.Invoices))
	for _, inv := range docs.Invoices {
		if !inv.Status.Realized() || !inYear(inv.IssueDate) {
			continue
		}
		total, vat, net, err := normalize3(ctx, n, inv.Currency, inv.Total, inv.VATAmount, inv.Subtotal)
		if err != nil {
			return ProfitLoss{}, fmt.Errorf("invoice %s: %w", inv.Number, err)
		}
		counted[inv.ID] = inv
		r.Revenue.Total = r.Revenue.Total.Add(total)
		r.Revenue.VAT = r.Revenue.VAT.Add(vat)
		r.Revenue.Taxable = r.Revenue.Taxable.Add(net)
		r.Transactions = append(r.Transactions, Transaction{
			ID:          inv.ID,
			Date:        inv.IssueDate,
			Type:        TxInvoice,
			Number:      inv.Number,
			Description: "חשבונית " + inv.Number,
			EntityName:  clientName(inv.Client),
			Amount:      total,
			AmountNet:   net,
			VAT:         vat,
		})
	}

	for _, cn := range docs.CreditNotes {
		inv, ok := counted[cn.InvoiceID]
		if !ok {
			continue
		}
		total, vat, net, err := normalize3(ctx, n, inv.Currency, cn.TotalCredit, cn.VATAmount, cn.CreditAmount)
		if err != nil {
			return ProfitLoss{}, fmt.Errorf("credit note %s: %w", cn.Number, err)
		}
		r.Revenue.Total = r.Revenue.Total.Sub(total)
		r.Revenue.VAT = r.Revenue.VAT.Sub(vat)
		r.Revenue.Taxable = r.Revenue.Taxable.Sub(net)
		r.Transactions = append(r.Transactions, Transaction{
			ID:          cn.ID,
			Date:        cn.IssueDate,
			Type:        TxCreditNote,
			Number:      cn.Number,
			Description: fmt.Sprintf("זיכוי %s (חשבונית %s)", cn.Number, inv.Number),
			EntityName:  clientName(inv.Client),
			Amount:      total.Neg(),
			AmountNet:   net.Neg(),
			VAT:         vat.Neg(),
		})
	}

	for _, inc := range docs.Incomes {
		if inc.InvoiceID != "" || !inYear(inc.Date) {
			continue
		}
		total, err := n.ToCanonical(ctx, inc.Amount, inc.Currency)
		if err != nil {
			return ProfitLoss{}, fmt.Errorf("income %s: %w", inc.ID, err)
		}
		net, vat := total, decimal.Zero
		switch {
		case inc.VATAmount.Valid && !inc.VATAmount.Decimal.IsZero():
			if vat, err = n.ToCanonical(ctx, inc.VATAmount.Decimal, inc.Currency); err != nil {
				return ProfitLoss{}, fmt.Errorf("income %s: %w", inc.ID, err)
			}
			net = total.Sub(vat)
		case inc.AmountBeforeVAT.Valid && !inc.AmountBeforeVAT.Decimal.IsZero():
			if net, err = n.ToCanonical(ctx, inc.AmountBeforeVAT.Decimal, inc.Currency); err != nil {
				return ProfitLoss{}, fmt.Errorf("income %s: %w", inc.ID, err)
			}
			vat = total.Sub(net)
		}
		r.Revenue.Total = r.Revenue.Total.Add(total)
		r.Revenue.VAT = r.Revenue.VAT.Add(vat)
		r.Revenue.Taxable = r.Revenue.Taxable.Add(net)

		desc := inc.Source
		if desc == "" {
			desc = inc.Category
		}
		entity := inc.ClientName
		if entity == "" {
			entity = inc.Payer
		}
		r.Transactions = append(r.Transactions, Transaction{
			ID:          inc.ID,
			Date:        inc.Date,
			Type:        TxIncome,
			Description: desc,
			Category:    inc.Category,
			EntityName:  entity,
			Amount:      total,
			AmountNet:   net,
			VAT:         vat,
		})
	}

	for _, exp := range docs.Expenses {
		if !inYear(exp.Date) {
			continue
		}
		amount, err := n.ToCanonical(ctx, exp.Amount, exp.Currency)
		if err != nil {
			return ProfitLoss{}, fmt.Errorf("expense %s: %w", exp.ID, err)
		}
		vat := decimal.Zero
		if exp.VATAmount.Valid {
			if vat, err = n.ToCanonical(ctx, exp.VATAmount.Decimal, exp.Currency); err != nil {
				return ProfitLoss{}, fmt.Errorf("expense %s: %w", exp.ID, err)
			}
		}
		net := amount.Sub(vat)

		recognized := decimal.Zero
		if exp.IsDeductible {
			rate := decimal.NewFromInt(1)
			if exp.DeductibleRate.Valid {
				rate = exp.DeductibleRate.Decimal
			}
			recognized = net.Mul(rate)
			r.Expenses.VATRecognized = r.Expenses.VATRecognized.Add(vat)
		}
		r.Expenses.Total = r.Expenses.Total.Add(amount)
		r.Expenses.Recognized = r.Expenses.Recognized.Add(recognized)

		desc := exp.Description
		if desc == "" {
			desc = exp.Category
		}
		deductible := exp.IsDeductible
		r.Transactions = append(r.Transactions, Transaction{
			ID:           exp.ID,
			Date:         exp.Date,
			Type:         TxExpense,
			Description:  desc,
			Category:     exp.Category,
			EntityName:   exp.SupplierName,
			Amount:       amount,
			AmountNet:    net,
			VAT:          vat,
			IsRecognized: &deductible,
		})
	}

	r.NetProfit = r.Revenue.Taxable.Sub(r.Expenses.Recognized)
	sort.SliceStable(r.Transactions, func(i, j int) bool {
		return r.Transactions[i].Date.After(r.Transactions[j].Date)
	})
	return r, nil
}

func normalize3(ctx context.Context, n Normalizer, c core.Currency, a, b, d decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	var out [3]decimal.Decimal
	for i, v := range []decimal.Decimal{a, b, d} {
		x, err := n.ToCanonical(ctx, v, c)
		if err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, err
		}
		out[i] = x
	}
	return out[0], out[1], out[2], nil
}

func clientName(c *core.Client) string {
	if c == nil {
		return ""
	}
	return c.Name
}
