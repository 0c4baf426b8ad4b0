package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle of an invoice. Only SIGNED invoices count
// as realized revenue; a PAID one can still be credited.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "DRAFT"
	StatusSent      InvoiceStatus = "SENT"
	StatusSigned    InvoiceStatus = "SIGNED"
	StatusPaid      InvoiceStatus = "PAID"
	StatusCancelled InvoiceStatus = "CANCELLED"
)

// Realized reports whether the invoice counts as revenue in reports and
// the statutory export.
func (s InvoiceStatus) Realized() bool {
	return s == StatusSigned
}

// Creditable reports whether a credit note may be issued against the invoice.
func (s InvoiceStatus) Creditable() bool {
	return s == StatusSigned || s == StatusPaid
}

// DefaultVATRate is the Israeli standard VAT rate.
var DefaultVATRate = decimal.RequireFromString("0.18")

// Business-rule violations. They map to a conflict at the API boundary.
var (
	ErrDuplicateExpense     = errors.New("an identical expense already exists in this period")
	ErrDuplicateNumber      = errors.New("document number already exists")
	ErrCreditExceedsInvoice = errors.New("credit exceeds the invoice's outstanding total")
	ErrInvoiceNotSigned     = errors.New("invoice is not signed")
	ErrInvoiceNotDraft      = errors.New("invoice is not a draft")
	ErrScopeMismatch        = errors.New("recurring child scope differs from its parent")
	ErrDuplicateEmail       = errors.New("email already registered")
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrUpstream      = errors.New("upstream service failed")
	ErrNotConfigured = errors.New("feature not configured")
)

type InvoiceLine struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"`
}

type Invoice struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	ClientID     string          `json:"clientId"`
	Client       *Client         `json:"client,omitempty"`
	Scope        Scope           `json:"scope"`
	Number       string          `json:"invoiceNumber"`
	IssueDate    time.Time       `json:"issueDate"`
	DueDate      *time.Time      `json:"dueDate,omitempty"`
	Currency     Currency        `json:"currency"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	VATRate      decimal.Decimal `json:"vatRate"`
	VATAmount    decimal.Decimal `json:"vatAmount"`
	Total        decimal.Decimal `json:"total"`
	Status       InvoiceStatus   `json:"status"`
	SignedAt     *time.Time      `json:"signedAt,omitempty"`
	DocumentHash string          `json:"documentHash,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Lines        []InvoiceLine   `json:"lineItems"`
}

// Price computes subtotal, VAT and total from VATRate. When lines are
// present the subtotal is their sum and each line total is quantity x price.
func (inv *Invoice) Price() {
	if len(inv.Lines) > 0 {
		sum := decimal.Zero
		for i := range inv.Lines {
			l := &inv.Lines[i]
			l.Total = RoundAgorot(l.Quantity.Mul(l.Price))
			sum = sum.Add(l.Total)
		}
		inv.Subtotal = sum
	}
	inv.VATAmount = RoundAgorot(inv.Subtotal.Mul(inv.VATRate))
	inv.Total = inv.Subtotal.Add(inv.VATAmount)
}

func (inv Invoice) Validate() error {
	if strings.TrimSpace(inv.ClientID) == "" {
		return errors.New("client is required")
	}
	if inv.IssueDate.IsZero() {
		return errors.New("issue date cannot be zero")
	}
	if !inv.Currency.Valid() {
		return ErrInvalidCurrency
	}
	if !inv.Subtotal.IsPositive() {
		return ErrInvalidAmount
	}
	if !isFraction(inv.VATRate) {
		return ErrInvalidRate
	}
	for _, l := range inv.Lines {
		if strings.TrimSpace(l.Description) == "" {
			return ErrEmptyDescription
		}
		if !l.Quantity.IsPositive() {
			return ErrInvalidAmount
		}
	}
	return nil
}

// Hash is the SHA-256 fingerprint stamped on a signed invoice.
func (inv Invoice) Hash() string {
	return documentHash(struct {
		Number   string `json:"number"`
		Date     string `json:"date"`
		Total    string `json:"total"`
		ClientID string `json:"clientId"`
		Currency string `json:"currency"`
	}{inv.Number, inv.IssueDate.UTC().Format(time.RFC3339), inv.Total.String(), inv.ClientID, string(inv.Currency)})
}

type CreditNote struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	InvoiceID    string          `json:"invoiceId"`
	Invoice      *Invoice        `json:"invoice,omitempty"`
	Number       string          `json:"creditNoteNumber"`
	IssueDate    time.Time       `json:"issueDate"`
	CreditAmount decimal.Decimal `json:"creditAmount"`
	VATAmount    decimal.Decimal `json:"vatAmount"`
	TotalCredit  decimal.Decimal `json:"totalCredit"`
	Reason       string          `json:"reason"`
	DocumentHash string          `json:"documentHash"`
	SignedAt     time.Time       `json:"signedAt"`
}

// Hash covers the number, date, net amount, parent invoice and reason.
func (cn CreditNote) Hash() string {
	return documentHash(struct {
		Number    string `json:"number"`
		Date      string `json:"date"`
		Amount    string `json:"amount"`
		InvoiceID string `json:"invoiceId"`
		Reason    string `json:"reason"`
	}{cn.Number, cn.IssueDate.UTC().Format(time.RFC3339), cn.CreditAmount.String(), cn.InvoiceID, cn.Reason})
}

func documentHash(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Counterparty is the shape shared by clients and suppliers.
type Counterparty struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	TaxID     string    `json:"taxId,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type (
	Client   struct{ Counterparty }
	Supplier struct{ Counterparty }
)

// Normalize trims fields, validates the tax ID and rewrites the phone to
// E.164.
func (c *Counterparty) Normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.TaxID = strings.TrimSpace(c.TaxID)
	c.Email = strings.TrimSpace(c.Email)
	if c.Name == "" {
		return ErrEmptyName
	}
	if c.TaxID != "" && !ValidIsraeliID(c.TaxID) {
		return ErrInvalidTaxID
	}
	if strings.TrimSpace(c.Phone) != "" {
		p, err := NormalizePhone(c.Phone)
		if err != nil {
			return err
		}
		c.Phone = p
	}
	return nil
}

// BusinessProfile is the issuer identity printed on documents and
// exported to the tax authority.
type BusinessProfile struct {
	UserID      string `json:"userId"`
	CompanyID   string `json:"companyId"`
	CompanyName string `json:"companyName"`
	Address     string `json:"address,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Credit fills the VAT and total of cn from the invoice's VAT rate and
// checks it against what is left to credit. credited is the sum of the
// totals of earlier credit notes on the same invoice.
func (inv Invoice) Credit(cn *CreditNote, credited decimal.Decimal) error {
	if !inv.Status.Creditable() {
		return ErrInvoiceNotSigned
	}
	if !cn.CreditAmount.IsPositive() {
		return ErrInvalidAmount
	}
	cn.InvoiceID = inv.ID
	cn.VATAmount = RoundAgorot(cn.CreditAmount.Mul(inv.VATRate))
	cn.TotalCredit = cn.CreditAmount.Add(cn.VATAmount)
	if cn.TotalCredit.GreaterThan(inv.Total.Sub(credited)) {
		return ErrCreditExceedsInvoice
	}
	return nil
}

// CreditCategory is the income category of credit-note reversals.
const CreditCategory = "זיכויים"

// Reversal is the negative business income recorded with a credit note.
// It is linked to the invoice so profit and loss does not count it twice.
func (cn CreditNote) Reversal(inv Invoice, periodID string) Income {
	return Income{
		PeriodID:  periodID,
		Source:    "זיכוי עבור חשבונית " + inv.Number,
		Category:  CreditCategory,
		Amount:    cn.TotalCredit.Neg(),
		Currency:  inv.Currency,
		Date:      cn.IssueDate,
		VATAmount: decimal.NewNullDecimal(cn.VATAmount.Neg()),
		InvoiceID: inv.ID,
		ClientID:  inv.ClientID,
	}
}
