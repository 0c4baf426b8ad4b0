package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/amqp"
	"kesefly/internal/core"
	"kesefly/internal/log"
)

type DocumentStore interface {
	CreateClient(ctx context.Context, c core.Client) (core.Client, error)
	CreateSupplier(ctx context.Context, s core.Supplier) (core.Supplier, error)
	GetClient(ctx context.Context, userID, id string) (core.Client, error)
	ListClients(ctx context.Context, userID string) ([]core.Client, error)
	ListSuppliers(ctx context.Context, userID string) ([]core.Supplier, error)

	CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error)
	GetInvoice(ctx context.Context, userID, id string) (core.Invoice, error)
	ListInvoices(ctx context.Context, userID string, scope core.Scope, year int) ([]core.Invoice, error)
	SignInvoice(ctx context.Context, userID, id string, signedAt time.Time) (core.Invoice, error)
	MarkInvoicePaid(ctx context.Context, userID, id string) error

	CreateCreditNote(ctx context.Context, userID, invoiceID string, cn core.CreditNote) (core.CreditNote, core.Income, error)
	GetCreditNote(ctx context.Context, userID, id string) (core.CreditNote, error)
	ListCreditNotes(ctx context.Context, userID string) ([]core.CreditNote, error)
}

// DocumentService manages clients, suppliers, invoices and credit notes.
type DocumentService struct {
	store DocumentStore
	notifier
}

func NewDocumentService(store DocumentStore, events amqp.Publisher, cache Invalidator, logger *log.Logger) *DocumentService {
	return &DocumentService{store: store, notifier: newNotifier(events, cache, logger)}
}

type CounterpartyRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	TaxID   string `json:"taxId" validate:"omitempty,israeliid"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"max=30"`
	Address string `json:"address" validate:"max=300"`
}

func (r CounterpartyRequest) counterparty(userID string) (core.Counterparty, error) {
	if err := core.ValidateStruct(r); err != nil {
		return core.Counterparty{}, err
	}
	c := core.Counterparty{
		UserID:  userID,
		Name:    r.Name,
		TaxID:   r.TaxID,
		Email:   r.Email,
		Phone:   r.Phone,
		Address: strings.TrimSpace(r.Address),
	}
	if err := c.Normalize(); err != nil {
		return core.Counterparty{}, core.FieldError(err)
	}
	return c, nil
}

func (s *DocumentService) CreateClient(ctx context.Context, userID string, r CounterpartyRequest) (core.Client, error) {
	c, err := r.counterparty(userID)
	if err != nil {
		return core.Client{}, err
	}
	saved, err := s.store.CreateClient(ctx, core.Client{Counterparty: c})
	if err != nil {
		return core.Client{}, fmt.Errorf("save client: %w", err)
	}
	s.logger.InfoContext(ctx, "Client created", log.FieldUserID, userID, log.FieldItemID, saved.ID)
	s.written(ctx, userID, nil)
	return saved, nil
}

func (s *DocumentService) CreateSupplier(ctx context.Context, userID string, r CounterpartyRequest) (core.Supplier, error) {
	c, err := r.counterparty(userID)
	if err != nil {
		return core.Supplier{}, err
	}
	saved, err := s.store.CreateSupplier(ctx, core.Supplier{Counterparty: c})
	if err != nil {
		return core.Supplier{}, fmt.Errorf("save supplier: %w", err)
	}
	s.logger.InfoContext(ctx, "Supplier created", log.FieldUserID, userID, log.FieldItemID, saved.ID)
	s.written(ctx, userID, nil)
	return saved, nil
}

func (s *DocumentService) Clients(ctx context.Context, userID string) ([]core.Client, error) {
	return s.store.ListClients(ctx, userID)
}

func (s *DocumentService) Suppliers(ctx context.Context, userID string) ([]core.Supplier, error) {
	return s.store.ListSuppliers(ctx, userID)
}

type InvoiceLineRequest struct {
	Description string          `json:"description" validate:"required,max=300"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
}

type InvoiceRequest struct {
	ClientID  string               `json:"clientId" validate:"required"`
	Number    string               `json:"invoiceNumber" validate:"max=50"`
	IssueDate string               `json:"issueDate" validate:"omitempty,datetime=2006-01-02"`
	DueDate   string               `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	Currency  string               `json:"currency" validate:"currency"`
	Subtotal  decimal.Decimal      `json:"subtotal" validate:"gte=0"`
	VATRate   decimal.NullDecimal  `json:"vatRate" validate:"omitempty,gte=0,lte=1"`
	Scope     string               `json:"scope" validate:"scope"`
	Notes     string               `json:"notes" validate:"max=1000"`
	Lines     []InvoiceLineRequest `json:"lineItems" validate:"dive"`
}

// CreateInvoice stores a DRAFT. Line totals, VAT and total are computed
// here; an omitted number becomes the next free one.
func (s *DocumentService) CreateInvoice(ctx context.Context, userID string, r InvoiceRequest) (core.Invoice, error) {
	if err := core.ValidateStruct(r); err != nil {
		return core.Invoice{}, err
	}
	currency, err := core.ParseCurrency(r.Currency)
	if err != nil {
		return core.Invoice{}, core.FieldError(err)
	}
	scope, err := core.ParseScope(r.Scope, core.ScopeBusiness)
	if err != nil {
		return core.Invoice{}, core.FieldError(err)
	}

	inv := core.Invoice{
		UserID:    userID,
		ClientID:  r.ClientID,
		Scope:     scope,
		Number:    strings.TrimSpace(r.Number),
		IssueDate: today(s.now()),
		Currency:  currency,
		Subtotal:  core.RoundAgorot(r.Subtotal),
		VATRate:   core.DefaultVATRate,
		Status:    core.StatusDraft,
		Notes:     strings.TrimSpace(r.Notes),
	}
	if r.IssueDate != "" {
		inv.IssueDate, _ = time.Parse("2006-01-02", r.IssueDate)
	}
	if r.DueDate != "" {
		due, _ := time.Parse("2006-01-02", r.DueDate)
		inv.DueDate = &due
	}
	if r.VATRate.Valid {
		inv.VATRate = r.VATRate.Decimal
	}
	for _, l := range r.Lines {
		inv.Lines = append(inv.Lines, core.InvoiceLine{Description: strings.TrimSpace(l.Description), Quantity: l.Quantity, Price: l.Price})
	}
	inv.Price()
	if err := inv.Validate(); err != nil {
		return core.Invoice{}, core.FieldError(err)
	}

	client, err := s.store.GetClient(ctx, userID, r.ClientID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Invoice{}, core.NewValidationError("clientId", "unknown client")
	}
	if err != nil {
		return core.Invoice{}, err
	}
	inv.Client = &client

	saved, err := s.store.CreateInvoice(ctx, inv)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("save invoice: %w", err)
	}
	saved.Client = &client

	s.logger.InfoContext(ctx, "Invoice drafted",
		log.FieldUserID, userID,
		log.FieldItemID, saved.ID,
		log.FieldAmount, saved.Total.String(),
		log.FieldCurrency, saved.Currency)
	s.written(ctx, userID, amqp.InvoiceEvent(amqp.EventCreated, saved))
	return saved, nil
}

// SignInvoice stamps signedAt and the document hash. Only DRAFT and SENT
// invoices can be signed.
func (s *DocumentService) SignInvoice(ctx context.Context, userID, id string) (core.Invoice, error) {
	inv, err := s.store.SignInvoice(ctx, userID, id, s.now())
	if err != nil {
		return core.Invoice{}, err
	}
	s.logger.InfoContext(ctx, "Invoice signed", log.FieldUserID, userID, log.FieldItemID, id)
	s.written(ctx, userID, amqp.InvoiceEvent(amqp.EventSigned, inv))
	return inv, nil
}

func (s *DocumentService) MarkPaid(ctx context.Context, userID, id string) error {
	if err := s.store.MarkInvoicePaid(ctx, userID, id); err != nil {
		return err
	}
	s.written(ctx, userID, nil)
	return nil
}

func (s *DocumentService) Invoice(ctx context.Context, userID, id string) (core.Invoice, error) {
	return s.store.GetInvoice(ctx, userID, id)
}

func (s *DocumentService) Invoices(ctx context.Context, userID string, scope core.Scope, year int) ([]core.Invoice, error) {
	return s.store.ListInvoices(ctx, userID, scope, year)
}

type CreditNoteRequest struct {
	CreditAmount decimal.Decimal `json:"creditAmount" validate:"gt=0"`
	Reason       string          `json:"reason" validate:"max=500"`
	IssueDate    string          `json:"issueDate" validate:"omitempty,datetime=2006-01-02"`
	Number       string          `json:"number" validate:"max=50"`
}

// IssueCreditNote credits part or all of a signed invoice. The store
// records the negative business income in the same transaction; both are
// published.
func (s *DocumentService) IssueCreditNote(ctx context.Context, userID, invoiceID string, r CreditNoteRequest) (core.CreditNote, error) {
	if err := core.ValidateStruct(r); err != nil {
		return core.CreditNote{}, err
	}
	cn := core.CreditNote{
		Number:       strings.TrimSpace(r.Number),
		IssueDate:    today(s.now()),
		CreditAmount: core.RoundAgorot(r.CreditAmount),
		Reason:       strings.TrimSpace(r.Reason),
	}
	if r.IssueDate != "" {
		cn.IssueDate, _ = time.Parse("2006-01-02", r.IssueDate)
	}

	saved, reversal, err := s.store.CreateCreditNote(ctx, userID, invoiceID, cn)
	if err != nil {
		return core.CreditNote{}, err
	}

	currency := core.ILS
	if saved.Invoice != nil {
		currency = saved.Invoice.Currency
	}
	s.logger.InfoContext(ctx, "Credit note issued",
		log.FieldUserID, userID,
		log.FieldItemID, saved.ID,
		log.FieldAmount, saved.TotalCredit.String(),
		log.FieldCurrency, currency)
	s.written(ctx, userID, amqp.CreditNoteEvent(saved, currency))
	s.written(ctx, userID, amqp.IncomeEvent(userID, core.ScopeBusiness, reversal))
	return saved, nil
}

func (s *DocumentService) CreditNote(ctx context.Context, userID, id string) (core.CreditNote, error) {
	return s.store.GetCreditNote(ctx, userID, id)
}

func (s *DocumentService) CreditNotes(ctx context.Context, userID string) ([]core.CreditNote, error) {
	return s.store.ListCreditNotes(ctx, userID)
}
