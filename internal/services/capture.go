package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/amqp"
	"kesefly/internal/core"
	"kesefly/internal/log"
	"kesefly/internal/scan"
)

const (
	DefaultCategory      = "כללי"
	ShortcutDescription  = "From Shortcut"
	ScannedCategory      = "חשבוניות סרוקות"
	ScannedDescription   = "הוצאה סרוקה"
	ScannedPaymentMethod = "כרטיס אשראי"
)

type CaptureStore interface {
	EnsurePeriod(ctx context.Context, userID string, scope core.Scope, ym core.YearMonth) (core.Period, error)
	InsertExpense(ctx context.Context, e core.Expense) (core.Expense, error)
}

type ReceiptScanner interface {
	Scan(ctx context.Context, image []byte, now time.Time) (scan.Receipt, error)
}

// CaptureService records expenses sent by mobile shortcuts, typed or
// scanned from a receipt photo.
type CaptureService struct {
	store   CaptureStore
	scanner ReceiptScanner
	notifier
}

// NewCaptureService wires the capture use cases. scanner may be nil, in
// which case ScanReceipt reports core.ErrNotConfigured.
func NewCaptureService(store CaptureStore, scanner ReceiptScanner, events amqp.Publisher, cache Invalidator, logger *log.Logger) *CaptureService {
	return &CaptureService{
		store:    store,
		scanner:  scanner,
		notifier: newNotifier(events, cache, logger),
	}
}

// ExpenseRequest is the JSON body of the quick-capture endpoints.
type ExpenseRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Description string          `json:"description" validate:"max=200"`
	Category    string          `json:"category" validate:"max=100"`
	Date        string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Currency    string          `json:"currency" validate:"currency"`
	Scope       string          `json:"scope" validate:"scope"`
	BudgetType  string          `json:"budgetType" validate:"scope"`
}

// Expense validates the request and fills the capture defaults. An empty
// description falls back to defaultDescription.
func (r ExpenseRequest) Expense(now time.Time, defaultDescription string) (core.Expense, error) {
	if err := core.ValidateStruct(r); err != nil {
		return core.Expense{}, err
	}
	currency, err := core.ParseCurrency(r.Currency)
	if err != nil {
		return core.Expense{}, core.FieldError(err)
	}
	date := today(now)
	if r.Date != "" {
		// format already checked by the datetime tag
		date, _ = time.Parse("2006-01-02", r.Date)
	}
	e := core.Expense{
		Description: strings.TrimSpace(r.Description),
		Category:    strings.TrimSpace(r.Category),
		Amount:      core.RoundAgorot(r.Amount),
		Currency:    currency,
		Date:        date,
	}
	if e.Description == "" {
		e.Description = defaultDescription
	}
	return e, nil
}

// RequestScope picks scope, then budgetType, then def.
func (r ExpenseRequest) RequestScope(def core.Scope) (core.Scope, error) {
	raw := r.Scope
	if raw == "" {
		raw = r.BudgetType
	}
	return core.ParseScope(raw, def)
}

// CaptureExpense stores e in the period of its month, creating the period
// when needed. An identical expense in the same period is rejected with
// core.ErrDuplicateExpense.
func (s *CaptureService) CaptureExpense(ctx context.Context, userID string, scope core.Scope, e core.Expense) (core.Expense, error) {
	if e.Category == "" {
		e.Category = DefaultCategory
	}
	if e.Currency == "" {
		e.Currency = core.ILS
	}
	if e.Date.IsZero() {
		e.Date = today(s.now())
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, core.FieldError(err)
	}

	period, err := s.store.EnsurePeriod(ctx, userID, scope, core.YearMonthOf(e.Date))
	if err != nil {
		return core.Expense{}, fmt.Errorf("ensure period: %w", err)
	}
	e.PeriodID = period.ID

	saved, err := s.store.InsertExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	s.logger.InfoContext(ctx, "Expense captured",
		log.FieldUserID, userID,
		log.FieldScope, scope,
		log.FieldItemID, saved.ID,
		log.FieldAmount, saved.Amount.String(),
		log.FieldCurrency, saved.Currency)

	s.written(ctx, userID, amqp.ExpenseEvent(userID, scope, saved))
	return saved, nil
}

// ScanReceipt extracts an expense from a receipt photo and stores it. The
// total is taken as VAT-inclusive at the default rate.
func (s *CaptureService) ScanReceipt(ctx context.Context, userID string, scope core.Scope, image []byte) (core.Expense, error) {
	if s.scanner == nil {
		return core.Expense{}, fmt.Errorf("receipt scanning: %w", core.ErrNotConfigured)
	}
	r, err := s.scanner.Scan(ctx, image, s.now())
	if err != nil {
		return core.Expense{}, err
	}

	vat := scan.VATFromGross(r.Amount, core.DefaultVATRate)
	e := core.Expense{
		Category:        ScannedCategory,
		Description:     r.BusinessName,
		Amount:          r.Amount,
		Currency:        core.ILS,
		Date:            r.Date,
		VATAmount:       decimal.NewNullDecimal(vat),
		AmountBeforeVAT: decimal.NewNullDecimal(r.Amount.Sub(vat)),
		VATRate:         decimal.NewNullDecimal(core.DefaultVATRate),
		IsDeductible:    scope == core.ScopeBusiness,
		PaymentMethod:   ScannedPaymentMethod,
	}
	if e.Description == "" {
		e.Description = ScannedDescription
	}
	s.logger.InfoContext(ctx, "Receipt scanned",
		log.FieldModel, r.Model,
		log.FieldAmount, r.Amount.String(),
		log.FieldOperation, log.OpScan)
	return s.CaptureExpense(ctx, userID, scope, e)
}

func today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
