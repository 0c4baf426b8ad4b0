package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind tags the variants of LineItem.
type ItemKind string

const (
	KindIncome  ItemKind = "INCOME"
	KindExpense ItemKind = "EXPENSE"
	KindBill    ItemKind = "BILL"
	KindDebt    ItemKind = "DEBT"
	KindSavings ItemKind = "SAVINGS"
)

// RecurringKinds are the variants that may form a recurring series.
var RecurringKinds = []ItemKind{KindIncome, KindExpense, KindBill, KindSavings}

func ParseItemKind(s string) (ItemKind, error) {
	k := ItemKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindIncome, KindExpense, KindBill, KindDebt, KindSavings:
		return k, nil
	}
	return "", ErrInvalidKind
}

// LineItem is a single monetary entry of a period. Money returns the
// amount the item contributes to its period's totals.
type LineItem interface {
	Kind() ItemKind
	Money() Money
}

// Series links a line item to a recurring series. SourceID is empty on
// the series parent.
type Series struct {
	Recurring bool      `json:"isRecurring"`
	SourceID  string    `json:"recurringSourceId,omitempty"`
	Start     time.Time `json:"recurringStartDate,omitempty"`
	End       time.Time `json:"recurringEndDate,omitempty"`
	Frequency Frequency `json:"recurringFrequency,omitempty"`
}

// IsParent reports whether the item originates a series.
func (s Series) IsParent() bool { return s.Recurring && s.SourceID == "" }

type (
	Income struct {
		ID              string              `json:"id"`
		PeriodID        string              `json:"budgetId"`
		Source          string              `json:"source"`
		Category        string              `json:"category"`
		Amount          decimal.Decimal     `json:"amount"`
		Currency        Currency            `json:"currency"`
		Date            time.Time           `json:"date"`
		VATAmount       decimal.NullDecimal `json:"vatAmount"`
		AmountBeforeVAT decimal.NullDecimal `json:"amountBeforeVat"`
		VATRate         decimal.NullDecimal `json:"vatRate"`
		InvoiceID       string              `json:"invoiceId,omitempty"`
		ClientID        string              `json:"clientId,omitempty"`
		ClientName      string              `json:"clientName,omitempty"`
		Payer           string              `json:"payer,omitempty"`
		Series
	}

	Expense struct {
		ID              string              `json:"id"`
		PeriodID        string              `json:"budgetId"`
		Category        string              `json:"category"`
		Description     string              `json:"description"`
		Amount          decimal.Decimal     `json:"amount"`
		Currency        Currency            `json:"currency"`
		Date            time.Time           `json:"date"`
		SupplierID      string              `json:"supplierId,omitempty"`
		SupplierName    string              `json:"supplierName,omitempty"`
		AmountBeforeVAT decimal.NullDecimal `json:"amountBeforeVat"`
		VATRate         decimal.NullDecimal `json:"vatRate"`
		VATAmount       decimal.NullDecimal `json:"vatAmount"`
		IsDeductible    bool                `json:"isDeductible"`
		DeductibleRate  decimal.NullDecimal `json:"deductibleRate"`
		PaymentMethod   string              `json:"paymentMethod,omitempty"`
		Series
	}

	Bill struct {
		ID       string          `json:"id"`
		PeriodID string          `json:"budgetId"`
		Name     string          `json:"name"`
		Amount   decimal.Decimal `json:"amount"`
		Currency Currency        `json:"currency"`
		DueDay   int             `json:"dueDay"`
		IsPaid   bool            `json:"isPaid"`
		Series
	}

	Debt struct {
		ID             string          `json:"id"`
		PeriodID       string          `json:"budgetId"`
		Creditor       string          `json:"creditor"`
		TotalAmount    decimal.Decimal `json:"totalAmount"`
		MonthlyPayment decimal.Decimal `json:"monthlyPayment"`
		Currency       Currency        `json:"currency"`
		DueDay         int             `json:"dueDay"`
	}

	SavingsDeposit struct {
		ID             string              `json:"id"`
		PeriodID       string              `json:"budgetId"`
		Name           string              `json:"name"`
		MonthlyDeposit decimal.Decimal     `json:"monthlyDeposit"`
		Currency       Currency            `json:"currency"`
		TargetAmount   decimal.NullDecimal `json:"targetAmount"`
		Date           time.Time           `json:"date"`
		Series
	}
)

func (Income) Kind() ItemKind         { return KindIncome }
func (Expense) Kind() ItemKind        { return KindExpense }
func (Bill) Kind() ItemKind           { return KindBill }
func (Debt) Kind() ItemKind           { return KindDebt }
func (SavingsDeposit) Kind() ItemKind { return KindSavings }

func (i Income) Money() Money  { return NewMoney(i.Amount, i.Currency) }
func (e Expense) Money() Money { return NewMoney(e.Amount, e.Currency) }
func (b Bill) Money() Money    { return NewMoney(b.Amount, b.Currency) }

// Money of a debt is its monthly installment, not the outstanding total.
func (d Debt) Money() Money { return NewMoney(d.MonthlyPayment, d.Currency) }

func (s SavingsDeposit) Money() Money { return NewMoney(s.MonthlyDeposit, s.Currency) }

// PeriodItems holds every line item of one period, one collection per
// variant.
type PeriodItems struct {
	Incomes  []Income
	Expenses []Expense
	Bills    []Bill
	Debts    []Debt
	Savings  []SavingsDeposit
}

// Len returns the number of line items across all collections.
func (p PeriodItems) Len() int {
	return len(p.Incomes) + len(p.Expenses) + len(p.Bills) + len(p.Debts) + len(p.Savings)
}

// Period is one (user, month, year, scope) budget bucket.
type Period struct {
	ID             string              `json:"id"`
	UserID         string              `json:"userId"`
	Scope          Scope               `json:"type"`
	YearMonth
	Currency       string              `json:"currency"`
	InitialBalance decimal.NullDecimal `json:"initialBalance"`
	InitialSavings decimal.NullDecimal `json:"initialSavings"`
}

// HasOverride reports whether the period resets the running balance.
func (p Period) HasOverride() bool {
	return p.InitialBalance.Valid || p.InitialSavings.Valid
}

// OverrideTotal is initialBalance + initialSavings, each defaulting to 0.
func (p Period) OverrideTotal() decimal.Decimal {
	total := decimal.Zero
	if p.InitialBalance.Valid {
		total = total.Add(p.InitialBalance.Decimal)
	}
	if p.InitialSavings.Valid {
		total = total.Add(p.InitialSavings.Decimal)
	}
	return total
}

// Baseline is a user's global accumulation seed per scope.
type Baseline struct {
	InitialBalance         decimal.Decimal `json:"initialBalance"`
	InitialSavings         decimal.Decimal `json:"initialSavings"`
	BusinessInitialBalance decimal.Decimal `json:"businessInitialBalance"`
	BusinessInitialSavings decimal.Decimal `json:"businessInitialSavings"`
}

// For returns balance + savings for the scope.
func (b Baseline) For(s Scope) decimal.Decimal {
	if s == ScopeBusiness {
		return b.BusinessInitialBalance.Add(b.BusinessInitialSavings)
	}
	return b.InitialBalance.Add(b.InitialSavings)
}

type User struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Baseline Baseline `json:"baseline"`
}

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidYear      = errors.New("invalid year")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("unsupported currency")
	ErrInvalidScope     = errors.New("invalid scope")
	ErrInvalidKind      = errors.New("invalid line item kind")
	ErrInvalidRate      = errors.New("rate must be between 0 and 1")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCategory    = errors.New("empty category")
	ErrEmptyName        = errors.New("empty name")
	ErrInvalidTaxID     = errors.New("invalid tax id")
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrInvalidSeries    = errors.New("invalid recurring series")
)

func (e Expense) Validate() error {
	if e.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	if strings.TrimSpace(e.Description) == "" {
		return ErrEmptyDescription
	}
	if len([]rune(e.Description)) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if err := e.Money().Validate(); err != nil {
		return err
	}
	if e.DeductibleRate.Valid && !isFraction(e.DeductibleRate.Decimal) {
		return ErrInvalidRate
	}
	if e.VATAmount.Valid && (e.VATAmount.Decimal.IsNegative() || e.VATAmount.Decimal.GreaterThan(e.Amount)) {
		return ErrInvalidAmount
	}
	return e.Series.Validate()
}

// Validate accepts negative amounts: credit-note reversals are stored as
// negative incomes.
func (i Income) Validate() error {
	if i.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	if strings.TrimSpace(i.Source) == "" && strings.TrimSpace(i.Category) == "" {
		return ErrEmptyDescription
	}
	if i.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if !i.Currency.Valid() {
		return ErrInvalidCurrency
	}
	return i.Series.Validate()
}

func (s Series) Validate() error {
	if !s.Recurring {
		return nil
	}
	if s.Start.IsZero() {
		return errors.New("recurring series requires a start date")
	}
	if !s.End.IsZero() && s.End.Before(s.Start) {
		return errors.New("end date must be after start date")
	}
	if s.Frequency != "" && !s.Frequency.Valid() {
		return ErrInvalidSeries
	}
	return nil
}

func isFraction(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
