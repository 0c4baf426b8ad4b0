package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPeriodOverride(t *testing.T) {
	var p Period
	if p.HasOverride() {
		t.Fatal("zero period must not carry an override")
	}
	p.InitialBalance = decimal.NewNullDecimal(dec("500"))
	if !p.HasOverride() {
		t.Fatal("expected override when initial balance is set")
	}
	if !p.OverrideTotal().Equal(dec("500")) {
		t.Fatalf("override total = %s, want 500", p.OverrideTotal())
	}
	p.InitialSavings = decimal.NewNullDecimal(dec("250.5"))
	if !p.OverrideTotal().Equal(dec("750.5")) {
		t.Fatalf("override total = %s, want 750.5", p.OverrideTotal())
	}

	savingsOnly := Period{InitialSavings: decimal.NewNullDecimal(decimal.Zero)}
	if !savingsOnly.HasOverride() {
		t.Fatal("a zero-valued override is still an override")
	}
}

func TestBaselineFor(t *testing.T) {
	b := Baseline{
		InitialBalance:         dec("1000"),
		InitialSavings:         dec("200"),
		BusinessInitialBalance: dec("50"),
	}
	if got := b.For(ScopePersonal); !got.Equal(dec("1200")) {
		t.Errorf("personal baseline = %s", got)
	}
	if got := b.For(ScopeBusiness); !got.Equal(dec("50")) {
		t.Errorf("business baseline = %s", got)
	}
}

func TestLineItemMoney(t *testing.T) {
	items := []struct {
		item LineItem
		want string
		kind ItemKind
	}{
		{Income{Amount: dec("5000"), Currency: ILS}, "5000", KindIncome},
		{Expense{Amount: dec("1200"), Currency: USD}, "1200", KindExpense},
		{Bill{Amount: dec("300")}, "300", KindBill},
		{Debt{TotalAmount: dec("10000"), MonthlyPayment: dec("450")}, "450", KindDebt},
		{SavingsDeposit{MonthlyDeposit: dec("800")}, "800", KindSavings},
	}
	for _, tc := range items {
		m := tc.item.Money()
		if !m.Amount.Equal(dec(tc.want)) {
			t.Errorf("%s money = %s, want %s", tc.kind, m.Amount, tc.want)
		}
		if m.Currency == "" {
			t.Errorf("%s money has no currency", tc.kind)
		}
		if tc.item.Kind() != tc.kind {
			t.Errorf("kind = %s, want %s", tc.item.Kind(), tc.kind)
		}
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		Date:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Description: "ok",
		Category:    "Food",
		Amount:      dec("10"),
		Currency:    ILS,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := map[string]struct {
		mutate func(*Expense)
		want   error
	}{
		"zero amount":     {func(e *Expense) { e.Amount = decimal.Zero }, ErrInvalidAmount},
		"empty desc":      {func(e *Expense) { e.Description = " " }, ErrEmptyDescription},
		"empty category":  {func(e *Expense) { e.Category = "" }, ErrEmptyCategory},
		"bad currency":    {func(e *Expense) { e.Currency = "JPY" }, ErrInvalidCurrency},
		"rate above one":  {func(e *Expense) { e.DeductibleRate = decimal.NewNullDecimal(dec("1.5")) }, ErrInvalidRate},
		"vat over amount": {func(e *Expense) { e.VATAmount = decimal.NewNullDecimal(dec("11")) }, ErrInvalidAmount},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := good
			tc.mutate(&e)
			if err := e.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestYearMonth(t *testing.T) {
	a := YearMonth{Year: 2024, Month: 12}
	if n := a.Next(); n != (YearMonth{Year: 2025, Month: 1}) {
		t.Fatalf("next of 2024-12 = %s", n)
	}
	if b := a.AddMonths(-12); b != (YearMonth{Year: 2023, Month: 12}) {
		t.Fatalf("2024-12 minus a year = %s", b)
	}
	if !a.Before(a.Next()) || a.After(a.Next()) {
		t.Fatal("ordering is wrong")
	}
	if got := a.MonthsUntil(YearMonth{Year: 2025, Month: 3}); got != 3 {
		t.Fatalf("months until = %d", got)
	}
	if err := (YearMonth{Year: 2024, Month: 13}).Validate(); !errors.Is(err, ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
}

func TestInvoicePrice(t *testing.T) {
	inv := Invoice{
		VATRate: DefaultVATRate,
		Lines: []InvoiceLine{
			{Description: "design", Quantity: dec("2"), Price: dec("250")},
			{Description: "hosting", Quantity: dec("1"), Price: dec("500")},
		},
	}
	inv.Price()
	if !inv.Subtotal.Equal(dec("1000")) || !inv.VATAmount.Equal(dec("180")) || !inv.Total.Equal(dec("1180")) {
		t.Fatalf("got subtotal=%s vat=%s total=%s", inv.Subtotal, inv.VATAmount, inv.Total)
	}
}

func TestCreditNoteHashStable(t *testing.T) {
	cn := CreditNote{
		Number:       "CN-1001",
		IssueDate:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		CreditAmount: dec("500"),
		InvoiceID:    "inv-1",
		Reason:       "refund",
	}
	h1 := cn.Hash()
	if len(h1) != 64 {
		t.Fatalf("hash length = %d", len(h1))
	}
	if h1 != cn.Hash() {
		t.Fatal("hash is not deterministic")
	}
	cn.Reason = "other"
	if h1 == cn.Hash() {
		t.Fatal("hash must change with the reason")
	}
}

func TestInvoiceStatus(t *testing.T) {
	tests := []struct {
		status     InvoiceStatus
		realized   bool
		creditable bool
	}{
		{StatusDraft, false, false},
		{StatusSent, false, false},
		{StatusSigned, true, true},
		{StatusPaid, false, true},
		{StatusCancelled, false, false},
	}
	for _, tt := range tests {
		if got := tt.status.Realized(); got != tt.realized {
			t.Errorf("%s.Realized() = %v, want %v", tt.status, got, tt.realized)
		}
		if got := tt.status.Creditable(); got != tt.creditable {
			t.Errorf("%s.Creditable() = %v, want %v", tt.status, got, tt.creditable)
		}
	}
}

func TestInvoiceCredit(t *testing.T) {
	inv := Invoice{ID: "inv-1", Number: "1001", Status: StatusSigned, Currency: ILS, VATRate: DefaultVATRate, Subtotal: dec("1000"), VATAmount: dec("180"), Total: dec("1180")}

	tests := []struct {
		name     string
		status   InvoiceStatus
		amount   string
		credited string
		wantErr  error
		total    string
	}{
		{name: "partial", status: StatusSigned, amount: "500", credited: "0", total: "590"},
		{name: "full", status: StatusPaid, amount: "1000", credited: "0", total: "1180"},
		{name: "rest after partial", status: StatusSigned, amount: "500", credited: "590", total: "590"},
		{name: "exceeds remaining", status: StatusSigned, amount: "500.01", credited: "590", wantErr: ErrCreditExceedsInvoice},
		{name: "draft invoice", status: StatusDraft, amount: "100", credited: "0", wantErr: ErrInvoiceNotSigned},
		{name: "zero amount", status: StatusSigned, amount: "0", credited: "0", wantErr: ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := inv
			in.Status = tt.status
			cn := CreditNote{CreditAmount: dec(tt.amount)}
			err := in.Credit(&cn, dec(tt.credited))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Credit() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && !cn.TotalCredit.Equal(dec(tt.total)) {
				t.Errorf("TotalCredit = %s, want %s", cn.TotalCredit, tt.total)
			}
		})
	}
}

func TestCreditNoteReversal(t *testing.T) {
	inv := Invoice{ID: "inv-1", Number: "1001", Currency: USD, ClientID: "c1"}
	cn := CreditNote{CreditAmount: dec("500"), VATAmount: dec("90"), TotalCredit: dec("590"), IssueDate: time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)}
	inc := cn.Reversal(inv, "p1")
	if !inc.Amount.Equal(dec("-590")) || inc.Currency != USD || inc.InvoiceID != "inv-1" || inc.Category != CreditCategory {
		t.Fatalf("unexpected reversal %+v", inc)
	}
	if inc.Source != "זיכוי עבור חשבונית 1001" {
		t.Errorf("Source = %q", inc.Source)
	}
	if err := inc.Validate(); err != nil {
		t.Errorf("reversal should validate: %v", err)
	}
}
