package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"kesefly/internal/core"
	"kesefly/internal/scan"
)

type fakeScanner struct {
	receipt scan.Receipt
	err     error
}

func (f fakeScanner) Scan(context.Context, []byte, time.Time) (scan.Receipt, error) {
	return f.receipt, f.err
}

func newCapture(t *testing.T, scanner ReceiptScanner) (*CaptureService, *fakePublisher, string) {
	t.Helper()
	repo, u := newTestRepo(t)
	pub := &fakePublisher{}
	s := NewCaptureService(repo, scanner, pub, nil, nil)
	s.now = func() time.Time { return time.Date(2025, 6, 14, 18, 30, 0, 0, time.UTC) }
	return s, pub, u.ID
}

func TestCaptureExpense_Defaults(t *testing.T) {
	s, pub, userID := newCapture(t, nil)
	ctx := context.Background()

	e, err := ExpenseRequest{Amount: dec("42.5")}.Expense(s.now(), ShortcutDescription)
	if err != nil {
		t.Fatal(err)
	}
	saved, err := s.CaptureExpense(ctx, userID, core.ScopePersonal, e)
	if err != nil {
		t.Fatalf("CaptureExpense() error = %v", err)
	}
	if saved.ID == "" || saved.PeriodID == "" {
		t.Fatalf("saved = %+v", saved)
	}
	if saved.Category != DefaultCategory || saved.Description != ShortcutDescription || saved.Currency != core.ILS {
		t.Errorf("defaults not applied: %+v", saved)
	}
	if !saved.Date.Equal(day(2025, 6, 14)) {
		t.Errorf("date = %v, want today", saved.Date)
	}
	if got := pub.kinds(); len(got) != 1 || got[0] != string(core.KindExpense) {
		t.Errorf("published = %v", got)
	}

	if _, err := s.CaptureExpense(ctx, userID, core.ScopePersonal, e); !errors.Is(err, core.ErrDuplicateExpense) {
		t.Errorf("second capture error = %v, want ErrDuplicateExpense", err)
	}
	if len(pub.kinds()) != 1 {
		t.Error("duplicate was published")
	}
}

func TestCaptureExpense_PublishFailureDoesNotFail(t *testing.T) {
	s, pub, userID := newCapture(t, nil)
	pub.err = errors.New("broker down")

	e := core.Expense{Description: "קפה", Amount: dec("12"), Date: day(2025, 6, 1)}
	if _, err := s.CaptureExpense(context.Background(), userID, core.ScopeBusiness, e); err != nil {
		t.Fatalf("CaptureExpense() error = %v", err)
	}
}

func TestExpenseRequest_Validation(t *testing.T) {
	now := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		req       ExpenseRequest
		wantField string
	}{
		{"zero amount", ExpenseRequest{Description: "x"}, "amount"},
		{"negative amount", ExpenseRequest{Amount: dec("-3")}, "amount"},
		{"bad currency", ExpenseRequest{Amount: dec("3"), Currency: "JPY"}, "currency"},
		{"bad date", ExpenseRequest{Amount: dec("3"), Date: "14/06/2025"}, "date"},
		{"bad scope", ExpenseRequest{Amount: dec("3"), Scope: "FAMILY"}, "scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Expense(now, "d")
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if _, ok := verr.Fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want %q", verr.Fields, tt.wantField)
			}
		})
	}
}

func TestExpenseRequest_RequestScope(t *testing.T) {
	tests := []struct {
		req  ExpenseRequest
		want core.Scope
	}{
		{ExpenseRequest{}, core.ScopePersonal},
		{ExpenseRequest{BudgetType: "business"}, core.ScopeBusiness},
		{ExpenseRequest{Scope: "PERSONAL", BudgetType: "BUSINESS"}, core.ScopePersonal},
	}
	for _, tt := range tests {
		got, err := tt.req.RequestScope(core.ScopePersonal)
		if err != nil || got != tt.want {
			t.Errorf("RequestScope(%+v) = %s, %v; want %s", tt.req, got, err, tt.want)
		}
	}
}

func TestScanReceipt(t *testing.T) {
	receipt := scan.Receipt{Amount: dec("118"), Date: day(2025, 6, 10), Model: "primary"}
	s, pub, userID := newCapture(t, fakeScanner{receipt: receipt})

	e, err := s.ScanReceipt(context.Background(), userID, core.ScopeBusiness, []byte("img"))
	if err != nil {
		t.Fatalf("ScanReceipt() error = %v", err)
	}
	if e.Category != ScannedCategory || e.Description != ScannedDescription || e.PaymentMethod != ScannedPaymentMethod {
		t.Errorf("scanned defaults = %+v", e)
	}
	if !e.VATAmount.Decimal.Equal(dec("18")) || !e.AmountBeforeVAT.Decimal.Equal(dec("100")) {
		t.Errorf("vat split = %s / %s", e.VATAmount.Decimal, e.AmountBeforeVAT.Decimal)
	}
	if !e.IsDeductible {
		t.Error("business receipt should be deductible")
	}
	if len(pub.kinds()) != 1 {
		t.Errorf("published = %v", pub.kinds())
	}
}

func TestScanReceipt_Errors(t *testing.T) {
	s, _, userID := newCapture(t, nil)
	if _, err := s.ScanReceipt(context.Background(), userID, core.ScopePersonal, nil); !errors.Is(err, core.ErrNotConfigured) {
		t.Errorf("nil scanner error = %v, want ErrNotConfigured", err)
	}

	s, _, userID = newCapture(t, fakeScanner{err: core.ErrUpstream})
	if _, err := s.ScanReceipt(context.Background(), userID, core.ScopePersonal, nil); !errors.Is(err, core.ErrUpstream) {
		t.Errorf("scanner error = %v, want ErrUpstream", err)
	}
}
