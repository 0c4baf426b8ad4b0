package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
)

type fixedRates map[core.Currency]decimal.Decimal

func (f fixedRates) ToCanonical(_ context.Context, amount decimal.Decimal, code core.Currency) (decimal.Decimal, error) {
	if code == core.ILS || code == "" {
		return amount, nil
	}
	r, ok := f[code]
	if !ok {
		return decimal.Zero, errors.New("no rate for " + string(code))
	}
	return core.RoundAgorot(amount.Mul(r)), nil
}

var ils = fixedRates{core.USD: dec("3.70")}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func date(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

func period(id string, y, m int) core.Period {
	return core.Period{ID: id, Scope: core.ScopePersonal, YearMonth: core.YearMonth{Year: y, Month: m}}
}

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func TestAggregatePeriod(t *testing.T) {
	items := core.PeriodItems{
		Incomes:  []core.Income{{Amount: dec("5000"), Currency: core.ILS}, {Amount: dec("100"), Currency: core.USD}},
		Expenses: []core.Expense{{Amount: dec("1200"), Currency: core.ILS}},
		Bills:    []core.Bill{{Amount: dec("300"), Currency: core.ILS}},
		Debts:    []core.Debt{{TotalAmount: dec("10000"), MonthlyPayment: dec("500"), Currency: core.ILS}},
		Savings:  []core.SavingsDeposit{{MonthlyDeposit: dec("250"), Currency: core.ILS}},
	}

	got, err := AggregatePeriod(context.Background(), ils, items)
	if err != nil {
		t.Fatalf("AggregatePeriod() error = %v", err)
	}
	assertDec(t, "Income", got.Income, "5370")
	assertDec(t, "Expense", got.Expense, "1200")
	assertDec(t, "Bill", got.Bill, "300")
	assertDec(t, "DebtPayment", got.DebtPayment, "500")
	assertDec(t, "SavingsDeposit", got.SavingsDeposit, "250")
	assertDec(t, "NetChange", got.NetChange(), "3370")
}

func TestAggregatePeriod_Additive(t *testing.T) {
	a := core.PeriodItems{Incomes: []core.Income{{Amount: dec("10.10"), Currency: core.ILS}}}
	b := core.PeriodItems{Incomes: []core.Income{{Amount: dec("-3.05"), Currency: core.ILS}}, Expenses: []core.Expense{{Amount: dec("2"), Currency: core.USD}}}
	both := core.PeriodItems{Incomes: append(a.Incomes, b.Incomes...), Expenses: b.Expenses}

	ctx := context.Background()
	ta, _ := AggregatePeriod(ctx, ils, a)
	tb, _ := AggregatePeriod(ctx, ils, b)
	tab, err := AggregatePeriod(ctx, ils, both)
	if err != nil {
		t.Fatalf("AggregatePeriod() error = %v", err)
	}
	if !tab.Income.Equal(ta.Income.Add(tb.Income)) || !tab.Expense.Equal(ta.Expense.Add(tb.Expense)) {
		t.Errorf("totals not additive: %+v vs %+v + %+v", tab, ta, tb)
	}
	assertDec(t, "Income", tab.Income, "7.05")
}

func TestAggregatePeriod_NormalizeError(t *testing.T) {
	items := core.PeriodItems{Expenses: []core.Expense{{Amount: dec("1"), Currency: core.EUR}}}
	if _, err := AggregatePeriod(context.Background(), ils, items); err == nil {
		t.Fatal("expected error for missing rate")
	}
}

func TestNetWorthSeries(t *testing.T) {
	tests := []struct {
		name     string
		baseline string
		periods  []PeriodLedger
		want     []string // accumulated per point
		opening  []string
	}{
		{
			name: "single month",
			periods: []PeriodLedger{{
				Period: period("p1", 2025, 1),
				Items: core.PeriodItems{
					Incomes:  []core.Income{{Amount: dec("5000"), Currency: core.ILS}},
					Expenses: []core.Expense{{Amount: dec("1200"), Currency: core.ILS}},
				},
			}},
			want:    []string{"3800"},
			opening: []string{"0"},
		},
		{
			name:     "baseline seeds first period and override resets",
			baseline: "1000",
			periods: []PeriodLedger{
				{Period: period("p1", 2025, 1), Items: core.PeriodItems{Incomes: []core.Income{{Amount: dec("200"), Currency: core.ILS}}}},
				{
					Period: func() core.Period {
						p := period("p2", 2025, 2)
						p.InitialBalance = nd("500")
						p.InitialSavings = nd("0")
						return p
					}(),
					Items: core.PeriodItems{Bills: []core.Bill{{Amount: dec("100"), Currency: core.ILS}}},
				},
				{Period: period("p3", 2025, 4)},
			},
			want:    []string{"1200", "400", "400"},
			opening: []string{"1000", "500", "400"},
		},
		{
			name:     "savings deposits do not reduce net worth",
			baseline: "0",
			periods: []PeriodLedger{{
				Period: period("p1", 2025, 1),
				Items:  core.PeriodItems{Savings: []core.SavingsDeposit{{MonthlyDeposit: dec("700"), Currency: core.ILS}}},
			}},
			want:    []string{"0"},
			opening: []string{"0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := decimal.Zero
			if tt.baseline != "" {
				base = dec(tt.baseline)
			}
			points, err := NetWorthSeries(context.Background(), ils, base, tt.periods)
			if err != nil {
				t.Fatalf("NetWorthSeries() error = %v", err)
			}
			if len(points) != len(tt.want) {
				t.Fatalf("got %d points, want %d", len(points), len(tt.want))
			}
			for i, p := range points {
				assertDec(t, "AccumulatedNetWorth", p.AccumulatedNetWorth, tt.want[i])
				assertDec(t, "Opening", p.Opening, tt.opening[i])
				if !p.AccumulatedNetWorth.Equal(p.Opening.Add(p.NetChange)) {
					t.Errorf("point %d: accumulated != opening + net", i)
				}
			}
		})
	}
}

func TestAccumulator_RejectsOutOfOrder(t *testing.T) {
	acc := NewAccumulator(decimal.Zero)
	if _, err := acc.Apply(period("a", 2025, 3), PeriodTotals{}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	for _, p := range []core.Period{period("b", 2025, 2), period("c", 2025, 3)} {
		if _, err := acc.Apply(p, PeriodTotals{}); !errors.Is(err, ErrPeriodOrder) {
			t.Errorf("Apply(%s) error = %v, want ErrPeriodOrder", p.YearMonth, err)
		}
	}
}

func TestAccumulator_BalanceBeforeApply(t *testing.T) {
	acc := NewAccumulator(dec("42"))
	assertDec(t, "Balance", acc.Balance(), "42")
}

func signedInvoice() core.Invoice {
	return core.Invoice{
		ID:        "inv1",
		Number:    "1001",
		IssueDate: date(2025, 3, 10),
		Currency:  core.ILS,
		Subtotal:  dec("1000"),
		VATAmount: dec("180"),
		Total:     dec("1180"),
		Status:    core.StatusSigned,
		Client:    &core.Client{Counterparty: core.Counterparty{Name: "Acme"}},
	}
}

func TestProfitAndLoss_CreditNote(t *testing.T) {
	tests := []struct {
		name    string
		credit  core.CreditNote
		total   string
		taxable string
		vat     string
	}{
		{
			name:    "partial",
			credit:  core.CreditNote{ID: "cn1", InvoiceID: "inv1", Number: "CN-1001", IssueDate: date(2025, 4, 1), CreditAmount: dec("500"), VATAmount: dec("90"), TotalCredit: dec("590")},
			total:   "590",
			taxable: "500",
			vat:     "90",
		},
		{
			name:    "full",
			credit:  core.CreditNote{ID: "cn1", InvoiceID: "inv1", Number: "CN-1001", IssueDate: date(2025, 4, 1), CreditAmount: dec("1000"), VATAmount: dec("180"), TotalCredit: dec("1180")},
			total:   "0",
			taxable: "0",
			vat:     "0",
		},
		{
			name:    "credit on uncounted invoice is ignored",
			credit:  core.CreditNote{ID: "cn1", InvoiceID: "other", Number: "CN-1001", IssueDate: date(2025, 4, 1), CreditAmount: dec("500"), VATAmount: dec("90"), TotalCredit: dec("590")},
			total:   "1180",
			taxable: "1000",
			vat:     "180",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ProfitAndLoss(context.Background(), ils, YearDocuments{
				Year:        2025,
				Scope:       core.ScopeBusiness,
				Invoices:    []core.Invoice{signedInvoice()},
				CreditNotes: []core.CreditNote{tt.credit},
			})
			if err != nil {
				t.Fatalf("ProfitAndLoss() error = %v", err)
			}
			assertDec(t, "Revenue.Total", r.Revenue.Total, tt.total)
			assertDec(t, "Revenue.Taxable", r.Revenue.Taxable, tt.taxable)
			assertDec(t, "Revenue.VAT", r.Revenue.VAT, tt.vat)
			assertDec(t, "NetProfit", r.NetProfit, tt.taxable)
		})
	}
}

func TestProfitAndLoss_CreditNoteTransaction(t *testing.T) {
	r, err := ProfitAndLoss(context.Background(), ils, YearDocuments{
		Year:     2025,
		Invoices: []core.Invoice{signedInvoice()},
		CreditNotes: []core.CreditNote{{
			ID: "cn1", InvoiceID: "inv1", Number: "CN-1001", IssueDate: date(2025, 4, 1),
			CreditAmount: dec("500"), VATAmount: dec("90"), TotalCredit: dec("590"),
		}},
	})
	if err != nil {
		t.Fatalf("ProfitAndLoss() error = %v", err)
	}
	if len(r.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(r.Transactions))
	}
	cn := r.Transactions[0]
	if cn.Type != TxCreditNote {
		t.Fatalf("first transaction type = %s, want newest (credit note)", cn.Type)
	}
	if cn.Description != "זיכוי CN-1001 (חשבונית 1001)" {
		t.Errorf("Description = %q", cn.Description)
	}
	assertDec(t, "credit Amount", cn.Amount, "-590")
	if cn.EntityName != "Acme" {
		t.Errorf("EntityName = %q, want Acme", cn.EntityName)
	}
	if r.Transactions[1].Description != "חשבונית 1001" {
		t.Errorf("invoice Description = %q", r.Transactions[1].Description)
	}
}

func TestProfitAndLoss_SkipsUnrealizedAndOtherYears(t *testing.T) {
	draft := signedInvoice()
	draft.ID, draft.Status = "draft", core.StatusDraft
	old := signedInvoice()
	old.ID, old.IssueDate = "old", date(2024, 12, 31)
	paid := signedInvoice()
	paid.ID, paid.Status = "paid", core.StatusPaid

	r, err := ProfitAndLoss(context.Background(), ils, YearDocuments{
		Year:     2025,
		Invoices: []core.Invoice{draft, old, paid},
		Incomes: []core.Income{
			{ID: "linked", Amount: dec("1180"), Currency: core.ILS, Date: date(2025, 3, 10), InvoiceID: "inv1"},
			{ID: "old", Amount: dec("50"), Currency: core.ILS, Date: date(2024, 5, 1)},
		},
		Expenses: []core.Expense{{ID: "old", Amount: dec("50"), Currency: core.ILS, Date: date(2026, 1, 1)}},
	})
	if err != nil {
		t.Fatalf("ProfitAndLoss() error = %v", err)
	}
	assertDec(t, "Revenue.Total", r.Revenue.Total, "0")
	assertDec(t, "Expenses.Total", r.Expenses.Total, "0")
	if len(r.Transactions) != 0 {
		t.Errorf("got %d transactions, want 0", len(r.Transactions))
	}
}

func TestProfitAndLoss_ManualIncomeVAT(t *testing.T) {
	tests := []struct {
		name    string
		income  core.Income
		taxable string
		vat     string
	}{
		{
			name:    "explicit vat amount",
			income:  core.Income{Amount: dec("1180"), VATAmount: nd("180")},
			taxable: "1000",
			vat:     "180",
		},
		{
			name:    "amount before vat",
			income:  core.Income{Amount: dec("1180"), AmountBeforeVAT: nd("1000")},
			taxable: "1000",
			vat:     "180",
		},
		{
			name:    "zero vat amount falls through to amount before vat",
			income:  core.Income{Amount: dec("1180"), VATAmount: nd("0"), AmountBeforeVAT: nd("1000")},
			taxable: "1000",
			vat:     "180",
		},
		{
			name:    "no vat information",
			income:  core.Income{Amount: dec("1180")},
			taxable: "1180",
			vat:     "0",
		},
		{
			name:    "foreign currency",
			income:  core.Income{Amount: dec("100"), Currency: core.USD},
			taxable: "370",
			vat:     "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc := tt.income
			inc.ID, inc.Source, inc.Date = "i1", "consulting", date(2025, 6, 1)
			if inc.Currency == "" {
				inc.Currency = core.ILS
			}
			r, err := ProfitAndLoss(context.Background(), ils, YearDocuments{Year: 2025, Incomes: []core.Income{inc}})
			if err != nil {
				t.Fatalf("ProfitAndLoss() error = %v", err)
			}
			assertDec(t, "Revenue.Taxable", r.Revenue.Taxable, tt.taxable)
			assertDec(t, "Revenue.VAT", r.Revenue.VAT, tt.vat)
			if !r.Revenue.Total.Equal(r.Revenue.Taxable.Add(r.Revenue.VAT)) {
				t.Errorf("total %s != taxable + vat", r.Revenue.Total)
			}
		})
	}
}

func TestProfitAndLoss_Expenses(t *testing.T) {
	r, err := ProfitAndLoss(context.Background(), ils, YearDocuments{
		Year: 2025,
		Incomes: []core.Income{
			{ID: "i1", Source: "work", Amount: dec("5000"), Currency: core.ILS, Date: date(2025, 1, 5)},
		},
		Expenses: []core.Expense{
			{ID: "e1", Description: "laptop", Amount: dec("1180"), Currency: core.ILS, Date: date(2025, 2, 1), VATAmount: nd("180"), IsDeductible: true},
			{ID: "e2", Description: "car", Amount: dec("1180"), Currency: core.ILS, Date: date(2025, 2, 2), VATAmount: nd("180"), IsDeductible: true, DeductibleRate: nd("0.25")},
			{ID: "e3", Description: "lunch", Amount: dec("100"), Currency: core.ILS, Date: date(2025, 2, 3)},
		},
	})
	if err != nil {
		t.Fatalf("ProfitAndLoss() error = %v", err)
	}
	assertDec(t, "Expenses.Total", r.Expenses.Total, "2460")
	assertDec(t, "Expenses.Recognized", r.Expenses.Recognized, "1250")
	assertDec(t, "Expenses.VATRecognized", r.Expenses.VATRecognized, "360")
	assertDec(t, "NetProfit", r.NetProfit, "3750")

	var lunch *Transaction
	for i := range r.Transactions {
		if r.Transactions[i].ID == "e3" {
			lunch = &r.Transactions[i]
		}
	}
	if lunch == nil || lunch.IsRecognized == nil || *lunch.IsRecognized {
		t.Errorf("non-deductible expense should be present and unrecognized: %+v", lunch)
	}
}

func TestProfitAndLoss_PartialDeductionSumsUnrounded(t *testing.T) {
	var expenses []core.Expense
	for i, day := range []int{3, 4, 5} {
		expenses = append(expenses, core.Expense{
			ID: fmt.Sprintf("e%d", i), Description: "parking", Amount: dec("0.10"), Currency: core.ILS,
			Date: date(2025, 6, day), IsDeductible: true, DeductibleRate: nd("0.25"),
		})
	}
	r, err := ProfitAndLoss(context.Background(), ils, YearDocuments{Year: 2025, Expenses: expenses})
	if err != nil {
		t.Fatalf("ProfitAndLoss() error = %v", err)
	}
	// 0.025 each; rounding per item would give 0.09.
	assertDec(t, "Expenses.Recognized", r.Expenses.Recognized, "0.075")
	assertDec(t, "NetProfit", r.NetProfit, "-0.075")
}

func TestProfitAndLoss_TransactionsNewestFirst(t *testing.T) {
	r, err := ProfitAndLoss(context.Background(), ils, YearDocuments{
		Year: 2025,
		Incomes: []core.Income{
			{ID: "a", Source: "a", Amount: dec("1"), Currency: core.ILS, Date: date(2025, 1, 1)},
			{ID: "c", Source: "c", Amount: dec("1"), Currency: core.ILS, Date: date(2025, 9, 1)},
			{ID: "b1", Source: "b", Amount: dec("1"), Currency: core.ILS, Date: date(2025, 5, 1)},
		},
		Expenses: []core.Expense{
			{ID: "b2", Description: "b", Amount: dec("1"), Currency: core.ILS, Date: date(2025, 5, 1)},
		},
	})
	if err != nil {
		t.Fatalf("ProfitAndLoss() error = %v", err)
	}
	want := []string{"c", "b1", "b2", "a"}
	for i, tx := range r.Transactions {
		if tx.ID != want[i] {
			t.Errorf("Transactions[%d] = %s, want %s", i, tx.ID, want[i])
		}
	}
}

type memStore struct {
	mu      sync.Mutex
	periods []core.Period
	incomes map[string][]core.Income
	calls   int
	fail    string
}

func (m *memStore) ListPeriods(_ context.Context, _ string, _ core.Scope, through core.YearMonth) ([]core.Period, error) {
	var out []core.Period
	for _, p := range m.periods {
		if !p.YearMonth.After(through) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListIncomes(_ context.Context, id string) ([]core.Income, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if id == m.fail {
		return nil, errors.New("boom")
	}
	return m.incomes[id], nil
}

func (m *memStore) ListExpenses(context.Context, string) ([]core.Expense, error) { return nil, nil }
func (m *memStore) ListBills(context.Context, string) ([]core.Bill, error)       { return nil, nil }
func (m *memStore) ListDebts(context.Context, string) ([]core.Debt, error)       { return nil, nil }
func (m *memStore) ListSavings(context.Context, string) ([]core.SavingsDeposit, error) {
	return nil, nil
}

func TestLoadHistory(t *testing.T) {
	store := &memStore{
		periods: []core.Period{period("p1", 2025, 1), period("p2", 2025, 2), period("p3", 2025, 3), period("p4", 2025, 4)},
		incomes: map[string][]core.Income{
			"p1": {{Amount: dec("100"), Currency: core.ILS}},
			"p3": {{Amount: dec("50"), Currency: core.ILS}},
		},
	}
	hist, err := LoadHistory(context.Background(), store, "u1", core.ScopePersonal, core.YearMonth{Year: 2025, Month: 3})
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("got %d periods, want 3", len(hist))
	}
	for i, id := range []string{"p1", "p2", "p3"} {
		if hist[i].Period.ID != id {
			t.Errorf("hist[%d] = %s, want %s", i, hist[i].Period.ID, id)
		}
	}
	points, err := NetWorthSeries(context.Background(), ils, decimal.Zero, hist)
	if err != nil {
		t.Fatalf("NetWorthSeries() error = %v", err)
	}
	assertDec(t, "final", points[len(points)-1].AccumulatedNetWorth, "150")
}

func TestLoadHistory_Error(t *testing.T) {
	store := &memStore{periods: []core.Period{period("p1", 2025, 1), period("p2", 2025, 2)}, fail: "p2"}
	if _, err := LoadHistory(context.Background(), store, "u1", core.ScopePersonal, core.YearMonth{Year: 2025, Month: 12}); err == nil {
		t.Fatal("expected error")
	}
}
