package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "kesefly.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestUser(t *testing.T, repo *SQLiteRepository) core.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), "dana@example.com", "Dana", "digest")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

func ym(y, m int) core.YearMonth { return core.YearMonth{Year: y, Month: m} }

func TestUsers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := newTestUser(t, repo)

	got, err := repo.UserByAPIKeyHash(ctx, "digest")
	if err != nil || got.ID != u.ID {
		t.Fatalf("UserByAPIKeyHash() = %+v, %v", got, err)
	}
	if _, err := repo.UserByAPIKeyHash(ctx, "nope"); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("unknown key error = %v, want ErrUnauthorized", err)
	}
	if _, err := repo.CreateUser(ctx, "dana@example.com", "Other", ""); !errors.Is(err, core.ErrDuplicateEmail) {
		t.Errorf("duplicate email error = %v", err)
	}

	b := core.Baseline{InitialBalance: dec("1000"), BusinessInitialSavings: dec("250.5")}
	if err := repo.SetBaseline(ctx, u.ID, b); err != nil {
		t.Fatalf("SetBaseline() error = %v", err)
	}
	got, err = repo.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if !got.Baseline.For(core.ScopeBusiness).Equal(dec("250.5")) || !got.Baseline.For(core.ScopePersonal).Equal(dec("1000")) {
		t.Errorf("baseline = %+v", got.Baseline)
	}
	if _, err := repo.GetUser(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetUser(missing) error = %v", err)
	}
}

func TestEnsurePeriod(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := newTestUser(t, repo)

	p1, err := repo.EnsurePeriod(ctx, u.ID, core.ScopePersonal, ym(2025, 3))
	if err != nil {
		t.Fatalf("EnsurePeriod() error = %v", err)
	}
	p2, err := repo.EnsurePeriod(ctx, u.ID, core.ScopePersonal, ym(2025, 3))
	if err != nil {
		t.Fatalf("EnsurePeriod() error = %v", err)
	}
	if p1.ID != p2.ID {
		t.Errorf("EnsurePeriod created two periods: %s and %s", p1.ID, p2.ID)
	}
	biz, _ := repo.EnsurePeriod(ctx, u.ID, core.ScopeBusiness, ym(2025, 3))
	if biz.ID == p1.ID {
		t.Error("scopes must not share a period")
	}
	if _, err := repo.EnsurePeriod(ctx, u.ID, core.ScopePersonal, ym(2025, 13)); !errors.Is(err, core.ErrInvalidMonth) {
		t.Errorf("invalid month error = %v", err)
	}
	if p1.HasOverride() {
		t.Error("new period must not carry an override")
	}

	if err := repo.SetPeriodOverride(ctx, u.ID, p1.ID, decimal.NewNullDecimal(dec("500")), decimal.NullDecimal{}); err != nil {
		t.Fatalf("SetPeriodOverride() error = %v", err)
	}
	got, _ := repo.GetPeriod(ctx, p1.ID)
	if !got.HasOverride() || !got.OverrideTotal().Equal(dec("500")) || got.InitialSavings.Valid {
		t.Errorf("override = %+v", got)
	}
}

func TestListPeriods(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := newTestUser(t, repo)
	for _, m := range []core.YearMonth{ym(2025, 2), ym(2024, 12), ym(2025, 1), ym(2025, 4)} {
		if _, err := repo.EnsurePeriod(ctx, u.ID, core.ScopePersonal, m); err != nil {
			t.Fatal(err)
		}
	}
	repo.EnsurePeriod(ctx, u.ID, core.ScopeBusiness, ym(2025, 1))

	ps, err := repo.ListPeriods(ctx, u.ID, core.ScopePersonal, ym(2025, 2))
	if err != nil {
		t.Fatalf("ListPeriods() error = %v", err)
	}
	want := []core.YearMonth{ym(2024, 12), ym(2025, 1), ym(2025, 2)}
	if len(ps) != len(want) {
		t.Fatalf("got %d periods, want %d", len(ps), len(want))
	}
	for i, p := range ps {
		if p.YearMonth != want[i] || p.Scope != core.ScopePersonal {
			t.Errorf("period %d = %s %s, want %s", i, p.Scope, p.YearMonth, want[i])
		}
	}
}

func TestInsertExpense_Duplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := newTestUser(t, repo)
	p, _ := repo.EnsurePeriod(ctx, u.ID, core.ScopePersonal, ym(2025, 3))

	e := core.Expense{PeriodID: p.ID, Category: "כללי", Description: "coffee", Amount: dec("12.50"), Currency: core.ILS, Date: day(2025, 3, 4)}
	saved, err := repo.InsertExpense(ctx, e)
	if err != nil {
		t.Fatalf("InsertExpense() error = %v", err)
	}
	if saved.ID == "" {
		t.Error("expected generated id")
	}
	if _, err := repo.InsertExpense(ctx, e); !errors.Is(err, core.ErrDuplicateExpense) {
		t.Errorf("duplicate error = %v, want ErrDuplicateExpense", err)
	}
	e.Description = "tea"
	if _, err := repo.InsertExpense(ctx, e); err != nil {
		t.Errorf("different description should insert: %v", err)
	}

	list, err := repo.ListExpenses(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListExpenses() error = %v", err)
	}
	if len(list) != 2 || !list[0].Amount.Equal(dec("12.5")) || !list[0].Date.Equal(day(2025, 3, 4)) {
		t.Errorf("ListExpenses() = %+v", list)
	}
}

func TestItemsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := newTestUser(t, repo)
	p, _ := repo.EnsurePeriod(ctx, u.ID, core.ScopeBusiness, ym(2025, 6))

	inc := core.Income{PeriodID: p.ID, Source: "consulting", Category: "עבודה", Amount: dec("1180"), Currency: core.USD,
		Date: day(2025, 6, 1), VATAmount: decimal.NewNullDecimal(dec("180")),
		Series: core.Series{Recurring: true, Start: day(2025, 6, 1), Frequency: core.Monthly}}
	if _, err := repo.InsertIncome(ctx, inc); err != nil {
		t.Fatalf("InsertIncome() error = %v", err)
	}
	if _, err := repo.InsertBill(ctx, core.Bill{PeriodID: p.ID, Name: "rent", Amount: dec("4000"), Currency: core.ILS, DueDay: 5}); err != nil {
		t.Fatalf("InsertBill() error = %v", err)
	}
	if _, err := repo.InsertDebt(ctx, core.Debt{PeriodID: p.ID, Creditor: "bank", TotalAmount: dec("50000"), MonthlyPayment: dec("1500"), Currency: core.ILS, DueDay: 10}); err != nil {
		t.Fatalf("InsertDebt() error = %v", err)
	}
	if _, err := repo.InsertSavings(ctx, core.SavingsDeposit{PeriodID: p.ID, Name: "fund", MonthlyDeposit: dec("300"), Currency: core.ILS, Date: day(2025, 6, 1)}); err != nil {
		t.Fatalf("InsertSavings() error = %v", err)
	}

	incomes, err := repo.ListIncomes(ctx, p.ID)
	if err != nil || len(incomes) != 1 {
		t.Fatalf("ListIncomes() = %v, %v", incomes, err)
	}
	got := incomes[0]
	if got.Currency != core.USD || !got.VATAmount.Valid || got.AmountBeforeVAT.Valid || !got.IsParent() || got.Frequency != core.Monthly {
		t.Errorf("income round trip = %+v", got)
	}
	debts, _ := repo.ListDebts(ctx, p.ID)
	if len(debts) != 1 || !debts[0].Money().Amount.Equal(dec("1500")) {
		t.Errorf("ListDebts() = %+v", debts)
	}
	bills, _ := repo.ListBills(ctx, p.ID)
	savings, _ := repo.ListSavings(ctx, p.ID)
	if len(bills) != 1 || len(savings) != 1 {
		t.Errorf("bills=%d savings=%d", len(bills), len(savings))
	}

	year, err := repo.QueryIncomes(ctx, ItemFilter{UserID: u.ID, Scope: core.ScopeBusiness, Year: 2025})
	if err != nil || len(year) != 1 {
		t.Errorf("QueryIncomes(2025) = %d, %v", len(year), err)
	}
	other, _ := repo.QueryIncomes(ctx, ItemFilter{UserID: u.ID, Year: 2024})
	personal, _ := repo.QueryIncomes(ctx, ItemFilter{UserID: u.ID, Scope: core.ScopePersonal})
	if len(other) != 0 || len(personal) != 0 {
		t.Errorf("filters leaked rows: 2024=%d personal=%d", len(other), len(personal))
	}
}

func createSignedInvoice(t *testing.T, repo *SQLiteRepository, userID string) core.Invoice {
	t.Helper()
	ctx := context.Background()
	c, err := repo.CreateClient(ctx, core.Client{Counterparty: core.Counterparty{UserID: userID, Name: "Acme"}})
	if err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	inv := core.Invoice{UserID: userID, ClientID: c.ID, Scope: core.ScopeBusiness, IssueDate: day(2025, 3, 10),
		Currency: core.ILS, VATRate: core.DefaultVATRate, Status: core.StatusDraft,
		Lines: []core.InvoiceLine{{Description: "work", Quantity: dec("2"), Price: dec("500")}}}
	inv.Price()
	created, err := repo.CreateInvoice(ctx, inv)
	if err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}
	signed, err := repo.SignInvoice(ctx, userID, created.ID, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SignInvoice() error = %v", err)
	}
	return signed
}

func TestInvoices(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := newTestUser(t, repo)

	inv := createSignedInvoice(t, repo, u.ID)
	if inv.Number != "1001" || inv.Status != core.StatusSigned || len(inv.DocumentHash) != 64 || inv.SignedAt == nil {
		t.Errorf("signed invoice = %+v", inv)
	}
	if !inv.Total.Equal(dec("1180")) || len(inv.Lines) != 1 || inv.Client == nil || inv.Client.Name != "Acme" {
		t.Errorf("invoice contents = %+v", inv)
	}
	if _, err := repo.SignInvoice(ctx, u.ID, inv.ID, time.Now()); !errors.Is(err, core.ErrInvoiceNotDraft) {
		t.Errorf("re-sign error = %v", err)
	}

	next, err := repo.NextInvoiceNumber(ctx, u.ID)
	if err != nil || next != "1002" {
		t.Errorf("NextInvoiceNumber() = %q, %v", next, err)
	}
	dup := inv
	dup.Status = core.StatusDraft
	if _, err := repo.CreateInvoice(ctx, dup); !errors.Is(err, core.ErrDuplicateNumber) {
		t.Errorf("duplicate number error = %v", err)
	}

	list, err := repo.ListInvoices(ctx, u.ID, core.ScopeBusiness, 2025)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListInvoices() = %d, %v", len(list), err)
	}
	if _, err := repo.GetInvoice(ctx, "someone-else", inv.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("foreign invoice error = %v", err)
	}

	if err := repo.MarkInvoicePaid(ctx, u.ID, inv.ID); err != nil {
		t.Fatalf("MarkInvoicePaid() error = %v", err)
	}
	if err := repo.MarkInvoicePaid(ctx, u.ID, inv.ID); !errors.Is(err, core.ErrInvoiceNotSigned) {
		t.Errorf("second MarkInvoicePaid() error = %v", err)
	}
}

func TestCreateCreditNote(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := newTestUser(t, repo)
	inv := createSignedInvoice(t, repo, u.ID)

	cn, reversal, err := repo.CreateCreditNote(ctx, u.ID, inv.ID, core.CreditNote{CreditAmount: dec("500"), Reason: "partial refund", IssueDate: day(2025, 4, 2)})
	if err != nil {
		t.Fatalf("CreateCreditNote() error = %v", err)
	}
	if cn.Number != "CN-1001" || !cn.VATAmount.Equal(dec("90")) || !cn.TotalCredit.Equal(dec("590")) || cn.DocumentHash != cn.Hash() {
		t.Errorf("credit note = %+v", cn)
	}
	if !reversal.Amount.Equal(dec("-590")) || reversal.InvoiceID != inv.ID {
		t.Errorf("reversal = %+v", reversal)
	}
	period, err := repo.GetPeriod(ctx, reversal.PeriodID)
	if err != nil || period.Scope != core.ScopeBusiness || period.YearMonth != ym(2025, 4) {
		t.Errorf("reversal period = %+v, %v", period, err)
	}

	if _, _, err := repo.CreateCreditNote(ctx, u.ID, inv.ID, core.CreditNote{CreditAmount: dec("500.01"), IssueDate: day(2025, 4, 3)}); !errors.Is(err, core.ErrCreditExceedsInvoice) {
		t.Errorf("over-credit error = %v", err)
	}
	second, _, err := repo.CreateCreditNote(ctx, u.ID, inv.ID, core.CreditNote{CreditAmount: dec("500"), IssueDate: day(2025, 4, 3)})
	if err != nil {
		t.Fatalf("crediting the remainder: %v", err)
	}
	if second.Number != "CN-1002" {
		t.Errorf("second number = %s", second.Number)
	}

	notes, err := repo.ListCreditNotes(ctx, u.ID)
	if err != nil || len(notes) != 2 || notes[0].Invoice == nil || notes[0].Invoice.Number != "1001" {
		t.Errorf("ListCreditNotes() = %+v, %v", notes, err)
	}
	got, err := repo.GetCreditNote(ctx, u.ID, cn.ID)
	if err != nil || got.Number != "CN-1001" {
		t.Errorf("GetCreditNote() = %+v, %v", got, err)
	}

	c, _ := repo.CreateClient(ctx, core.Client{Counterparty: core.Counterparty{UserID: u.ID, Name: "Draft Co"}})
	draft := core.Invoice{UserID: u.ID, ClientID: c.ID, Scope: core.ScopeBusiness, IssueDate: day(2025, 5, 1),
		Currency: core.ILS, VATRate: core.DefaultVATRate, Subtotal: dec("100"), Status: core.StatusDraft}
	draft.Price()
	draft, _ = repo.CreateInvoice(ctx, draft)
	if _, _, err := repo.CreateCreditNote(ctx, u.ID, draft.ID, core.CreditNote{CreditAmount: dec("10"), IssueDate: day(2025, 5, 2)}); !errors.Is(err, core.ErrInvoiceNotSigned) {
		t.Errorf("draft credit error = %v", err)
	}
}

func TestRecurringChildScope(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := newTestUser(t, repo)
	biz, _ := repo.EnsurePeriod(ctx, u.ID, core.ScopeBusiness, ym(2025, 1))
	bizFeb, _ := repo.EnsurePeriod(ctx, u.ID, core.ScopeBusiness, ym(2025, 2))
	personalFeb, _ := repo.EnsurePeriod(ctx, u.ID, core.ScopePersonal, ym(2025, 2))

	parent, err := repo.InsertExpense(ctx, core.Expense{PeriodID: biz.ID, Category: "software", Description: "hosting",
		Amount: dec("100"), Currency: core.ILS, Date: day(2025, 1, 15),
		Series: core.Series{Recurring: true, Start: day(2025, 1, 15), Frequency: core.Monthly}})
	if err != nil {
		t.Fatal(err)
	}

	child := parent
	child.ID, child.PeriodID, child.Date = "", personalFeb.ID, day(2025, 2, 15)
	if err := repo.InsertRecurringChild(ctx, parent.ID, child); !errors.Is(err, core.ErrScopeMismatch) {
		t.Fatalf("cross-scope child error = %v, want ErrScopeMismatch", err)
	}
	child.PeriodID = bizFeb.ID
	if err := repo.InsertRecurringChild(ctx, parent.ID, child); err != nil {
		t.Fatalf("InsertRecurringChild() error = %v", err)
	}
	has, err := repo.HasRecurringChild(ctx, core.KindExpense, parent.ID, ym(2025, 2))
	if err != nil || !has {
		t.Errorf("HasRecurringChild() = %v, %v", has, err)
	}

	parents, err := repo.RecurringParents(ctx)
	if err != nil || len(parents) != 1 {
		t.Fatalf("RecurringParents() = %+v, %v", parents, err)
	}
	if parents[0].Scope != core.ScopeBusiness || parents[0].UserID != u.ID || parents[0].Kind != core.KindExpense {
		t.Errorf("parent = %+v", parents[0])
	}

	n, err := repo.EndSeries(ctx, u.ID, core.KindExpense, parent.ID, ym(2025, 2))
	if err != nil || n != 1 {
		t.Errorf("EndSeries() = %d, %v", n, err)
	}
	if _, err := repo.EndSeries(ctx, "intruder", core.KindExpense, parent.ID, ym(2025, 2)); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("foreign EndSeries() error = %v", err)
	}
	if _, err := repo.EndSeries(ctx, u.ID, core.KindDebt, parent.ID, ym(2025, 2)); !errors.Is(err, core.ErrInvalidKind) {
		t.Errorf("debt EndSeries() error = %v", err)
	}
}

func TestScopeMismatchRepair(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := newTestUser(t, repo)
	biz, _ := repo.EnsurePeriod(ctx, u.ID, core.ScopeBusiness, ym(2025, 1))
	personalFeb, _ := repo.EnsurePeriod(ctx, u.ID, core.ScopePersonal, ym(2025, 2))

	parent, _ := repo.InsertBill(ctx, core.Bill{PeriodID: biz.ID, Name: "office", Amount: dec("900"), Currency: core.ILS, DueDay: 1,
		Series: core.Series{Recurring: true, Start: day(2025, 1, 1)}})
	// A leaked child written around the invariant, as legacy data would be.
	leaked := core.Bill{PeriodID: personalFeb.ID, Name: "office", Amount: dec("900"), Currency: core.ILS, DueDay: 1,
		Series: core.Series{Recurring: true, SourceID: parent.ID, Start: day(2025, 1, 1)}}
	leaked, err := insertBill(ctx, repo.db, leaked, repo.timestamp())
	if err != nil {
		t.Fatal(err)
	}

	ms, err := repo.ScopeMismatches(ctx)
	if err != nil || len(ms) != 1 {
		t.Fatalf("ScopeMismatches() = %+v, %v", ms, err)
	}
	m := ms[0]
	if m.ChildID != leaked.ID || m.ParentScope != core.ScopeBusiness || m.ChildScope != core.ScopePersonal || m.Month != ym(2025, 2) {
		t.Errorf("mismatch = %+v", m)
	}
	if err := repo.RepairScope(ctx, m); err != nil {
		t.Fatalf("RepairScope() error = %v", err)
	}
	if ms, _ := repo.ScopeMismatches(ctx); len(ms) != 0 {
		t.Errorf("mismatches after repair = %+v", ms)
	}
	bizFeb, _ := repo.EnsurePeriod(ctx, u.ID, core.ScopeBusiness, ym(2025, 2))
	bills, _ := repo.ListBills(ctx, bizFeb.ID)
	if len(bills) != 1 || bills[0].ID != leaked.ID {
		t.Errorf("repaired child not in business period: %+v", bills)
	}
}

func TestSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatal(err)
	}
	repo.Close()
	v, dirty, err := SchemaVersion(DSN(path))
	if err != nil || v != 1 || dirty {
		t.Errorf("SchemaVersion() = %d, %v, %v", v, dirty, err)
	}
}
