package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"kesefly/internal/cache"
	"kesefly/internal/core"
	"kesefly/internal/ledger"
	"kesefly/internal/log"
	"kesefly/internal/openformat"
	"kesefly/internal/pdf"
	"kesefly/internal/storage"
)

type ReportStore interface {
	ledger.ItemStore
	GetUser(ctx context.Context, id string) (core.User, error)
	QueryIncomes(ctx context.Context, f storage.ItemFilter) ([]core.Income, error)
	QueryExpenses(ctx context.Context, f storage.ItemFilter) ([]core.Expense, error)
	ListInvoices(ctx context.Context, userID string, scope core.Scope, year int) ([]core.Invoice, error)
	ListCreditNotes(ctx context.Context, userID string) ([]core.CreditNote, error)
	GetBusinessProfile(ctx context.Context, userID string) (core.BusinessProfile, error)
}

const (
	statsCacheSize = 1000
	statsCacheTTL  = 2 * time.Minute
	// StatsCurrency is the display currency of quick stats.
	StatsCurrency = "₪"
)

// QuickStats is the current month at a glance, in whole shekels.
type QuickStats struct {
	Month          int             `json:"month"`
	Year           int             `json:"year"`
	TotalIncome    decimal.Decimal `json:"totalIncome"`
	TotalExpenses  decimal.Decimal `json:"totalExpenses"`
	MonthlyBalance decimal.Decimal `json:"monthlyBalance"`
	AccountBalance decimal.Decimal `json:"accountBalance"`
	Currency       string          `json:"currency"`
}

// ReportService computes the read models: quick stats, net worth, profit
// and loss and the statutory export. Every computation draws a fresh
// normalizer so all amounts of one report share the same rates.
type ReportService struct {
	store      ReportStore
	normalizer func() ledger.Normalizer
	renderer   Renderer
	stats      *cache.LRUCache[QuickStats]
	logger     *log.Logger
	now        func() time.Time
}

// NewReportService wires the report use cases. renderer may be nil when
// PDF output is not available.
func NewReportService(store ReportStore, normalizer func() ledger.Normalizer, renderer Renderer, logger *log.Logger) *ReportService {
	if logger == nil {
		logger = log.Discard()
	}
	return &ReportService{
		store:      store,
		normalizer: normalizer,
		renderer:   renderer,
		stats:      cache.NewLRUCache[QuickStats](statsCacheSize, statsCacheTTL),
		logger:     logger.WithComponent(log.ComponentLedger),
		now:        time.Now,
	}
}

// Cache exposes the stats cache to the janitor.
func (s *ReportService) Cache() cache.Cleaner { return s.stats }

// Invalidate drops the user's cached stats of every scope and month.
func (s *ReportService) Invalidate(userID string) {
	s.stats.DeletePrefix("stats:" + userID + ":")
}

func statsKey(userID string, scope core.Scope, ym core.YearMonth) string {
	return "stats:" + userID + ":" + string(scope) + ":" + ym.String()
}

// QuickStats totals the current month. accountBalance is the running net
// worth through the current month.
func (s *ReportService) QuickStats(ctx context.Context, userID string, scope core.Scope) (QuickStats, error) {
	ym := core.YearMonthOf(s.now())
	key := statsKey(userID, scope, ym)
	if st, ok := s.stats.Get(key); ok {
		return st, nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return QuickStats{}, err
	}
	history, err := ledger.LoadHistory(ctx, s.store, userID, scope, ym)
	if err != nil {
		return QuickStats{}, err
	}

	n := s.normalizer()
	acc := ledger.NewAccumulator(user.Baseline.For(scope))
	var current ledger.PeriodTotals
	for _, pl := range history {
		totals, err := ledger.AggregatePeriod(ctx, n, pl.Items)
		if err != nil {
			return QuickStats{}, fmt.Errorf("aggregate %s: %w", pl.Period.YearMonth, err)
		}
		if _, err := acc.Apply(pl.Period, totals); err != nil {
			return QuickStats{}, err
		}
		if pl.Period.YearMonth.Compare(ym) == 0 {
			current = totals
		}
	}

	st := QuickStats{
		Month:          ym.Month,
		Year:           ym.Year,
		TotalIncome:    current.Income.Round(0),
		TotalExpenses:  current.Outflow().Round(0),
		MonthlyBalance: current.Income.Sub(current.Outflow()).Round(0),
		AccountBalance: acc.Balance().Round(0),
		Currency:       StatsCurrency,
	}
	s.stats.Set(key, st)
	return st, nil
}

// NetWorth returns the accumulated series through the given month. A
// scope without periods but with a baseline yields one point holding the
// baseline.
func (s *ReportService) NetWorth(ctx context.Context, userID string, scope core.Scope, through core.YearMonth) ([]ledger.Point, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	baseline := user.Baseline.For(scope)

	history, err := ledger.LoadHistory(ctx, s.store, userID, scope, through)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		if baseline.IsZero() {
			return []ledger.Point{}, nil
		}
		return []ledger.Point{{
			Month:               through.Month,
			Year:                through.Year,
			Opening:             baseline,
			AccumulatedNetWorth: baseline,
		}}, nil
	}
	return ledger.NetWorthSeries(ctx, s.normalizer(), baseline, history)
}

// ProfitLoss builds the yearly report of a scope.
func (s *ReportService) ProfitLoss(ctx context.Context, userID string, scope core.Scope, year int) (ledger.ProfitLoss, error) {
	docs := ledger.YearDocuments{Year: year, Scope: scope}
	filter := storage.ItemFilter{UserID: userID, Scope: scope, Year: year}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		docs.Invoices, err = s.store.ListInvoices(gctx, userID, scope, year)
		return err
	})
	g.Go(func() (err error) {
		docs.CreditNotes, err = s.store.ListCreditNotes(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		docs.Incomes, err = s.store.QueryIncomes(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		docs.Expenses, err = s.store.QueryExpenses(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return ledger.ProfitLoss{}, fmt.Errorf("load %d documents: %w", year, err)
	}

	report, err := ledger.ProfitAndLoss(ctx, s.normalizer(), docs)
	if err != nil {
		return ledger.ProfitLoss{}, err
	}
	s.logger.InfoContext(ctx, "Profit and loss computed",
		log.FieldUserID, userID,
		log.FieldScope, scope,
		log.FieldYear, year,
		"transactions", len(report.Transactions))
	return report, nil
}

func (s *ReportService) ProfitLossPDF(ctx context.Context, userID string, scope core.Scope, year int) (Document, error) {
	if s.renderer == nil {
		return Document{}, fmt.Errorf("pdf rendering: %w", core.ErrNotConfigured)
	}
	report, err := s.ProfitLoss(ctx, userID, scope, year)
	if err != nil {
		return Document{}, err
	}
	issuer, err := s.store.GetBusinessProfile(ctx, userID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return Document{}, err
	}
	html, err := pdf.ProfitLossHTML(issuer, report, s.now())
	if err != nil {
		return Document{}, err
	}
	content, err := s.renderer.Render(ctx, html)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	return Document{Filename: fmt.Sprintf("profit-loss-%d.pdf", year), Content: content}, nil
}

// OpenFormat generates the BKMVDATA pair of a year from the user's
// realised invoices and credit notes. A missing business profile is
// reported as openformat.ErrMissingTaxID.
func (s *ReportService) OpenFormat(ctx context.Context, userID string, year int) (openformat.Files, error) {
	issuer, err := s.store.GetBusinessProfile(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return openformat.Files{}, openformat.ErrMissingTaxID
	}
	if err != nil {
		return openformat.Files{}, err
	}
	invoices, err := s.store.ListInvoices(ctx, userID, "", year)
	if err != nil {
		return openformat.Files{}, err
	}
	credits, err := s.store.ListCreditNotes(ctx, userID)
	if err != nil {
		return openformat.Files{}, err
	}
	docs, err := openformat.Documents(ctx, s.normalizer(), year, invoices, credits)
	if err != nil {
		return openformat.Files{}, err
	}
	files, err := openformat.Generate(issuer, year, docs, s.now())
	if err != nil {
		return openformat.Files{}, core.FieldError(err)
	}
	s.logger.InfoContext(ctx, "Open format generated",
		log.FieldUserID, userID,
		log.FieldYear, year,
		"documents", len(docs))
	return files, nil
}
