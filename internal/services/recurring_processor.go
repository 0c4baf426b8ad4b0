package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kesefly/internal/amqp"
	"kesefly/internal/core"
	"kesefly/internal/log"
	"kesefly/internal/storage"
)

type RecurringStore interface {
	RecurringParents(ctx context.Context) ([]storage.RecurringParent, error)
	HasRecurringChild(ctx context.Context, kind core.ItemKind, parentID string, ym core.YearMonth) (bool, error)
	EnsurePeriod(ctx context.Context, userID string, scope core.Scope, ym core.YearMonth) (core.Period, error)
	InsertRecurringChild(ctx context.Context, parentID string, child core.LineItem) error
	ScopeMismatches(ctx context.Context) ([]storage.ScopeMismatch, error)
	RepairScope(ctx context.Context, m storage.ScopeMismatch) error
	EndSeries(ctx context.Context, userID string, kind core.ItemKind, parentID string, from core.YearMonth) (int64, error)
}

// RecurringProcessor materialises recurring series into their due months.
type RecurringProcessor struct {
	store RecurringStore
	notifier
}

func NewRecurringProcessor(store RecurringStore, events amqp.Publisher, cache Invalidator, logger *log.Logger) *RecurringProcessor {
	if logger == nil {
		logger = log.Discard()
	}
	return &RecurringProcessor{
		store:    store,
		notifier: newNotifier(events, cache, logger.WithComponent(log.ComponentRecurring)),
	}
}

// ProcessDue creates one child per due month of every series, from the
// month after the parent's period through the month of now. Children are
// always placed in a period of the parent's scope. A failing series is
// logged and skipped; the count of created children is returned.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	parents, err := p.store.RecurringParents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list recurring series: %w", err)
	}
	through := core.YearMonthOf(now)

	p.logger.InfoContext(ctx, "Processing recurring series",
		"total_active", len(parents),
		log.FieldPeriod, through.String())

	created := 0
	for _, parent := range parents {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		n, err := p.materialise(ctx, parent, through)
		created += n
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to materialise recurring series",
				log.FieldKind, parent.Kind,
				log.FieldItemID, parent.ID,
				log.FieldUserID, parent.UserID,
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeDatabase)
		}
	}

	p.logger.InfoContext(ctx, "Recurring processing complete",
		"created", created,
		"total_checked", len(parents))
	return created, nil
}

func (p *RecurringProcessor) materialise(ctx context.Context, parent storage.RecurringParent, through core.YearMonth) (int, error) {
	checker, err := GetDuenessChecker(parent.Series.Frequency)
	if err != nil {
		return 0, err
	}
	start := parent.Period
	if !parent.Series.Start.IsZero() {
		start = core.YearMonthOf(parent.Series.Start)
	}
	startDate := parent.Series.Start
	if startDate.IsZero() {
		startDate = parent.Period.FirstDay()
	}

	first := parent.Period.Next()
	if first.Before(start) {
		first = start
	}

	created := 0
	for m := first; !m.After(through); m = m.Next() {
		if !parent.Series.End.IsZero() && m.After(core.YearMonthOf(parent.Series.End)) {
			break
		}
		if !checker.IsDue(start, m) {
			continue
		}
		exists, err := p.store.HasRecurringChild(ctx, parent.Kind, parent.ID, m)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		period, err := p.store.EnsurePeriod(ctx, parent.UserID, parent.Scope, m)
		if err != nil {
			return created, fmt.Errorf("ensure period %s: %w", m, err)
		}
		date := occurrenceDate(startDate, m)
		child, err := childOf(parent, period.ID, date)
		if err != nil {
			return created, err
		}
		if err := p.store.InsertRecurringChild(ctx, parent.ID, child); err != nil {
			return created, fmt.Errorf("insert child for %s: %w", m, err)
		}
		created++
		p.logger.InfoContext(ctx, "Created recurring child",
			log.FieldKind, parent.Kind,
			log.FieldItemID, parent.ID,
			log.FieldScope, parent.Scope,
			log.FieldPeriod, m.String(),
			log.FieldAmount, child.Money().Amount.String())
		p.written(ctx, parent.UserID, childEvent(parent, child, date))
	}
	return created, nil
}

// childOf copies the parent item into a period under a new ID, keeping
// the series fields and linking it to the parent.
func childOf(parent storage.RecurringParent, periodID string, date time.Time) (core.LineItem, error) {
	series := parent.Series
	series.SourceID = parent.ID
	id := uuid.NewString()
	switch v := parent.Item.(type) {
	case core.Income:
		v.ID, v.PeriodID, v.Date, v.Series = id, periodID, date, series
		return v, nil
	case core.Expense:
		v.ID, v.PeriodID, v.Date, v.Series = id, periodID, date, series
		return v, nil
	case core.Bill:
		v.ID, v.PeriodID, v.IsPaid, v.Series = id, periodID, false, series
		return v, nil
	case core.SavingsDeposit:
		v.ID, v.PeriodID, v.Date, v.Series = id, periodID, date, series
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s cannot recur", core.ErrInvalidKind, parent.Kind)
}

func childEvent(parent storage.RecurringParent, child core.LineItem, date time.Time) *amqp.LedgerEvent {
	switch v := child.(type) {
	case core.Income:
		return amqp.IncomeEvent(parent.UserID, parent.Scope, v)
	case core.Expense:
		return amqp.ExpenseEvent(parent.UserID, parent.Scope, v)
	case core.Bill:
		ev := amqp.NewLedgerEvent(amqp.EventCreated, string(core.KindBill), v.ID, parent.UserID, parent.Scope)
		ev.Date = date.Format("2006-01-02")
		ev.Description, ev.Amount, ev.Currency = v.Name, v.Amount, v.Currency
		return ev
	case core.SavingsDeposit:
		ev := amqp.NewLedgerEvent(amqp.EventCreated, string(core.KindSavings), v.ID, parent.UserID, parent.Scope)
		ev.Date = date.Format("2006-01-02")
		ev.Description, ev.Amount, ev.Currency = v.Name, v.MonthlyDeposit, v.Currency
		return ev
	}
	return nil
}

// AuditReport lists children found outside their parent's scope.
type AuditReport struct {
	Mismatches []storage.ScopeMismatch
	Repaired   int
}

// Audit finds recurring children whose period scope differs from their
// parent's and, when fix is set, moves them into the parent's scope.
func (p *RecurringProcessor) Audit(ctx context.Context, fix bool) (AuditReport, error) {
	mismatches, err := p.store.ScopeMismatches(ctx)
	if err != nil {
		return AuditReport{}, fmt.Errorf("find scope mismatches: %w", err)
	}
	report := AuditReport{Mismatches: mismatches}
	for _, m := range mismatches {
		p.logger.WarnContext(ctx, "Recurring child outside parent scope",
			log.FieldKind, m.Kind,
			log.FieldItemID, m.ChildID,
			"parent_id", m.ParentID,
			log.FieldUserID, m.UserID,
			"child_scope", m.ChildScope,
			"parent_scope", m.ParentScope,
			log.FieldPeriod, m.Month.String())
		if !fix {
			continue
		}
		if err := p.store.RepairScope(ctx, m); err != nil {
			return report, fmt.Errorf("repair %s %s: %w", m.Kind, m.ChildID, err)
		}
		report.Repaired++
		p.written(ctx, m.UserID, nil)
	}
	return report, nil
}

// CancelSeries ends a series before the month from and deletes the
// children already created for from or later.
func (p *RecurringProcessor) CancelSeries(ctx context.Context, userID string, kind core.ItemKind, parentID string, from core.YearMonth) (int64, error) {
	if err := from.Validate(); err != nil {
		return 0, core.FieldError(err)
	}
	deleted, err := p.store.EndSeries(ctx, userID, kind, parentID, from)
	if errors.Is(err, core.ErrInvalidKind) {
		return 0, core.NewValidationError("kind", err.Error())
	}
	if err != nil {
		return 0, err
	}
	p.logger.InfoContext(ctx, "Recurring series cancelled",
		log.FieldKind, kind,
		log.FieldItemID, parentID,
		log.FieldUserID, userID,
		log.FieldPeriod, from.String(),
		"deleted", deleted)

	ev := amqp.NewLedgerEvent(amqp.EventCancelled, string(kind), parentID, userID, "")
	ev.Date = from.FirstDay().Format("2006-01-02")
	p.written(ctx, userID, ev)
	return deleted, nil
}
