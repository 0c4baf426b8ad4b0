package services

import (
	"context"
	"fmt"

	"kesefly/internal/core"
	"kesefly/internal/export"
	"kesefly/internal/log"
	"kesefly/internal/storage"
)

type ExportStore interface {
	ListClients(ctx context.Context, userID string) ([]core.Client, error)
	ListSuppliers(ctx context.Context, userID string) ([]core.Supplier, error)
	QueryIncomes(ctx context.Context, f storage.ItemFilter) ([]core.Income, error)
	QueryExpenses(ctx context.Context, f storage.ItemFilter) ([]core.Expense, error)
	ListInvoices(ctx context.Context, userID string, scope core.Scope, year int) ([]core.Invoice, error)
}

// ExportService builds the downloadable entity tables.
type ExportService struct {
	store  ExportStore
	logger *log.Logger
}

func NewExportService(store ExportStore, logger *log.Logger) *ExportService {
	if logger == nil {
		logger = log.Discard()
	}
	return &ExportService{store: store, logger: logger.WithComponent(log.ComponentExport)}
}

// Table loads one entity list of the user. scope and year narrow incomes,
// expenses and invoices; their zero values select everything.
func (s *ExportService) Table(ctx context.Context, userID, entity string, scope core.Scope, year int) (export.Table, error) {
	filter := storage.ItemFilter{UserID: userID, Scope: scope, Year: year}

	var t export.Table
	switch entity {
	case export.EntityClients:
		rows, err := s.store.ListClients(ctx, userID)
		if err != nil {
			return export.Table{}, err
		}
		t = export.ClientsTable(rows)
	case export.EntitySuppliers:
		rows, err := s.store.ListSuppliers(ctx, userID)
		if err != nil {
			return export.Table{}, err
		}
		t = export.SuppliersTable(rows)
	case export.EntityIncomes:
		rows, err := s.store.QueryIncomes(ctx, filter)
		if err != nil {
			return export.Table{}, err
		}
		t = export.IncomesTable(rows)
	case export.EntityExpenses:
		rows, err := s.store.QueryExpenses(ctx, filter)
		if err != nil {
			return export.Table{}, err
		}
		t = export.ExpensesTable(rows)
	case export.EntityInvoices:
		rows, err := s.store.ListInvoices(ctx, userID, scope, year)
		if err != nil {
			return export.Table{}, err
		}
		t = export.InvoicesTable(rows)
	default:
		return export.Table{}, core.NewValidationError("entity", fmt.Sprintf("unknown export entity %q", entity))
	}

	s.logger.InfoContext(ctx, "Entity export built",
		log.FieldUserID, userID,
		log.FieldKind, entity,
		log.FieldOperation, log.OpExport,
		"rows", len(t.Rows))
	return t, nil
}
