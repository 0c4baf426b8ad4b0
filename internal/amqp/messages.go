package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kesefly/internal/core"
)

// EventType names what happened to a ledger entry.
type EventType string

const (
	EventCreated   EventType = "created"
	EventSigned    EventType = "signed"
	EventCancelled EventType = "cancelled"
)

// Document kinds carried in LedgerEvent.Kind next to the line item kinds.
const (
	KindInvoice    = "INVOICE"
	KindCreditNote = "CREDIT_NOTE"
)

// LedgerEvent describes one successful write. It carries everything the
// mirror worker needs so consumers never read the database.
type LedgerEvent struct {
	EventID     string          `json:"eventId"`
	Type        EventType       `json:"type"`
	Kind        string          `json:"kind"`
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Scope       core.Scope      `json:"scope"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    core.Currency   `json:"currency"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewLedgerEvent stamps a fresh event id and the current time.
func NewLedgerEvent(t EventType, kind, id, userID string, scope core.Scope) *LedgerEvent {
	return &LedgerEvent{
		EventID:   uuid.NewString(),
		Type:      t,
		Kind:      kind,
		ID:        id,
		UserID:    userID,
		Scope:     scope,
		Timestamp: time.Now().UTC(),
	}
}

// ExpenseEvent builds the created event of a stored expense.
func ExpenseEvent(userID string, scope core.Scope, e core.Expense) *LedgerEvent {
	ev := NewLedgerEvent(EventCreated, string(core.KindExpense), e.ID, userID, scope)
	ev.Date = e.Date.Format("2006-01-02")
	ev.Description = e.Description
	ev.Category = e.Category
	ev.Amount = e.Amount
	ev.Currency = e.Currency
	return ev
}

// IncomeEvent builds the created event of a stored income.
func IncomeEvent(userID string, scope core.Scope, i core.Income) *LedgerEvent {
	ev := NewLedgerEvent(EventCreated, string(core.KindIncome), i.ID, userID, scope)
	ev.Date = i.Date.Format("2006-01-02")
	ev.Description = i.Source
	ev.Category = i.Category
	ev.Amount = i.Amount
	ev.Currency = i.Currency
	return ev
}

// InvoiceEvent is published when an invoice is drafted or signed.
func InvoiceEvent(t EventType, inv core.Invoice) *LedgerEvent {
	ev := NewLedgerEvent(t, KindInvoice, inv.ID, inv.UserID, inv.Scope)
	ev.Date = inv.IssueDate.Format("2006-01-02")
	ev.Description = "חשבונית " + inv.Number
	if inv.Client != nil {
		ev.Description += " - " + inv.Client.Name
	}
	ev.Amount = inv.Total
	ev.Currency = inv.Currency
	return ev
}

// CreditNoteEvent carries the credit as a negative amount.
func CreditNoteEvent(cn core.CreditNote, currency core.Currency) *LedgerEvent {
	ev := NewLedgerEvent(EventSigned, KindCreditNote, cn.ID, cn.UserID, core.ScopeBusiness)
	ev.Date = cn.IssueDate.Format("2006-01-02")
	ev.Description = "זיכוי " + cn.Number
	ev.Category = cn.Reason
	ev.Amount = cn.TotalCredit.Neg()
	ev.Currency = currency
	return ev
}

// Validate rejects events a consumer cannot mirror.
func (m *LedgerEvent) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("event without entity id")
	case m.UserID == "":
		return fmt.Errorf("event %s without user", m.ID)
	case m.Kind == "":
		return fmt.Errorf("event %s without kind", m.ID)
	}
	return nil
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
