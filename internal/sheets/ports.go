// Package sheets mirrors ledger entries into a spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPermanent marks mirror failures that retrying cannot fix, such as a
// missing sheet or rejected credentials.
var ErrPermanent = errors.New("permanent mirror failure")

// Entry is one mirrored ledger row.
type Entry struct {
	EventID     string
	Type        string
	Kind        string
	ID          string
	UserID      string
	Scope       string
	Date        time.Time
	Description string
	Category    string
	Amount      decimal.Decimal
	Currency    string
}

func (e Entry) Validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return errors.New("entry without event id")
	case strings.TrimSpace(e.ID) == "":
		return fmt.Errorf("entry %s without entity id", e.EventID)
	case e.Date.IsZero():
		return fmt.Errorf("entry %s without date", e.EventID)
	}
	return nil
}

// Row is the entry as spreadsheet cells, date first.
func (e Entry) Row() []any {
	return []any{
		e.Date.Format("2006-01-02"),
		e.Kind,
		e.Type,
		e.Scope,
		e.Description,
		e.Category,
		e.Amount.StringFixed(2),
		e.Currency,
		e.ID,
		e.EventID,
	}
}

// Header names the columns of Row.
var Header = []any{"Date", "Kind", "Event", "Scope", "Description", "Category", "Amount", "Currency", "ID", "Event ID"}

// LedgerMirror appends entries to an external ledger copy.
type LedgerMirror interface {
	AppendEntry(ctx context.Context, e Entry) (rowRef string, err error)
}
