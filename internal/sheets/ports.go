// Package sheets defines the outbound port for the ledger mirror.
package sheets

import (
	"context"
	"strconv"

	"fintrack/internal/core"
)

// Ledger row kinds.
const (
	KindExpense = "expense"
	KindEarning = "earning"
)

// LedgerRow is one line of the mirrored ledger.
type LedgerRow struct {
	Date        core.Date
	Kind        string
	Category    string
	Amount      core.Money
	Description string
	UserID      int64
	EntityID    int64
}

// Header lists the column titles matching Values.
var Header = []string{"Date", "Kind", "Category", "Amount", "Description", "User", "Entity"}

// Values renders the row in Header order. Amounts are written as fixed
// two-decimal text so spreadsheets keep the exact value.
func (r LedgerRow) Values() []any {
	return []any{
		r.Date.String(),
		r.Kind,
		r.Category,
		r.Amount.StringFixed(2),
		r.Description,
		strconv.FormatInt(r.UserID, 10),
		strconv.FormatInt(r.EntityID, 10),
	}
}

// ExpenseRow builds the ledger row for an expense.
func ExpenseRow(e core.Expense) LedgerRow {
	return LedgerRow{
		Date:        e.Date,
		Kind:        KindExpense,
		Category:    string(e.Category),
		Amount:      e.Amount,
		Description: deref(e.Description),
		UserID:      e.UserID,
		EntityID:    e.ID,
	}
}

// EarningRow builds the ledger row for an earning.
func EarningRow(e core.Earning) LedgerRow {
	return LedgerRow{
		Date:        e.Date,
		Kind:        KindEarning,
		Category:    string(e.Category),
		Amount:      e.Amount,
		Description: deref(e.Description),
		UserID:      e.UserID,
		EntityID:    e.ID,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Ports for outbound adapters.
type (
	// LedgerWriter appends rows to the ledger and returns a reference to
	// where the row landed.
	LedgerWriter interface {
		AppendRow(ctx context.Context, row LedgerRow) (rowRef string, err error)
	}
)
