// Package storage defines the persistence port shared by every backend.
package storage

import (
	"context"
	"time"

	"fintrack/internal/core"
)

type (
	NewUser struct {
		Email     string
		Name      string
		CreatedAt time.Time
	}

	NewExpense struct {
		UserID      int64
		Amount      core.Money
		Category    core.ExpenseCategory
		Description *string
		Date        core.Date
		CreatedAt   time.Time
	}

	NewEarning struct {
		UserID      int64
		Amount      core.Money
		Category    core.EarningCategory
		Description *string
		Date        core.Date
		CreatedAt   time.Time
	}

	// NewBudget starts with UpdatedAt equal to CreatedAt.
	NewBudget struct {
		UserID    int64
		Category  core.ExpenseCategory
		Amount    core.Money
		Period    core.BudgetPeriod
		CreatedAt time.Time
	}

	// BudgetUpdate leaves nil fields untouched. UpdatedAt is always written.
	BudgetUpdate struct {
		ID        int64
		Amount    *core.Money
		Period    *core.BudgetPeriod
		UpdatedAt time.Time
	}

	// DateRange bounds are inclusive; a nil bound is open.
	DateRange struct {
		Start *core.Date
		End   *core.Date
	}

	ExpenseFilter struct {
		UserID   int64
		Category *core.ExpenseCategory
		Range    DateRange
	}

	EarningFilter struct {
		UserID   int64
		Category *core.EarningCategory
		Range    DateRange
	}
)

// Repository persists the four finance entities. Lists are ordered by
// date then id for expenses and earnings and by id otherwise.
//
// Implementations return *core.Error values: NotFound for missing rows or
// unknown owners, Conflict for a duplicate email and Storage for anything else.
type Repository interface {
	CreateUser(ctx context.Context, u NewUser) (core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)
	// DeleteUser removes a user together with everything it owns.
	DeleteUser(ctx context.Context, id int64) error

	CreateExpense(ctx context.Context, e NewExpense) (core.Expense, error)
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	ListExpenses(ctx context.Context, f ExpenseFilter) ([]core.Expense, error)

	CreateEarning(ctx context.Context, e NewEarning) (core.Earning, error)
	GetEarning(ctx context.Context, id int64) (core.Earning, error)
	ListEarnings(ctx context.Context, f EarningFilter) ([]core.Earning, error)

	CreateBudget(ctx context.Context, b NewBudget) (core.Budget, error)
	UpdateBudget(ctx context.Context, u BudgetUpdate) (core.Budget, error)
	ListBudgets(ctx context.Context, userID int64) ([]core.Budget, error)

	Dashboard(ctx context.Context, userID int64, r DateRange) (core.DashboardData, error)

	Ping(ctx context.Context) error
	Close() error
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d core.Date) bool {
	if r.Start != nil && d.Before(r.Start.Time) {
		return false
	}
	if r.End != nil && d.After(r.End.Time) {
		return false
	}
	return true
}
