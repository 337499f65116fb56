package core

// Procedure inputs. Optional fields are pointers so that absence stays
// distinguishable from an invalid value.
type (
	CreateUserInput struct {
		Email string `json:"email" validate:"required,email"`
		Name  string `json:"name" validate:"required"`
	}

	CreateExpenseInput struct {
		UserID      int64           `json:"user_id" validate:"required"`
		Amount      Money           `json:"amount" validate:"money"`
		Category    ExpenseCategory `json:"category" validate:"required,expense_category"`
		Description *string         `json:"description"`
		Date        Date            `json:"date" validate:"required"`
	}

	ListExpensesInput struct {
		UserID    int64            `json:"user_id" validate:"required"`
		Category  *ExpenseCategory `json:"category" validate:"omitnil,expense_category"`
		StartDate *Date            `json:"start_date"`
		EndDate   *Date            `json:"end_date"`
	}

	CreateEarningInput struct {
		UserID      int64           `json:"user_id" validate:"required"`
		Amount      Money           `json:"amount" validate:"money"`
		Category    EarningCategory `json:"category" validate:"required,earning_category"`
		Description *string         `json:"description"`
		Date        Date            `json:"date" validate:"required"`
	}

	ListEarningsInput struct {
		UserID    int64            `json:"user_id" validate:"required"`
		Category  *EarningCategory `json:"category" validate:"omitnil,earning_category"`
		StartDate *Date            `json:"start_date"`
		EndDate   *Date            `json:"end_date"`
	}

	CreateBudgetInput struct {
		UserID   int64           `json:"user_id" validate:"required"`
		Category ExpenseCategory `json:"category" validate:"required,expense_category"`
		Amount   Money           `json:"amount" validate:"money"`
		Period   BudgetPeriod    `json:"period" validate:"required,budget_period"`
	}

	UpdateBudgetInput struct {
		ID     int64         `json:"id" validate:"required"`
		Amount *Money        `json:"amount" validate:"omitnil,money"`
		Period *BudgetPeriod `json:"period" validate:"omitnil,budget_period"`
	}

	ListBudgetsInput struct {
		UserID int64 `json:"userId" validate:"required"`
	}

	DashboardInput struct {
		UserID    int64 `json:"user_id" validate:"required"`
		StartDate *Date `json:"start_date"`
		EndDate   *Date `json:"end_date"`
	}
)
