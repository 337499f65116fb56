package core

import (
	"time"
)

const (
	ExpenseFood          ExpenseCategory = "food"
	ExpenseTransport     ExpenseCategory = "transport"
	ExpenseTuition       ExpenseCategory = "tuition"
	ExpenseEntertainment ExpenseCategory = "entertainment"
	ExpenseRent          ExpenseCategory = "rent"
	ExpenseOther         ExpenseCategory = "other"
)

const (
	EarningSalary           EarningCategory = "salary"
	EarningScholarship      EarningCategory = "scholarship"
	EarningParentsAllowance EarningCategory = "parents_allowance"
	EarningFreelance        EarningCategory = "freelance"
	EarningOther            EarningCategory = "other"
)

const (
	Weekly  BudgetPeriod = "weekly"
	Monthly BudgetPeriod = "monthly"
	Yearly  BudgetPeriod = "yearly"
)

type (
	ExpenseCategory string
	EarningCategory string
	BudgetPeriod    string

	User struct {
		ID        int64     `json:"id"`
		Email     string    `json:"email"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
	}

	Expense struct {
		ID          int64           `json:"id"`
		UserID      int64           `json:"user_id"`
		Amount      Money           `json:"amount"`
		Category    ExpenseCategory `json:"category"`
		Description *string         `json:"description"`
		Date        Date            `json:"date"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	Earning struct {
		ID          int64           `json:"id"`
		UserID      int64           `json:"user_id"`
		Amount      Money           `json:"amount"`
		Category    EarningCategory `json:"category"`
		Description *string         `json:"description"`
		Date        Date            `json:"date"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	// Budget is a spending cap for one expense category over a period.
	Budget struct {
		ID        int64           `json:"id"`
		UserID    int64           `json:"user_id"`
		Category  ExpenseCategory `json:"category"`
		Amount    Money           `json:"amount"`
		Period    BudgetPeriod    `json:"period"`
		CreatedAt time.Time       `json:"created_at"`
		UpdatedAt time.Time       `json:"updated_at"`
	}
)

var (
	expenseCategories = []ExpenseCategory{
		ExpenseFood, ExpenseTransport, ExpenseTuition, ExpenseEntertainment, ExpenseRent, ExpenseOther,
	}
	earningCategories = []EarningCategory{
		EarningSalary, EarningScholarship, EarningParentsAllowance, EarningFreelance, EarningOther,
	}
	budgetPeriods = []BudgetPeriod{Weekly, Monthly, Yearly}
)

// ExpenseCategories returns the closed set of expense categories in declaration order.
func ExpenseCategories() []ExpenseCategory {
	return append([]ExpenseCategory(nil), expenseCategories...)
}

func EarningCategories() []EarningCategory {
	return append([]EarningCategory(nil), earningCategories...)
}

func BudgetPeriods() []BudgetPeriod {
	return append([]BudgetPeriod(nil), budgetPeriods...)
}

func (c ExpenseCategory) Valid() bool {
	for _, v := range expenseCategories {
		if c == v {
			return true
		}
	}
	return false
}

func (c EarningCategory) Valid() bool {
	for _, v := range earningCategories {
		if c == v {
			return true
		}
	}
	return false
}

func (p BudgetPeriod) Valid() bool {
	for _, v := range budgetPeriods {
		if p == v {
			return true
		}
	}
	return false
}
