package core

import (
	"sort"
)

// CategoryAmount is the summed spending of one expense category.
type CategoryAmount struct {
	Category ExpenseCategory `json:"category"`
	Amount   Money           `json:"amount"`
}

// MonthlyComparison compares income and spending of one calendar month.
type MonthlyComparison struct {
	Month    string `json:"month"` // YYYY-MM
	Income   Money  `json:"income"`
	Expenses Money  `json:"expenses"`
}

type DashboardData struct {
	SpendingByCategory      []CategoryAmount    `json:"spending_by_category"`
	MonthlyIncomeVsExpenses []MonthlyComparison `json:"monthly_income_vs_expenses"`
}

// BuildDashboard aggregates already filtered rows. Categories are ordered by
// name and months chronologically; empty groups are omitted.
func BuildDashboard(expenses []Expense, earnings []Earning) DashboardData {
	byCategory := make(map[ExpenseCategory]Money)
	byMonth := make(map[string]*MonthlyComparison)

	month := func(key string) *MonthlyComparison {
		m, ok := byMonth[key]
		if !ok {
			m = &MonthlyComparison{Month: key}
			byMonth[key] = m
		}
		return m
	}

	for _, e := range expenses {
		byCategory[e.Category] = byCategory[e.Category].Add(e.Amount)
		m := month(e.Date.MonthKey())
		m.Expenses = m.Expenses.Add(e.Amount)
	}
	for _, e := range earnings {
		m := month(e.Date.MonthKey())
		m.Income = m.Income.Add(e.Amount)
	}

	out := DashboardData{
		SpendingByCategory:      make([]CategoryAmount, 0, len(byCategory)),
		MonthlyIncomeVsExpenses: make([]MonthlyComparison, 0, len(byMonth)),
	}
	for c, amount := range byCategory {
		out.SpendingByCategory = append(out.SpendingByCategory, CategoryAmount{Category: c, Amount: amount})
	}
	sort.Slice(out.SpendingByCategory, func(i, j int) bool {
		return out.SpendingByCategory[i].Category < out.SpendingByCategory[j].Category
	})
	for _, m := range byMonth {
		out.MonthlyIncomeVsExpenses = append(out.MonthlyIncomeVsExpenses, *m)
	}
	sort.Slice(out.MonthlyIncomeVsExpenses, func(i, j int) bool {
		return out.MonthlyIncomeVsExpenses[i].Month < out.MonthlyIncomeVsExpenses[j].Month
	})
	return out
}

// Normalize replaces nil slices so the data always encodes as JSON arrays.
func (d DashboardData) Normalize() DashboardData {
	if d.SpendingByCategory == nil {
		d.SpendingByCategory = []CategoryAmount{}
	}
	if d.MonthlyIncomeVsExpenses == nil {
		d.MonthlyIncomeVsExpenses = []MonthlyComparison{}
	}
	return d
}
