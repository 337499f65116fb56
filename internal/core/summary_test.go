package core

import (
	"encoding/json"
	"testing"
)

func TestBuildDashboard(t *testing.T) {
	expenses := []Expense{
		{ID: 1, Amount: MustMoney("30"), Category: ExpenseFood, Date: NewDate(2024, 1, 5)},
		{ID: 2, Amount: MustMoney("20"), Category: ExpenseFood, Date: NewDate(2024, 2, 1)},
	}
	earnings := []Earning{
		{ID: 1, Amount: MustMoney("500"), Category: EarningSalary, Date: NewDate(2024, 1, 10)},
	}

	got := BuildDashboard(expenses, earnings)

	if len(got.SpendingByCategory) != 1 {
		t.Fatalf("expected one category, got %+v", got.SpendingByCategory)
	}
	if c := got.SpendingByCategory[0]; c.Category != ExpenseFood || c.Amount.String() != "50.00" {
		t.Fatalf("unexpected category row %+v", c)
	}

	want := []struct{ month, income, expenses string }{
		{"2024-01", "500.00", "30.00"},
		{"2024-02", "0.00", "20.00"},
	}
	if len(got.MonthlyIncomeVsExpenses) != len(want) {
		t.Fatalf("expected %d months, got %+v", len(want), got.MonthlyIncomeVsExpenses)
	}
	for i, w := range want {
		m := got.MonthlyIncomeVsExpenses[i]
		if m.Month != w.month || m.Income.String() != w.income || m.Expenses.String() != w.expenses {
			t.Fatalf("month %d: got %+v, want %+v", i, m, w)
		}
	}
}

func TestBuildDashboardOrdering(t *testing.T) {
	expenses := []Expense{
		{Amount: MustMoney("1"), Category: ExpenseTransport, Date: NewDate(2024, 3, 1)},
		{Amount: MustMoney("2"), Category: ExpenseEntertainment, Date: NewDate(2023, 12, 31)},
		{Amount: MustMoney("3"), Category: ExpenseTransport, Date: NewDate(2024, 1, 1)},
	}
	earnings := []Earning{
		{Amount: MustMoney("9"), Category: EarningFreelance, Date: NewDate(2024, 2, 14)},
	}

	got := BuildDashboard(expenses, earnings)

	cats := []ExpenseCategory{ExpenseEntertainment, ExpenseTransport}
	for i, c := range cats {
		if got.SpendingByCategory[i].Category != c {
			t.Fatalf("category %d: got %s want %s", i, got.SpendingByCategory[i].Category, c)
		}
	}
	if got.SpendingByCategory[1].Amount.String() != "4.00" {
		t.Fatalf("transport total %s", got.SpendingByCategory[1].Amount)
	}

	months := []string{"2023-12", "2024-01", "2024-02", "2024-03"}
	for i, m := range months {
		if got.MonthlyIncomeVsExpenses[i].Month != m {
			t.Fatalf("month %d: got %s want %s", i, got.MonthlyIncomeVsExpenses[i].Month, m)
		}
	}
	if feb := got.MonthlyIncomeVsExpenses[2]; feb.Expenses.String() != "0.00" || feb.Income.String() != "9.00" {
		t.Fatalf("unexpected february %+v", feb)
	}
}

func TestBuildDashboardEmptyEncodesArrays(t *testing.T) {
	b, err := json.Marshal(BuildDashboard(nil, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"spending_by_category":[],"monthly_income_vs_expenses":[]}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}
