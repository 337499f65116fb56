// Package storagetest holds the behavioural suite every storage.Repository
// implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// Factory returns an empty repository. It is called once per subtest.
type Factory func(t *testing.T) storage.Repository

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Run exercises repo constraints, filters, ordering and aggregation.
func Run(t *testing.T, newRepo Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, r storage.Repository)
	}{
		{"UserRoundTrip", testUserRoundTrip},
		{"DuplicateEmail", testDuplicateEmail},
		{"UnknownOwner", testUnknownOwner},
		{"ExpenseFilters", testExpenseFilters},
		{"EarningFilters", testEarningFilters},
		{"GetByID", testGetByID},
		{"BudgetUpdate", testBudgetUpdate},
		{"BudgetsAllowDuplicates", testBudgetsAllowDuplicates},
		{"Dashboard", testDashboard},
		{"CascadeDelete", testCascadeDelete},
		{"RepeatedReadsAgree", testRepeatedReadsAgree},
		{"TimestampsAreUTC", testTimestampsAreUTC},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRepo(t)
			t.Cleanup(func() { _ = r.Close() })
			tc.fn(t, r)
		})
	}
}

func mustUser(t *testing.T, r storage.Repository, email string) core.User {
	t.Helper()
	u, err := r.CreateUser(context.Background(), storage.NewUser{Email: email, Name: "Test", CreatedAt: base})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func mustExpense(t *testing.T, r storage.Repository, userID int64, amount string, c core.ExpenseCategory, d core.Date) core.Expense {
	t.Helper()
	e, err := r.CreateExpense(context.Background(), storage.NewExpense{
		UserID: userID, Amount: core.MustMoney(amount), Category: c, Date: d, CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	return e
}

func mustEarning(t *testing.T, r storage.Repository, userID int64, amount string, c core.EarningCategory, d core.Date) core.Earning {
	t.Helper()
	e, err := r.CreateEarning(context.Background(), storage.NewEarning{
		UserID: userID, Amount: core.MustMoney(amount), Category: c, Date: d, CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("create earning: %v", err)
	}
	return e
}

func testUserRoundTrip(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	a := mustUser(t, r, "a@example.com")
	b := mustUser(t, r, "b@example.com")
	if a.ID == 0 || b.ID <= a.ID {
		t.Fatalf("ids not assigned in order: %d %d", a.ID, b.ID)
	}
	if !a.CreatedAt.Equal(base) {
		t.Fatalf("created_at %v want %v", a.CreatedAt, base)
	}

	users, err := r.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 || users[0].Email != "a@example.com" || users[1].Email != "b@example.com" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func testDuplicateEmail(t *testing.T, r storage.Repository) {
	mustUser(t, r, "dup@example.com")
	_, err := r.CreateUser(context.Background(), storage.NewUser{Email: "dup@example.com", Name: "Again", CreatedAt: base})
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	users, _ := r.ListUsers(context.Background())
	if len(users) != 1 {
		t.Fatalf("duplicate must not be stored, got %d users", len(users))
	}
}

func testUnknownOwner(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	_, err := r.CreateExpense(ctx, storage.NewExpense{
		UserID: 999, Amount: core.MustMoney("1"), Category: core.ExpenseFood, Date: core.NewDate(2024, 1, 1), CreatedAt: base,
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expense: expected not found, got %v", err)
	}
	_, err = r.CreateEarning(ctx, storage.NewEarning{
		UserID: 999, Amount: core.MustMoney("1"), Category: core.EarningSalary, Date: core.NewDate(2024, 1, 1), CreatedAt: base,
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("earning: expected not found, got %v", err)
	}
	_, err = r.CreateBudget(ctx, storage.NewBudget{
		UserID: 999, Amount: core.MustMoney("1"), Category: core.ExpenseFood, Period: core.Monthly, CreatedAt: base,
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("budget: expected not found, got %v", err)
	}
}

func testExpenseFilters(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	u := mustUser(t, r, "f@example.com")
	other := mustUser(t, r, "other@example.com")

	e3 := mustExpense(t, r, u.ID, "12.50", core.ExpenseFood, core.NewDate(2024, 3, 1))
	e1 := mustExpense(t, r, u.ID, "5", core.ExpenseRent, core.NewDate(2024, 1, 1))
	e2 := mustExpense(t, r, u.ID, "7.25", core.ExpenseFood, core.NewDate(2024, 1, 31))
	e4 := mustExpense(t, r, u.ID, "1", core.ExpenseFood, core.NewDate(2024, 1, 31))
	mustExpense(t, r, other.ID, "99", core.ExpenseFood, core.NewDate(2024, 1, 15))

	all, err := r.ListExpenses(ctx, storage.ExpenseFilter{UserID: u.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	assertIDs(t, "all", expenseIDs(all), []int64{e1.ID, e2.ID, e4.ID, e3.ID})
	if all[3].Amount.String() != "12.50" || all[3].Description != nil {
		t.Fatalf("unexpected row %+v", all[3])
	}

	food := core.ExpenseFood
	start, end := core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31)
	got, err := r.ListExpenses(ctx, storage.ExpenseFilter{
		UserID: u.ID, Category: &food, Range: storage.DateRange{Start: &start, End: &end},
	})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	assertIDs(t, "food in january", expenseIDs(got), []int64{e2.ID, e4.ID})

	got, _ = r.ListExpenses(ctx, storage.ExpenseFilter{UserID: u.ID, Range: storage.DateRange{Start: &end}})
	assertIDs(t, "from jan 31", expenseIDs(got), []int64{e2.ID, e4.ID, e3.ID})

	none, _ := r.ListExpenses(ctx, storage.ExpenseFilter{UserID: 12345})
	if none == nil || len(none) != 0 {
		t.Fatalf("unknown user must yield an empty list, got %v", none)
	}
}

func testEarningFilters(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	u := mustUser(t, r, "earn@example.com")
	desc := "march invoice"

	e1 := mustEarning(t, r, u.ID, "500", core.EarningSalary, core.NewDate(2024, 1, 10))
	e2, err := r.CreateEarning(ctx, storage.NewEarning{
		UserID: u.ID, Amount: core.MustMoney("120.40"), Category: core.EarningFreelance,
		Description: &desc, Date: core.NewDate(2024, 3, 2), CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("create earning: %v", err)
	}
	if e2.Description == nil || *e2.Description != desc {
		t.Fatalf("description not stored: %+v", e2)
	}

	salary := core.EarningSalary
	got, err := r.ListEarnings(ctx, storage.EarningFilter{UserID: u.ID, Category: &salary})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != e1.ID {
		t.Fatalf("unexpected salary earnings %+v", got)
	}

	end := core.NewDate(2024, 2, 29)
	got, _ = r.ListEarnings(ctx, storage.EarningFilter{UserID: u.ID, Range: storage.DateRange{End: &end}})
	if len(got) != 1 || got[0].ID != e1.ID {
		t.Fatalf("unexpected earnings before march %+v", got)
	}
}

func testGetByID(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	u := mustUser(t, r, "get@example.com")
	e := mustExpense(t, r, u.ID, "3.30", core.ExpenseTransport, core.NewDate(2024, 5, 5))

	got, err := r.GetExpense(ctx, e.ID)
	if err != nil {
		t.Fatalf("get expense: %v", err)
	}
	if got.UserID != u.ID || got.Category != core.ExpenseTransport || got.Date.String() != "2024-05-05" {
		t.Fatalf("unexpected expense %+v", got)
	}
	if _, err := r.GetExpense(ctx, e.ID+100); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.GetEarning(ctx, 4242); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testBudgetUpdate(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	u := mustUser(t, r, "budget@example.com")
	b, err := r.CreateBudget(ctx, storage.NewBudget{
		UserID: u.ID, Category: core.ExpenseFood, Amount: core.MustMoney("300"), Period: core.Monthly, CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	if !b.UpdatedAt.Equal(b.CreatedAt) {
		t.Fatalf("fresh budget must have updated_at == created_at: %+v", b)
	}

	later := base.Add(time.Minute)
	amount := core.MustMoney("350.75")
	updated, err := r.UpdateBudget(ctx, storage.BudgetUpdate{ID: b.ID, Amount: &amount, UpdatedAt: later})
	if err != nil {
		t.Fatalf("update budget: %v", err)
	}
	if updated.Amount.String() != "350.75" || updated.Period != core.Monthly || updated.Category != core.ExpenseFood {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if !updated.UpdatedAt.Equal(later) || !updated.CreatedAt.Equal(base) {
		t.Fatalf("timestamps not handled: %+v", updated)
	}

	period := core.Yearly
	updated, err = r.UpdateBudget(ctx, storage.BudgetUpdate{ID: b.ID, Period: &period, UpdatedAt: later.Add(time.Minute)})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if updated.Amount.String() != "350.75" || updated.Period != core.Yearly {
		t.Fatalf("omitted fields must be kept: %+v", updated)
	}

	budgets, err := r.ListBudgets(ctx, u.ID)
	if err != nil || len(budgets) != 1 || budgets[0].Period != core.Yearly {
		t.Fatalf("unexpected budgets %+v err=%v", budgets, err)
	}

	if _, err := r.UpdateBudget(ctx, storage.BudgetUpdate{ID: b.ID + 100, UpdatedAt: later}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testBudgetsAllowDuplicates(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	u := mustUser(t, r, "twice@example.com")
	nb := storage.NewBudget{UserID: u.ID, Category: core.ExpenseRent, Amount: core.MustMoney("900"), Period: core.Monthly, CreatedAt: base}
	first, err := r.CreateBudget(ctx, nb)
	if err != nil {
		t.Fatalf("first budget: %v", err)
	}
	second, err := r.CreateBudget(ctx, nb)
	if err != nil {
		t.Fatalf("second budget: %v", err)
	}
	budgets, _ := r.ListBudgets(ctx, u.ID)
	assertIDs(t, "budgets", []int64{budgets[0].ID, budgets[1].ID}, []int64{first.ID, second.ID})
}

func testDashboard(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	u := mustUser(t, r, "dash@example.com")
	mustExpense(t, r, u.ID, "30", core.ExpenseFood, core.NewDate(2024, 1, 5))
	mustExpense(t, r, u.ID, "20", core.ExpenseFood, core.NewDate(2024, 2, 1))
	mustEarning(t, r, u.ID, "500", core.EarningSalary, core.NewDate(2024, 1, 10))

	got, err := r.Dashboard(ctx, u.ID, storage.DateRange{})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(got.SpendingByCategory) != 1 || got.SpendingByCategory[0].Category != core.ExpenseFood ||
		got.SpendingByCategory[0].Amount.String() != "50.00" {
		t.Fatalf("unexpected spending %+v", got.SpendingByCategory)
	}
	want := []core.MonthlyComparison{
		{Month: "2024-01", Income: core.MustMoney("500"), Expenses: core.MustMoney("30")},
		{Month: "2024-02", Income: core.MustMoney("0"), Expenses: core.MustMoney("20")},
	}
	assertMonths(t, got.MonthlyIncomeVsExpenses, want)

	start := core.NewDate(2024, 2, 1)
	got, err = r.Dashboard(ctx, u.ID, storage.DateRange{Start: &start})
	if err != nil {
		t.Fatalf("ranged dashboard: %v", err)
	}
	assertMonths(t, got.MonthlyIncomeVsExpenses, want[1:])

	empty, err := r.Dashboard(ctx, 777, storage.DateRange{})
	if err != nil {
		t.Fatalf("empty dashboard: %v", err)
	}
	if empty.SpendingByCategory == nil || len(empty.SpendingByCategory) != 0 ||
		empty.MonthlyIncomeVsExpenses == nil || len(empty.MonthlyIncomeVsExpenses) != 0 {
		t.Fatalf("expected empty non-nil slices, got %+v", empty)
	}
}

func testCascadeDelete(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	u := mustUser(t, r, "gone@example.com")
	keep := mustUser(t, r, "keep@example.com")
	mustExpense(t, r, u.ID, "1", core.ExpenseOther, core.NewDate(2024, 1, 1))
	mustEarning(t, r, u.ID, "2", core.EarningOther, core.NewDate(2024, 1, 1))
	if _, err := r.CreateBudget(ctx, storage.NewBudget{UserID: u.ID, Category: core.ExpenseOther, Amount: core.MustMoney("3"), Period: core.Weekly, CreatedAt: base}); err != nil {
		t.Fatalf("create budget: %v", err)
	}
	kept := mustExpense(t, r, keep.ID, "4", core.ExpenseOther, core.NewDate(2024, 1, 1))

	if err := r.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	exp, _ := r.ListExpenses(ctx, storage.ExpenseFilter{UserID: u.ID})
	earn, _ := r.ListEarnings(ctx, storage.EarningFilter{UserID: u.ID})
	budgets, _ := r.ListBudgets(ctx, u.ID)
	if len(exp)+len(earn)+len(budgets) != 0 {
		t.Fatalf("owned rows survived: %d %d %d", len(exp), len(earn), len(budgets))
	}
	if _, err := r.GetExpense(ctx, kept.ID); err != nil {
		t.Fatalf("other user's rows must survive: %v", err)
	}
	if err := r.DeleteUser(ctx, u.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
}

// testRepeatedReadsAgree lists everything twice with no write in between;
// reads must not change state or ordering.
func testRepeatedReadsAgree(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	u := mustUser(t, r, "reads@example.com")
	mustUser(t, r, "reads2@example.com")
	desc := "weekly shop"
	if _, err := r.CreateExpense(ctx, storage.NewExpense{
		UserID: u.ID, Amount: core.MustMoney("42.10"), Category: core.ExpenseFood, Description: &desc,
		Date: core.NewDate(2024, 2, 3), CreatedAt: base,
	}); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	mustExpense(t, r, u.ID, "3", core.ExpenseTransport, core.NewDate(2024, 2, 3))
	mustEarning(t, r, u.ID, "900", core.EarningSalary, core.NewDate(2024, 1, 31))
	for _, p := range []core.BudgetPeriod{core.Monthly, core.Weekly} {
		if _, err := r.CreateBudget(ctx, storage.NewBudget{
			UserID: u.ID, Category: core.ExpenseFood, Amount: core.MustMoney("100"), Period: p, CreatedAt: base,
		}); err != nil {
			t.Fatalf("create budget: %v", err)
		}
	}

	reads := map[string]func() (any, error){
		"users": func() (any, error) { return r.ListUsers(ctx) },
		"expenses": func() (any, error) {
			return r.ListExpenses(ctx, storage.ExpenseFilter{UserID: u.ID})
		},
		"earnings": func() (any, error) {
			return r.ListEarnings(ctx, storage.EarningFilter{UserID: u.ID})
		},
		"budgets":   func() (any, error) { return r.ListBudgets(ctx, u.ID) },
		"dashboard": func() (any, error) { return r.Dashboard(ctx, u.ID, storage.DateRange{}) },
	}
	for name, read := range reads {
		first, err := read()
		if err != nil {
			t.Fatalf("%s: first read: %v", name, err)
		}
		second, err := read()
		if err != nil {
			t.Fatalf("%s: second read: %v", name, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: reads differ\nfirst:  %+v\nsecond: %+v", name, first, second)
		}
	}
}

func expenseIDs(es []core.Expense) []int64 {
	ids := make([]int64, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	return ids
}

func assertIDs(t *testing.T, what string, got, want []int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got ids %v want %v", what, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: got ids %v want %v", what, got, want)
		}
	}
}

func assertMonths(t *testing.T, got, want []core.MonthlyComparison) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got months %+v want %+v", got, want)
	}
	for i := range want {
		if got[i].Month != want[i].Month || !got[i].Income.Equal(want[i].Income) || !got[i].Expenses.Equal(want[i].Expenses) {
			t.Fatalf("month %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func testTimestampsAreUTC(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	u := mustUser(t, r, "utc@example.com")
	mustExpense(t, r, u.ID, "4", core.ExpenseFood, core.NewDate(2024, 5, 1))
	mustEarning(t, r, u.ID, "9", core.EarningSalary, core.NewDate(2024, 5, 2))
	b, err := r.CreateBudget(ctx, storage.NewBudget{
		UserID: u.ID, Category: core.ExpenseFood, Amount: core.MustMoney("50"), Period: core.Monthly, CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	amount := core.MustMoney("60")
	updated, err := r.UpdateBudget(ctx, storage.BudgetUpdate{ID: b.ID, Amount: &amount, UpdatedAt: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("update budget: %v", err)
	}

	users, err := r.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	expenses, err := r.ListExpenses(ctx, storage.ExpenseFilter{UserID: u.ID})
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	earnings, err := r.ListEarnings(ctx, storage.EarningFilter{UserID: u.ID})
	if err != nil {
		t.Fatalf("list earnings: %v", err)
	}
	budgets, err := r.ListBudgets(ctx, u.ID)
	if err != nil {
		t.Fatalf("list budgets: %v", err)
	}

	stamps := map[string]time.Time{
		"created user":       u.CreatedAt,
		"listed user":        users[0].CreatedAt,
		"expense":            expenses[0].CreatedAt,
		"earning":            earnings[0].CreatedAt,
		"created budget":     b.CreatedAt,
		"updated budget":     updated.UpdatedAt,
		"listed budget":      budgets[0].CreatedAt,
		"listed budget edit": budgets[0].UpdatedAt,
	}
	for name, ts := range stamps {
		if ts.Location() != time.UTC {
			t.Errorf("%s timestamp in %v, want UTC", name, ts.Location())
		}
	}
}
