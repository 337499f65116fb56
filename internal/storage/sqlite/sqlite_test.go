package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/storage"
	"fintrack/internal/storage/storagetest"
)

func openTemp(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "fintrack.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return repo
}

func TestRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository { return openTemp(t) })
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "fintrack.db")
	ctx := context.Background()

	repo, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	created := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	u, err := repo.CreateUser(ctx, storage.NewUser{Email: "keep@example.com", Name: "Keep", CreatedAt: created})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	repo.Close()

	repo, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()

	users, err := repo.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].ID != u.ID || !users[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected users after reopen %+v", users)
	}
}

func TestAmountsStayExact(t *testing.T) {
	repo := openTemp(t)
	defer repo.Close()
	ctx := context.Background()

	u, _ := repo.CreateUser(ctx, storage.NewUser{Email: "cents@example.com", Name: "Cents"})
	for _, a := range []string{"0.10", "0.20", "0.01"} {
		if _, err := repo.CreateExpense(ctx, storage.NewExpense{
			UserID: u.ID, Amount: core.MustMoney(a), Category: core.ExpenseFood, Date: core.NewDate(2024, 4, 1),
		}); err != nil {
			t.Fatalf("create expense: %v", err)
		}
	}

	d, err := repo.Dashboard(ctx, u.ID, storage.DateRange{})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if got := d.SpendingByCategory[0].Amount.String(); got != "0.31" {
		t.Fatalf("expected 0.31, got %s", got)
	}
}
