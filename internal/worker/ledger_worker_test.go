package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/sheets"
	sheetsmem "fintrack/internal/sheets/memory"
	"fintrack/internal/storage"
	"fintrack/internal/storage/memory"
)

type failingWriter struct{}

func (failingWriter) AppendRow(context.Context, sheets.LedgerRow) (string, error) {
	return "", errors.New("quota exceeded")
}

type brokenReader struct{}

func (brokenReader) GetExpense(context.Context, int64) (core.Expense, error) {
	return core.Expense{}, core.NewStorageError("get expense", errors.New("disk I/O error"))
}

func (brokenReader) GetEarning(context.Context, int64) (core.Earning, error) {
	return core.Earning{}, core.NewStorageError("get earning", errors.New("disk I/O error"))
}

func seed(t *testing.T) (*memory.Store, core.Expense, core.Earning) {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	now := time.Now().UTC()

	u, err := repo.CreateUser(ctx, storage.NewUser{Email: "w@example.com", Name: "W", CreatedAt: now})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	desc := "bus pass"
	e, err := repo.CreateExpense(ctx, storage.NewExpense{
		UserID: u.ID, Amount: core.MustMoney("35"), Category: core.ExpenseTransport,
		Description: &desc, Date: core.NewDate(2024, 2, 1), CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	ea, err := repo.CreateEarning(ctx, storage.NewEarning{
		UserID: u.ID, Amount: core.MustMoney("120.25"), Category: core.EarningFreelance,
		Date: core.NewDate(2024, 2, 3), CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("create earning: %v", err)
	}
	return repo, e, ea
}

func TestLedgerSyncWorker_HandleLedgerEvent(t *testing.T) {
	repo, expense, earning := seed(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		evt      *amqp.LedgerEvent
		wantRows int
		wantKind string
	}{
		{name: "expense created", evt: amqp.NewLedgerEvent(amqp.EntityExpense, amqp.ActionCreated, expense.ID, expense.UserID), wantRows: 1, wantKind: sheets.KindExpense},
		{name: "earning created", evt: amqp.NewLedgerEvent(amqp.EntityEarning, amqp.ActionCreated, earning.ID, earning.UserID), wantRows: 1, wantKind: sheets.KindEarning},
		{name: "budget updated ignored", evt: amqp.NewLedgerEvent(amqp.EntityBudget, amqp.ActionUpdated, 1, 1)},
		{name: "user created ignored", evt: amqp.NewLedgerEvent(amqp.EntityUser, amqp.ActionCreated, 1, 1)},
		{name: "missing expense skipped", evt: amqp.NewLedgerEvent(amqp.EntityExpense, amqp.ActionCreated, 999, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := sheetsmem.New()
			w := NewLedgerSyncWorker(repo, writer)

			if err := w.HandleLedgerEvent(ctx, tt.evt); err != nil {
				t.Fatalf("HandleLedgerEvent: %v", err)
			}
			rows := writer.Rows()
			if len(rows) != tt.wantRows {
				t.Fatalf("got %d rows, want %d", len(rows), tt.wantRows)
			}
			if tt.wantRows == 1 {
				if rows[0].Kind != tt.wantKind || rows[0].EntityID != tt.evt.EntityID {
					t.Fatalf("unexpected row %+v", rows[0])
				}
			}
		})
	}
}

func TestLedgerSyncWorker_RowContent(t *testing.T) {
	repo, expense, _ := seed(t)
	writer := sheetsmem.New()

	evt := amqp.NewLedgerEvent(amqp.EntityExpense, amqp.ActionCreated, expense.ID, expense.UserID)
	if err := NewLedgerSyncWorker(repo, writer).HandleLedgerEvent(context.Background(), evt); err != nil {
		t.Fatalf("HandleLedgerEvent: %v", err)
	}

	row := writer.Rows()[0]
	if row.Description != "bus pass" || row.Category != "transport" || row.Amount.String() != "35.00" || row.Date.String() != "2024-02-01" {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestLedgerSyncWorker_Failures(t *testing.T) {
	repo, expense, _ := seed(t)
	ctx := context.Background()
	evt := amqp.NewLedgerEvent(amqp.EntityExpense, amqp.ActionCreated, expense.ID, expense.UserID)

	if err := NewLedgerSyncWorker(repo, failingWriter{}).HandleLedgerEvent(ctx, evt); err == nil {
		t.Fatal("writer failure must be returned so the message is requeued")
	}
	if err := NewLedgerSyncWorker(brokenReader{}, sheetsmem.New()).HandleLedgerEvent(ctx, evt); !errors.Is(err, core.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
