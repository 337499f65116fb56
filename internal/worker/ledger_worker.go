package worker

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/sheets"
)

// EntityReader is the slice of the repository the worker reads from.
type EntityReader interface {
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	GetEarning(ctx context.Context, id int64) (core.Earning, error)
}

// LedgerSyncWorker mirrors created expenses and earnings into the ledger
// sheet. Events only carry ids, so the row is always read back from the
// repository.
type LedgerSyncWorker struct {
	repo   EntityReader
	writer sheets.LedgerWriter
}

func NewLedgerSyncWorker(repo EntityReader, writer sheets.LedgerWriter) *LedgerSyncWorker {
	return &LedgerSyncWorker{repo: repo, writer: writer}
}

// HandleLedgerEvent processes a single ledger event from AMQP. A returned
// error requeues the message; events for rows that no longer exist are
// dropped.
func (w *LedgerSyncWorker) HandleLedgerEvent(ctx context.Context, evt *amqp.LedgerEvent) error {
	logger := log.FromContext(ctx).WithComponent(log.ComponentWorker).
		With(log.FieldEventType, evt.Type(), log.FieldEntityID, evt.EntityID)

	var row sheets.LedgerRow
	switch evt.Type() {
	case amqp.EntityExpense + "." + amqp.ActionCreated:
		e, err := w.repo.GetExpense(ctx, evt.EntityID)
		if err != nil {
			return w.readFailed(ctx, logger, err)
		}
		row = sheets.ExpenseRow(e)
	case amqp.EntityEarning + "." + amqp.ActionCreated:
		e, err := w.repo.GetEarning(ctx, evt.EntityID)
		if err != nil {
			return w.readFailed(ctx, logger, err)
		}
		row = sheets.EarningRow(e)
	default:
		logger.DebugContext(ctx, "Ignoring ledger event")
		return nil
	}

	ref, err := w.writer.AppendRow(ctx, row)
	if err != nil {
		return fmt.Errorf("append to ledger: %w", err)
	}

	logger.InfoContext(ctx, "Synced ledger row",
		log.FieldSheetsRef, ref,
		log.FieldUserID, row.UserID,
		"amount", row.Amount.String())
	return nil
}

func (w *LedgerSyncWorker) readFailed(ctx context.Context, logger *log.Logger, err error) error {
	if errors.Is(err, core.ErrNotFound) {
		logger.WarnContext(ctx, "Ledger event refers to a missing row, skipping", log.FieldError, err)
		return nil
	}
	return fmt.Errorf("read entity: %w", err)
}
