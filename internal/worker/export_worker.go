package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dailybudget/internal/amqp"
	"dailybudget/internal/core"
	"dailybudget/internal/ledger"
	"dailybudget/internal/sheets"
)

// SpendReader is the slice of the ledger store the worker needs.
type SpendReader interface {
	GetSpend(ctx context.Context, id int64) (core.Spend, error)
}

// ExportObserver is told the outcome of each handled event.
type ExportObserver interface {
	ObserveExport(kind string, err error)
}

// ExportWorker copies newly added spends to a spreadsheet.
type ExportWorker struct {
	store    SpendReader
	sheets   sheets.SpendWriter
	observer ExportObserver
}

func NewExportWorker(store SpendReader, writer sheets.SpendWriter, observer ExportObserver) *ExportWorker {
	return &ExportWorker{
		store:    store,
		sheets:   writer,
		observer: observer,
	}
}

// HandleEvent exports spend.added events and acknowledges every other
// kind. A returned error asks the broker to redeliver.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) (err error) {
	if w.observer != nil {
		defer func() { w.observer.ObserveExport(string(ev.Kind), err) }()
	}

	if ev.Kind != amqp.SpendAdded {
		slog.DebugContext(ctx, "Ignoring ledger event", "kind", ev.Kind, "account_id", ev.AccountID)
		return nil
	}

	sp, err := w.store.GetSpend(ctx, ev.SpendID)
	if errors.Is(err, ledger.ErrNotFound) {
		// Deleted before we got to it; nothing left to export.
		slog.WarnContext(ctx, "Spend no longer exists, skipping export", "spend_id", ev.SpendID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get spend %d: %w", ev.SpendID, err)
	}

	ref, err := w.sheets.AppendSpend(ctx, sp.AccountID, sp)
	if err != nil {
		return fmt.Errorf("export spend %d: %w", sp.ID, err)
	}

	slog.InfoContext(ctx, "Spend exported",
		"spend_id", sp.ID,
		"account_id", sp.AccountID,
		"amount_cents", sp.Amount.Cents,
		"sheets_ref", ref)
	return nil
}
