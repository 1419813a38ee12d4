package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cardbook/internal/amqp"
	"cardbook/internal/clock"
	"cardbook/internal/core"
	applog "cardbook/internal/log"
	"cardbook/internal/metrics"
	"cardbook/internal/sheets"
)

// Ledger is the read side of the engine the worker needs.
type Ledger interface {
	ListCards(ctx context.Context) ([]core.Card, error)
	ListInvoices(ctx context.Context, cardID int64) ([]core.Invoice, error)
	InvoiceDetail(ctx context.Context, invoiceID int64) (core.InvoiceDetail, error)
}

// StatementWorker exports closed invoices to a StatementWriter.
type StatementWorker struct {
	ledger  Ledger
	writer  sheets.StatementWriter
	store   *IdempotencyStore
	clock   clock.Clock
	metrics *metrics.Collector
}

func NewStatementWorker(ledger Ledger, writer sheets.StatementWriter, store *IdempotencyStore, c clock.Clock, m *metrics.Collector) *StatementWorker {
	return &StatementWorker{
		ledger:  ledger,
		writer:  writer,
		store:   store,
		clock:   c,
		metrics: m,
	}
}

// HandleEvent processes one delivery. Returning an error requeues it.
func (w *StatementWorker) HandleEvent(ctx context.Context, msg *amqp.EventMessage) error {
	seen, err := w.store.Seen(msg.MessageID)
	if err != nil {
		return fmt.Errorf("check message %s: %w", msg.MessageID, err)
	}
	if seen {
		slog.InfoContext(ctx, "Skipping redelivered message",
			applog.FieldMessageID, msg.MessageID,
			applog.FieldEventType, msg.Type)
		return nil
	}

	if core.EventType(msg.Type) == core.EventInvoiceClosed {
		if err := w.export(ctx, msg.InvoiceID); err != nil {
			return err
		}
	} else {
		slog.DebugContext(ctx, "Ignoring event", applog.FieldMessageID, msg.MessageID, applog.FieldEventType, msg.Type)
	}

	if err := w.store.MarkProcessed(msg.MessageID, w.clock.Now()); err != nil {
		// The export already happened; a redelivery would only rewrite it.
		slog.ErrorContext(ctx, "Failed to mark message processed",
			applog.FieldMessageID, msg.MessageID,
			applog.FieldError, err)
	}
	return nil
}

// ExportMissing exports every CLOSED or PAID invoice that has no export
// record. It recovers from messages lost while the worker was down.
func (w *StatementWorker) ExportMissing(ctx context.Context) error {
	cards, err := w.ledger.ListCards(ctx)
	if err != nil {
		return fmt.Errorf("list cards: %w", err)
	}

	exported, failed := 0, 0
	for _, card := range cards {
		invoices, err := w.ledger.ListInvoices(ctx, card.ID)
		if err != nil {
			return fmt.Errorf("list invoices of card %d: %w", card.ID, err)
		}
		for _, inv := range invoices {
			if inv.Status != core.StatusClosed && inv.Status != core.StatusPaid {
				continue
			}
			_, ok, err := w.store.Exported(inv.ID)
			if err != nil {
				return fmt.Errorf("check export of invoice %d: %w", inv.ID, err)
			}
			if ok {
				continue
			}
			if err := w.export(ctx, inv.ID); err != nil {
				slog.ErrorContext(ctx, "Failed to export statement during sweep",
					applog.FieldInvoiceID, inv.ID, applog.FieldError, err)
				failed++
				continue
			}
			exported++
		}
	}

	slog.InfoContext(ctx, "Export sweep completed",
		applog.FieldOperation, applog.OpExport,
		"cards", len(cards),
		"exported", exported,
		"errors", failed)
	if failed > 0 {
		return fmt.Errorf("%d statements failed to export", failed)
	}
	return nil
}

func (w *StatementWorker) export(ctx context.Context, invoiceID int64) error {
	detail, err := w.ledger.InvoiceDetail(ctx, invoiceID)
	if errors.Is(err, core.ErrNotFound) {
		// Nothing to export, and retrying will not make it appear.
		slog.WarnContext(ctx, "Invoice for statement not found", "invoice_id", invoiceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load invoice %d: %w", invoiceID, err)
	}

	ref, err := w.writer.WriteStatement(ctx, detail)
	w.metrics.StatementExported(err)
	if err != nil {
		return fmt.Errorf("write statement %d: %w", invoiceID, err)
	}

	if err := w.store.RecordExport(ExportRecord{
		InvoiceID:  invoiceID,
		Ref:        ref,
		ExportedAt: w.clock.Now().UTC(),
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to record export", "invoice_id", invoiceID, "error", err)
	}

	slog.InfoContext(ctx, "Statement exported",
		applog.FieldOperation, applog.OpExport,
		applog.FieldInvoiceID, invoiceID,
		applog.FieldCardID, detail.Card.ID,
		"lines", len(detail.Lines),
		"total", detail.Invoice.Total.String(),
		"ref", ref)
	return nil
}
