package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cardbook/internal/billing"
	"cardbook/internal/core"
	"cardbook/internal/metrics"
)

// Ledger finds or creates the invoice a cycle window maps to and drives the
// invoice status machine. Every method is idempotent on the
// (card, start, end) key.
type Ledger struct {
	anchor     billing.RetroactiveAnchor
	propagator *Propagator
	metrics    *metrics.Collector
}

func NewLedger(anchor billing.RetroactiveAnchor, propagator *Propagator, m *metrics.Collector) *Ledger {
	return &Ledger{anchor: anchor, propagator: propagator, metrics: m}
}

// Calculator returns the billing calculator for card.
func (l *Ledger) Calculator(card core.Card) (billing.Calculator, error) {
	calc, err := billing.New(card.Billing, l.anchor)
	if err != nil {
		return billing.Calculator{}, fmt.Errorf("card %d billing: %w", card.ID, err)
	}
	return calc, nil
}

// Advance applies every transition due on tx.Today to the card's OPEN and
// PENDING invoices and returns the invoice left OPEN, if any. The expired
// OPEN invoice is closed before a PENDING one is opened so the card never
// holds two.
func (l *Ledger) Advance(ctx context.Context, tx *Tx, card core.Card) (*core.Invoice, error) {
	var current *core.Invoice

	open, err := tx.FindFirstInvoiceByStatus(ctx, card.ID, core.StatusOpen)
	switch {
	case err == nil:
		open, err = l.step(ctx, tx, open)
		if err != nil {
			return nil, err
		}
		if open.Status == core.StatusOpen {
			current = &open
		}
	case !errors.Is(err, core.ErrNotFound):
		return nil, fmt.Errorf("find open invoice: %w", err)
	}

	pending, err := tx.FindInvoicesByStatus(ctx, card.ID, core.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("find pending invoices: %w", err)
	}
	for _, inv := range pending {
		next, err := nextStatus(inv, tx.Today)
		if err != nil {
			return nil, err
		}
		// Only one invoice may be opened; later windows wait their turn.
		if next == core.StatusOpen && current != nil {
			continue
		}
		if next == inv.Status {
			continue
		}
		inv, err = l.transition(ctx, tx, inv, next)
		if err != nil {
			return nil, err
		}
		if inv.Status == core.StatusOpen {
			opened := inv
			current = &opened
		}
	}

	return current, nil
}

// GetOrCreateCurrentInvoice returns the card's OPEN invoice for tx.Today,
// closing an expired one, opening a PENDING one whose window has arrived, or
// creating a fresh OPEN invoice for the window containing today.
func (l *Ledger) GetOrCreateCurrentInvoice(ctx context.Context, tx *Tx, card core.Card) (core.Invoice, error) {
	current, err := l.Advance(ctx, tx, card)
	if err != nil {
		return core.Invoice{}, err
	}
	if current != nil {
		return *current, nil
	}

	calc, err := l.Calculator(card)
	if err != nil {
		return core.Invoice{}, err
	}
	w := calc.Window(tx.Today)

	// A backdated invoice may already cover today's window.
	existing, err := tx.FindInvoiceByWindow(ctx, card.ID, w.Start, w.End)
	switch {
	case err == nil:
		if existing.Status == core.StatusClosed {
			return l.transition(ctx, tx, existing, core.StatusOpen)
		}
		return existing, nil
	case !errors.Is(err, core.ErrNotFound):
		return core.Invoice{}, fmt.Errorf("find invoice %s: %w", w, err)
	}

	inv, _, err := l.insert(ctx, tx, newInvoice(card, w, core.StatusOpen))
	return inv, err
}

// FindOrCreateInvoice returns the invoice for window w, creating it CLOSED
// when w has already ended and PENDING otherwise. Recurring charges are
// propagated only when the invoice is actually created here.
func (l *Ledger) FindOrCreateInvoice(ctx context.Context, tx *Tx, card core.Card, w billing.Window) (core.Invoice, error) {
	inv, err := tx.FindInvoiceByWindow(ctx, card.ID, w.Start, w.End)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Invoice{}, fmt.Errorf("find invoice %s: %w", w, err)
	}

	status := core.StatusPending
	if w.End.Before(tx.Today) {
		status = core.StatusClosed
	}
	inv, created, err := l.insert(ctx, tx, newInvoice(card, w, status))
	if err != nil || !created {
		return inv, err
	}

	if l.propagator == nil {
		return inv, nil
	}
	return l.propagator.Propagate(ctx, tx, card, inv)
}

// FindOrCreateRetroactiveInvoice returns the invoice whose window contains
// purchaseDate. A freshly created backdated invoice is always CLOSED and never
// receives recurring charges.
func (l *Ledger) FindOrCreateRetroactiveInvoice(ctx context.Context, tx *Tx, card core.Card, purchaseDate core.Date) (core.Invoice, error) {
	calc, err := l.Calculator(card)
	if err != nil {
		return core.Invoice{}, err
	}
	w := calc.Window(purchaseDate)

	inv, err := tx.FindInvoiceByWindow(ctx, card.ID, w.Start, w.End)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Invoice{}, fmt.Errorf("find invoice %s: %w", w, err)
	}

	inv, _, err = l.insert(ctx, tx, newInvoice(card, w, core.StatusClosed))
	return inv, err
}

// GetCurrentInvoiceForDate returns the stored invoice whose window contains
// date, or nil when the card has none.
func (l *Ledger) GetCurrentInvoiceForDate(ctx context.Context, tx *Tx, card core.Card, date core.Date) (*core.Invoice, error) {
	inv, err := tx.FindInvoiceContaining(ctx, card.ID, date)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice containing %s: %w", date, err)
	}
	return &inv, nil
}

// RemovePurchaseFromInvoice detaches a purchase from one invoice. Totals are
// left to the reconciler.
func (l *Ledger) RemovePurchaseFromInvoice(ctx context.Context, tx *Tx, invoiceID, purchaseID int64) error {
	if err := tx.DetachPurchase(ctx, invoiceID, purchaseID); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Purchase detached", "invoice_id", invoiceID, "purchase_id", purchaseID)
	return nil
}

// AddToTotal adds amount to the invoice total and persists it.
func (l *Ledger) AddToTotal(ctx context.Context, tx *Tx, inv core.Invoice, amount core.Money) (core.Invoice, error) {
	inv.Total = inv.Total.Add(amount)
	if err := tx.SaveInvoice(ctx, inv); err != nil {
		return core.Invoice{}, fmt.Errorf("save invoice %d total: %w", inv.ID, err)
	}
	return inv, nil
}

// Pay moves a CLOSED invoice to PAID.
func (l *Ledger) Pay(ctx context.Context, tx *Tx, inv core.Invoice) (core.Invoice, error) {
	if inv.Status != core.StatusClosed {
		return core.Invoice{}, fmt.Errorf("%w: invoice %d is %s", core.ErrInvalidTransition, inv.ID, inv.Status)
	}
	return l.transition(ctx, tx, inv, core.StatusPaid)
}

func newInvoice(card core.Card, w billing.Window, status core.InvoiceStatus) core.Invoice {
	return core.Invoice{
		CardID:    card.ID,
		StartDate: w.Start,
		EndDate:   w.End,
		DueDate:   w.Due,
		Status:    status,
	}
}

// insert creates inv. On a uniqueness conflict the find step is retried
// once; created is false when the retry found a row written concurrently.
func (l *Ledger) insert(ctx context.Context, tx *Tx, inv core.Invoice) (core.Invoice, bool, error) {
	created, err := tx.CreateInvoice(ctx, inv)
	if err == nil {
		l.metrics.InvoiceCreated(created.Status.String())
		tx.emit(invoiceEvent(core.EventInvoiceCreated, created))
		slog.InfoContext(ctx, "Invoice created",
			"card_id", created.CardID,
			"invoice_id", created.ID,
			"start", created.StartDate,
			"end", created.EndDate,
			"due", created.DueDate,
			"status", created.Status)
		return created, true, nil
	}
	if !errors.Is(err, core.ErrConcurrencyConflict) {
		return core.Invoice{}, false, fmt.Errorf("create invoice: %w", err)
	}

	l.metrics.ConflictRetry()
	slog.WarnContext(ctx, "Invoice creation conflicted, retrying lookup",
		"card_id", inv.CardID,
		"start", inv.StartDate,
		"end", inv.EndDate)

	existing, ferr := tx.FindInvoiceByWindow(ctx, inv.CardID, inv.StartDate, inv.EndDate)
	if ferr != nil {
		return core.Invoice{}, false, fmt.Errorf("create invoice [%s, %s]: %w", inv.StartDate, inv.EndDate, err)
	}
	return existing, false, nil
}

func (l *Ledger) step(ctx context.Context, tx *Tx, inv core.Invoice) (core.Invoice, error) {
	next, err := nextStatus(inv, tx.Today)
	if err != nil {
		return core.Invoice{}, err
	}
	if next == inv.Status {
		return inv, nil
	}
	return l.transition(ctx, tx, inv, next)
}

func (l *Ledger) transition(ctx context.Context, tx *Tx, inv core.Invoice, to core.InvoiceStatus) (core.Invoice, error) {
	from := inv.Status
	if !CanTransition(from, to) {
		return core.Invoice{}, fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, from, to)
	}
	inv.Status = to
	if err := tx.SaveInvoice(ctx, inv); err != nil {
		return core.Invoice{}, fmt.Errorf("save invoice %d status: %w", inv.ID, err)
	}

	l.metrics.InvoiceTransition(from.String(), to.String())
	slog.InfoContext(ctx, "Invoice status changed",
		"card_id", inv.CardID,
		"invoice_id", inv.ID,
		"from", from,
		"to", to)

	switch to {
	case core.StatusOpen:
		tx.emit(invoiceEvent(core.EventInvoiceOpened, inv))
	case core.StatusClosed:
		tx.emit(invoiceEvent(core.EventInvoiceClosed, inv))
	case core.StatusPaid:
		tx.emit(invoiceEvent(core.EventInvoicePaid, inv))
	}
	return inv, nil
}

func nextStatus(inv core.Invoice, today core.Date) (core.InvoiceStatus, error) {
	checker, err := GetTransitionChecker(inv.Status)
	if err != nil {
		return "", err
	}
	return checker.Next(inv, today), nil
}
