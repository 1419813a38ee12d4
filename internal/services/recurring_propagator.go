package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cardbook/internal/billing"
	"cardbook/internal/core"
	"cardbook/internal/metrics"
)

// Propagator copies recurring ("signature") charges from a card's previous
// invoice into a newly created one.
type Propagator struct {
	metrics *metrics.Collector
}

func NewPropagator(m *metrics.Collector) *Propagator {
	return &Propagator{metrics: m}
}

// Propagate clones every repeat-category purchase of the invoice preceding
// inv into inv, one month later, and adds the clones to inv's total. A card
// without a previous invoice has nothing to propagate.
func (p *Propagator) Propagate(ctx context.Context, tx *Tx, card core.Card, inv core.Invoice) (core.Invoice, error) {
	prior, err := tx.FindLatestInvoiceBefore(ctx, card.ID, inv.StartDate)
	if errors.Is(err, core.ErrNotFound) {
		return inv, nil
	}
	if err != nil {
		return core.Invoice{}, fmt.Errorf("find previous invoice: %w", err)
	}

	has, err := tx.HasRepeatingPurchases(ctx, card.ID, prior.ID)
	if err != nil {
		return core.Invoice{}, err
	}
	if !has {
		return inv, nil
	}

	repeating, err := tx.FindRepeatingPurchases(ctx, card.ID, prior.ID)
	if err != nil {
		return core.Invoice{}, err
	}

	var added core.Money
	for _, src := range repeating {
		clone := core.Purchase{
			CardID:      src.CardID,
			CategoryID:  src.CategoryID,
			Description: src.Description,
			Value:       src.Value,
			PurchasedAt: nextMonth(src.PurchasedAt),
		}
		clone, err = tx.CreatePurchase(ctx, clone)
		if err != nil {
			return core.Invoice{}, fmt.Errorf("clone purchase %d: %w", src.ID, err)
		}
		if err := tx.AttachPurchase(ctx, inv.ID, clone.ID); err != nil {
			return core.Invoice{}, err
		}
		added = added.Add(clone.Value)

		p.metrics.RecurringClone()
		tx.emit(purchaseEvent(core.EventPurchaseCreated, clone))
	}

	inv.Total = inv.Total.Add(added)
	if err := tx.SaveInvoice(ctx, inv); err != nil {
		return core.Invoice{}, fmt.Errorf("save invoice %d total: %w", inv.ID, err)
	}

	slog.InfoContext(ctx, "Recurring charges propagated",
		"card_id", card.ID,
		"from_invoice_id", prior.ID,
		"to_invoice_id", inv.ID,
		"count", len(repeating),
		"amount", added.String())

	return inv, nil
}

// nextMonth keeps the clock time and clamps the day to the target month.
func nextMonth(t time.Time) time.Time {
	t = t.UTC()
	d := billing.AddMonths(core.DateOf(t), 1)
	return time.Date(d.Year(), time.Month(d.Month()), d.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
