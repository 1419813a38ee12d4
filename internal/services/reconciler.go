package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cardbook/internal/core"
	"cardbook/internal/metrics"
)

// Reconciler recomputes cached totals from the purchases that make them up.
// Both operations write only when the stored value is stale, so calling them
// repeatedly is harmless.
type Reconciler struct {
	metrics *metrics.Collector
}

func NewReconciler(m *metrics.Collector) *Reconciler {
	return &Reconciler{metrics: m}
}

// Contribution is what purchase p adds to invoice inv: its own value for a
// single payment, or the installment tied to inv.
func Contribution(ctx context.Context, tx *Tx, inv core.Invoice, p core.Purchase) (core.Money, *core.Installment, error) {
	if !p.HasInstallments {
		return p.Value, nil, nil
	}
	in, err := tx.FindInstallment(ctx, p.ID, inv.ID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Money{}, nil, fmt.Errorf("%w: purchase %d is linked to invoice %d without an installment",
			core.ErrInvariantViolation, p.ID, inv.ID)
	}
	if err != nil {
		return core.Money{}, nil, err
	}
	return in.Value, &in, nil
}

// RecomputeTotal sums the contributions of every purchase attached to inv and
// persists the result if it differs from the stored total.
func (r *Reconciler) RecomputeTotal(ctx context.Context, tx *Tx, inv core.Invoice) (core.Invoice, error) {
	purchases, err := tx.ListInvoicePurchases(ctx, inv.ID)
	if err != nil {
		return core.Invoice{}, err
	}

	var total core.Money
	for _, p := range purchases {
		amount, _, err := Contribution(ctx, tx, inv, p)
		if err != nil {
			slog.ErrorContext(ctx, "Invoice composition is inconsistent",
				"invoice_id", inv.ID,
				"purchase_id", p.ID,
				"error", err)
			return core.Invoice{}, err
		}
		total = total.Add(amount)
	}

	if total == inv.Total {
		return inv, nil
	}

	previous := inv.Total
	inv.Total = total
	if err := tx.SaveInvoice(ctx, inv); err != nil {
		return core.Invoice{}, fmt.Errorf("save invoice %d total: %w", inv.ID, err)
	}
	r.metrics.TotalRewritten()
	slog.InfoContext(ctx, "Invoice total corrected",
		"invoice_id", inv.ID,
		"from", previous.String(),
		"to", total.String())
	return inv, nil
}

// RecomputeTotals reconciles each invoice id once, in order.
func (r *Reconciler) RecomputeTotals(ctx context.Context, tx *Tx, invoiceIDs []int64) error {
	seen := make(map[int64]struct{}, len(invoiceIDs))
	for _, id := range invoiceIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return fmt.Errorf("load invoice %d: %w", id, err)
		}
		if _, err := r.RecomputeTotal(ctx, tx, inv); err != nil {
			return err
		}
	}
	return nil
}

// RecomputeUsedLimit sets card.UsedLimit to the sum of its unsettled invoice
// totals. Only PAID invoices are excluded.
func (r *Reconciler) RecomputeUsedLimit(ctx context.Context, tx *Tx, card core.Card) (core.Card, error) {
	invoices, err := tx.ListInvoices(ctx, card.ID)
	if err != nil {
		return core.Card{}, err
	}

	var used core.Money
	for _, inv := range invoices {
		if inv.Status.Settled() {
			continue
		}
		used = used.Add(inv.Total)
	}

	if used == card.UsedLimit {
		return card, nil
	}

	card.UsedLimit = used
	if err := tx.SaveCardLimits(ctx, card); err != nil {
		return core.Card{}, fmt.Errorf("save card %d limits: %w", card.ID, err)
	}
	slog.InfoContext(ctx, "Card used limit updated",
		"card_id", card.ID,
		"used", used.String(),
		"total", card.TotalLimit.String())
	return card, nil
}
