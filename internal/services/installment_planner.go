package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cardbook/internal/billing"
	"cardbook/internal/core"
	applog "cardbook/internal/log"
	"cardbook/internal/metrics"
)

// Planner places purchases on invoices, splitting multi-installment
// purchases across consecutive cycle windows.
type Planner struct {
	ledger  *Ledger
	metrics *metrics.Collector
}

func NewPlanner(ledger *Ledger, m *metrics.Collector) *Planner {
	return &Planner{ledger: ledger, metrics: m}
}

// CreatePurchase validates form, resolves its category and places the new
// purchase on card's invoices.
func (p *Planner) CreatePurchase(ctx context.Context, tx *Tx, form core.PurchaseForm, card core.Card) (core.Purchase, error) {
	if err := form.Validate(); err != nil {
		return core.Purchase{}, err
	}

	category, err := p.ResolveCategory(ctx, tx, form.CategoryName)
	if err != nil {
		return core.Purchase{}, err
	}

	backdated := !form.PurchasedAt.IsZero()
	purchasedAt := form.PurchasedAt
	if !backdated {
		purchasedAt = tx.Now
	}

	purchase, err := tx.CreatePurchase(ctx, core.Purchase{
		CardID:          card.ID,
		CategoryID:      category.ID,
		Description:     strings.TrimSpace(form.Description),
		Value:           form.Value,
		PurchasedAt:     purchasedAt,
		HasInstallments: form.TotalInstallments > 1,
	})
	if err != nil {
		return core.Purchase{}, fmt.Errorf("save purchase: %w", err)
	}

	if err := p.Place(ctx, tx, card, purchase, form.TotalInstallments, backdated); err != nil {
		return core.Purchase{}, err
	}

	kind := "single"
	if purchase.HasInstallments {
		kind = "installments"
	}
	p.metrics.PurchaseCreated(kind)
	tx.emit(purchaseEvent(core.EventPurchaseCreated, purchase))

	return purchase, nil
}

// ResolveCategory finds a category by exact name or creates a
// non-editable, non-repeating one.
func (p *Planner) ResolveCategory(ctx context.Context, tx *Tx, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, core.ErrEmptyCategory
	}

	category, err := tx.FindCategoryByName(ctx, name)
	if err == nil {
		return category, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Category{}, fmt.Errorf("find category %q: %w", name, err)
	}

	category, err = tx.CreateCategory(ctx, core.Category{Name: name})
	if err != nil {
		return core.Category{}, fmt.Errorf("create category %q: %w", name, err)
	}
	slog.InfoContext(ctx, "Category created", "category_id", category.ID, "name", name)
	return category, nil
}

// Place attaches an already stored purchase to the anchor invoice and, for
// n > 1, to the n-1 invoices whose windows follow it, adding each share to
// the invoice total. A purchase that carries an explicit date is checked for
// being retroactive; one dated "now" never is.
func (p *Planner) Place(ctx context.Context, tx *Tx, card core.Card, purchase core.Purchase, n int, dated bool) error {
	if n < 1 {
		return core.ErrInvalidInstallments
	}
	var shares []core.Money
	if n > 1 {
		var err error
		if shares, err = purchase.Value.Split(n); err != nil {
			return err
		}
	}

	calc, err := p.ledger.Calculator(card)
	if err != nil {
		return err
	}

	var anchor core.Invoice
	if dated && calc.IsRetroactive(purchase.PurchaseDate(), tx.Today) {
		anchor, err = p.ledger.FindOrCreateRetroactiveInvoice(ctx, tx, card, purchase.PurchaseDate())
	} else {
		anchor, err = p.ledger.GetOrCreateCurrentInvoice(ctx, tx, card)
	}
	if err != nil {
		return fmt.Errorf("resolve invoice for purchase %d: %w", purchase.ID, err)
	}

	if n == 1 {
		if _, err := p.ledger.AddToTotal(ctx, tx, anchor, purchase.Value); err != nil {
			return err
		}
		if err := tx.AttachPurchase(ctx, anchor.ID, purchase.ID); err != nil {
			return err
		}
		slog.InfoContext(ctx, "Purchase placed", applog.NewFields().
			WithComponent(applog.ComponentPlanner).
			WithPurchase(purchase.ID, purchase.Value.Cents).
			WithInvoice(anchor.ID, string(anchor.Status)).
			ToSlice()...)
		return nil
	}

	if err := checkShares(purchase, shares); err != nil {
		slog.ErrorContext(ctx, "Installment shares do not add up", append(applog.NewFields().
			WithComponent(applog.ComponentPlanner).
			WithPurchase(purchase.ID, purchase.Value.Cents).
			WithError(err).
			ToSlice(), "count", n)...)
		return err
	}

	anchorWindow := billing.Window{Start: anchor.StartDate, End: anchor.EndDate, Due: anchor.DueDate}
	for i, share := range shares {
		inv := anchor
		if i > 0 {
			inv, err = p.ledger.FindOrCreateInvoice(ctx, tx, card, calc.Following(anchorWindow, i))
			if err != nil {
				return fmt.Errorf("resolve invoice for installment %d/%d: %w", i+1, n, err)
			}
		}
		if _, err := p.ledger.AddToTotal(ctx, tx, inv, share); err != nil {
			return err
		}
		if err := tx.AttachPurchase(ctx, inv.ID, purchase.ID); err != nil {
			return err
		}
		if _, err := tx.CreateInstallment(ctx, core.Installment{
			PurchaseID: purchase.ID,
			InvoiceID:  inv.ID,
			Number:     i + 1,
			Count:      n,
			Value:      share,
		}); err != nil {
			return err
		}
		p.metrics.InstallmentPlaced()
	}

	slog.InfoContext(ctx, "Purchase split into installments", append(applog.NewFields().
		WithComponent(applog.ComponentPlanner).
		WithPurchase(purchase.ID, purchase.Value.Cents).
		ToSlice(),
		"anchor_invoice_id", anchor.ID,
		applog.FieldWindowStart, anchor.StartDate.String(),
		"count", n,
		"first_share", shares[0].String(),
		"last_share", shares[n-1].String())...)
	return nil
}

// ClearInstallments removes every installment record of a purchase.
func (p *Planner) ClearInstallments(ctx context.Context, tx *Tx, purchaseID int64) error {
	return tx.DeleteInstallments(ctx, purchaseID)
}

// checkShares enforces the conservation bound: the shares add up to the
// purchase value and none of them is empty.
func checkShares(purchase core.Purchase, shares []core.Money) error {
	var sum core.Money
	for i, s := range shares {
		if s.Cents <= 0 {
			return fmt.Errorf("%w: installment %d of purchase %d is %s", core.ErrInvariantViolation, i+1, purchase.ID, s)
		}
		sum = sum.Add(s)
	}
	if sum != purchase.Value {
		return fmt.Errorf("%w: installments of purchase %d add up to %s, want %s",
			core.ErrInvariantViolation, purchase.ID, sum, purchase.Value)
	}
	return nil
}
