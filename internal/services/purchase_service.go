package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cardbook/internal/core"
)

// PurchaseService orchestrates purchase changes and the reconciliation that
// must follow each of them.
type PurchaseService struct {
	engine *Engine
}

func NewPurchaseService(engine *Engine) *PurchaseService {
	return &PurchaseService{engine: engine}
}

// CreatePurchase places a new purchase on form.CardID's invoices and updates
// the card's used limit.
func (s *PurchaseService) CreatePurchase(ctx context.Context, form core.PurchaseForm) (core.Purchase, error) {
	if err := form.Validate(); err != nil {
		return core.Purchase{}, err
	}

	var created core.Purchase
	err := s.engine.Run(ctx, form.CardID, func(tx *Tx) error {
		card, err := tx.GetCard(ctx, form.CardID)
		if err != nil {
			return err
		}
		created, err = s.engine.Planner.CreatePurchase(ctx, tx, form, card)
		if err != nil {
			return err
		}
		_, err = s.engine.Reconciler.RecomputeUsedLimit(ctx, tx, card)
		return err
	})
	if err != nil {
		return core.Purchase{}, fmt.Errorf("create purchase: %w", err)
	}

	slog.InfoContext(ctx, "Purchase created",
		"purchase_id", created.ID,
		"card_id", created.CardID,
		"value", created.Value.String(),
		"installments", form.TotalInstallments)
	return created, nil
}

// UpdatePurchase applies form to purchase id. A change of value, installment
// count or purchase date re-places the purchase from scratch; otherwise only
// the description and category change. A zero form.PurchasedAt keeps the
// stored date.
func (s *PurchaseService) UpdatePurchase(ctx context.Context, id int64, form core.PurchaseForm) (core.Purchase, error) {
	if err := form.Validate(); err != nil {
		return core.Purchase{}, err
	}

	current, err := s.engine.Store().GetPurchase(ctx, id)
	if err != nil {
		return core.Purchase{}, err
	}

	var updated core.Purchase
	err = s.engine.Run(ctx, current.CardID, func(tx *Tx) error {
		p, err := tx.GetPurchase(ctx, id)
		if err != nil {
			return err
		}
		card, err := tx.GetCard(ctx, p.CardID)
		if err != nil {
			return err
		}
		installments, err := tx.ListInstallments(ctx, p.ID)
		if err != nil {
			return err
		}
		count := len(installments)
		if count == 0 {
			count = 1
		}

		category, err := s.engine.Planner.ResolveCategory(ctx, tx, form.CategoryName)
		if err != nil {
			return err
		}
		p.CategoryID = category.ID
		p.Description = strings.TrimSpace(form.Description)
		redated := !form.PurchasedAt.IsZero() && !form.PurchasedAt.Equal(p.PurchasedAt)

		if p.Value == form.Value && count == form.TotalInstallments && !redated {
			if err := tx.SavePurchase(ctx, p); err != nil {
				return err
			}
		} else {
			oldInvoices, err := s.unlink(ctx, tx, p.ID)
			if err != nil {
				return err
			}

			p.Value = form.Value
			p.HasInstallments = form.TotalInstallments > 1
			if redated {
				p.PurchasedAt = form.PurchasedAt
			}
			if err := tx.SavePurchase(ctx, p); err != nil {
				return err
			}
			// The stored purchase date decides placement, as on creation.
			if err := s.engine.Planner.Place(ctx, tx, card, p, form.TotalInstallments, true); err != nil {
				return err
			}
			if err := s.engine.Reconciler.RecomputeTotals(ctx, tx, oldInvoices); err != nil {
				return err
			}
		}

		if _, err := s.engine.Reconciler.RecomputeUsedLimit(ctx, tx, card); err != nil {
			return err
		}
		updated = p
		tx.emit(purchaseEvent(core.EventPurchaseUpdated, p))
		return nil
	})
	if err != nil {
		return core.Purchase{}, fmt.Errorf("update purchase %d: %w", id, err)
	}
	return updated, nil
}

// DeletePurchase removes a purchase with its installments and invoice links,
// then reconciles every invoice it touched and the card's used limit.
func (s *PurchaseService) DeletePurchase(ctx context.Context, id int64) error {
	current, err := s.engine.Store().GetPurchase(ctx, id)
	if err != nil {
		return err
	}

	err = s.engine.Run(ctx, current.CardID, func(tx *Tx) error {
		p, err := tx.GetPurchase(ctx, id)
		if err != nil {
			return err
		}
		affected, err := s.unlink(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := tx.DeletePurchase(ctx, p.ID); err != nil {
			return err
		}
		if err := s.engine.Reconciler.RecomputeTotals(ctx, tx, affected); err != nil {
			return err
		}
		card, err := tx.GetCard(ctx, p.CardID)
		if err != nil {
			return err
		}
		if _, err := s.engine.Reconciler.RecomputeUsedLimit(ctx, tx, card); err != nil {
			return err
		}
		tx.emit(purchaseEvent(core.EventPurchaseDeleted, p))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete purchase %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Purchase deleted", "purchase_id", id, "card_id", current.CardID)
	return nil
}

// unlink detaches the purchase from every invoice and clears its
// installments, returning the invoices it was on.
func (s *PurchaseService) unlink(ctx context.Context, tx *Tx, purchaseID int64) ([]int64, error) {
	invoiceIDs, err := tx.ListPurchaseInvoiceIDs(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	for _, invoiceID := range invoiceIDs {
		if err := s.engine.Ledger.RemovePurchaseFromInvoice(ctx, tx, invoiceID, purchaseID); err != nil {
			return nil, err
		}
	}
	if err := s.engine.Planner.ClearInstallments(ctx, tx, purchaseID); err != nil {
		return nil, err
	}
	return invoiceIDs, nil
}
