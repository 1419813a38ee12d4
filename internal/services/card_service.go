package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"cardbook/internal/core"
	applog "cardbook/internal/log"
)

// refreshConcurrency bounds how many cards RefreshAll evaluates at once.
const refreshConcurrency = 4

// CardService covers card registration and the invoice reads and actions
// exposed to callers.
type CardService struct {
	engine *Engine
}

func NewCardService(engine *Engine) *CardService {
	return &CardService{engine: engine}
}

func (s *CardService) RegisterCard(ctx context.Context, form core.CardForm) (core.Card, error) {
	if err := form.Validate(); err != nil {
		return core.Card{}, err
	}

	var card core.Card
	err := s.engine.Run(ctx, 0, func(tx *Tx) error {
		var err error
		card, err = tx.CreateCard(ctx, core.Card{
			Bank:          strings.TrimSpace(form.Bank),
			LastDigits:    form.LastDigits,
			Nickname:      strings.TrimSpace(form.Nickname),
			Billing:       form.Billing,
			TotalLimit:    form.TotalLimit,
			EstimateLimit: form.TotalLimit,
			CreatedAt:     tx.Now,
		})
		return err
	})
	if err != nil {
		return core.Card{}, fmt.Errorf("register card: %w", err)
	}

	slog.InfoContext(ctx, "Card registered",
		"card_id", card.ID,
		"bank", card.Bank,
		"last_digits", card.LastDigits,
		"cycle_start_day", card.Billing.CycleStartDay,
		"cycle_end_day", card.Billing.CycleEndDay,
		"due_day", card.Billing.DueDay)
	return card, nil
}

func (s *CardService) GetCard(ctx context.Context, cardID int64) (core.Card, error) {
	return s.engine.Store().GetCard(ctx, cardID)
}

func (s *CardService) ListCards(ctx context.Context) ([]core.Card, error) {
	return s.engine.Store().ListCards(ctx)
}

// CurrentInvoice returns the card's OPEN invoice as of today, applying any
// pending lifecycle transitions first.
func (s *CardService) CurrentInvoice(ctx context.Context, cardID int64) (core.Invoice, error) {
	var inv core.Invoice
	err := s.engine.Run(ctx, cardID, func(tx *Tx) error {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		inv, err = s.engine.Ledger.GetOrCreateCurrentInvoice(ctx, tx, card)
		return err
	})
	if err != nil {
		return core.Invoice{}, fmt.Errorf("current invoice of card %d: %w", cardID, err)
	}
	return inv, nil
}

// InvoiceForDate returns the stored invoice covering date, or nil.
func (s *CardService) InvoiceForDate(ctx context.Context, cardID int64, date core.Date) (*core.Invoice, error) {
	var inv *core.Invoice
	err := s.engine.Run(ctx, cardID, func(tx *Tx) error {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		if _, err := s.engine.Ledger.Advance(ctx, tx, card); err != nil {
			return err
		}
		inv, err = s.engine.Ledger.GetCurrentInvoiceForDate(ctx, tx, card, date)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("invoice of card %d for %s: %w", cardID, date, err)
	}
	return inv, nil
}

// ListInvoices returns the card's invoices by start date after applying due
// transitions, so statuses reflect today.
func (s *CardService) ListInvoices(ctx context.Context, cardID int64) ([]core.Invoice, error) {
	var invoices []core.Invoice
	err := s.engine.Run(ctx, cardID, func(tx *Tx) error {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		if _, err := s.engine.Ledger.Advance(ctx, tx, card); err != nil {
			return err
		}
		invoices, err = tx.ListInvoices(ctx, cardID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list invoices of card %d: %w", cardID, err)
	}
	return invoices, nil
}

// InvoiceDetail returns an invoice with one line per attached purchase.
func (s *CardService) InvoiceDetail(ctx context.Context, invoiceID int64) (core.InvoiceDetail, error) {
	var detail core.InvoiceDetail
	err := s.engine.Run(ctx, 0, func(tx *Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		card, err := tx.GetCard(ctx, inv.CardID)
		if err != nil {
			return err
		}
		purchases, err := tx.ListInvoicePurchases(ctx, inv.ID)
		if err != nil {
			return err
		}

		categories := map[int64]string{}
		lines := make([]core.StatementLine, 0, len(purchases))
		for _, p := range purchases {
			amount, in, err := Contribution(ctx, tx, inv, p)
			if err != nil {
				return err
			}
			name, ok := categories[p.CategoryID]
			if !ok {
				c, err := tx.GetCategory(ctx, p.CategoryID)
				if err != nil {
					return err
				}
				name = c.Name
				categories[p.CategoryID] = name
			}
			line := core.StatementLine{
				PurchaseID:  p.ID,
				Description: p.Description,
				Category:    name,
				Date:        p.PurchaseDate(),
				Amount:      amount,
			}
			if in != nil {
				line.Installment = in.Number
				line.OfCount = in.Count
			}
			lines = append(lines, line)
		}

		detail = core.InvoiceDetail{Invoice: inv, Card: card, Lines: lines}
		return nil
	})
	if err != nil {
		return core.InvoiceDetail{}, fmt.Errorf("invoice %d detail: %w", invoiceID, err)
	}
	return detail, nil
}

// PayInvoice marks a CLOSED invoice PAID and releases its amount from the
// card's used limit.
func (s *CardService) PayInvoice(ctx context.Context, invoiceID int64) (core.Invoice, error) {
	current, err := s.engine.Store().GetInvoice(ctx, invoiceID)
	if err != nil {
		return core.Invoice{}, err
	}

	var paid core.Invoice
	err = s.engine.Run(ctx, current.CardID, func(tx *Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		card, err := tx.GetCard(ctx, inv.CardID)
		if err != nil {
			return err
		}
		// Bring statuses up to date so an invoice that ended yesterday can be paid.
		if _, err := s.engine.Ledger.Advance(ctx, tx, card); err != nil {
			return err
		}
		if inv, err = tx.GetInvoice(ctx, invoiceID); err != nil {
			return err
		}
		if paid, err = s.engine.Ledger.Pay(ctx, tx, inv); err != nil {
			return err
		}
		_, err = s.engine.Reconciler.RecomputeUsedLimit(ctx, tx, card)
		return err
	})
	if err != nil {
		return core.Invoice{}, fmt.Errorf("pay invoice %d: %w", invoiceID, err)
	}
	return paid, nil
}

// RecomputeTotal reconciles one invoice total and the owning card's used limit.
func (s *CardService) RecomputeTotal(ctx context.Context, invoiceID int64) (core.Invoice, error) {
	current, err := s.engine.Store().GetInvoice(ctx, invoiceID)
	if err != nil {
		return core.Invoice{}, err
	}

	var inv core.Invoice
	err = s.engine.Run(ctx, current.CardID, func(tx *Tx) error {
		stored, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv, err = s.engine.Reconciler.RecomputeTotal(ctx, tx, stored); err != nil {
			return err
		}
		card, err := tx.GetCard(ctx, inv.CardID)
		if err != nil {
			return err
		}
		_, err = s.engine.Reconciler.RecomputeUsedLimit(ctx, tx, card)
		return err
	})
	return inv, err
}

// RecomputeUsedLimit reconciles the card's used limit.
func (s *CardService) RecomputeUsedLimit(ctx context.Context, cardID int64) (core.Card, error) {
	var card core.Card
	err := s.engine.Run(ctx, cardID, func(tx *Tx) error {
		stored, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		card, err = s.engine.Reconciler.RecomputeUsedLimit(ctx, tx, stored)
		return err
	})
	return card, err
}

// RefreshAll evaluates the current invoice of every card concurrently. It is
// the explicit trigger for transitions that would otherwise wait for the next
// read or purchase.
func (s *CardService) RefreshAll(ctx context.Context) ([]core.Invoice, error) {
	cards, err := s.engine.Store().ListCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	current := make([]core.Invoice, len(cards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for i, card := range cards {
		g.Go(func() error {
			inv, err := s.CurrentInvoice(gctx, card.ID)
			if err != nil {
				return err
			}
			current[i] = inv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Cards refreshed", applog.FieldOperation, applog.OpRefresh, "count", len(cards))
	return current, nil
}
