package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardbook/internal/core"
	"cardbook/internal/storage"
)

func seed(t *testing.T, s *Store) (core.Card, core.Invoice) {
	t.Helper()
	ctx := context.Background()
	card, err := s.CreateCard(ctx, core.Card{
		Bank:       "Itau",
		LastDigits: "4321",
		Billing:    core.BillingConfig{CycleStartDay: 1, CycleEndDay: 31, DueDay: 10},
	})
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	inv, err := s.CreateInvoice(ctx, core.Invoice{
		CardID:    card.ID,
		StartDate: core.NewDate(2024, 1, 1),
		EndDate:   core.NewDate(2024, 1, 31),
		DueDate:   core.NewDate(2024, 2, 10),
		Status:    core.StatusOpen,
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	return card, inv
}

func TestStoreInvoiceUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	card, inv := seed(t, s)

	dup := inv
	dup.Status = core.StatusPending
	if _, err := s.CreateInvoice(ctx, dup); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("same window error = %v, want ErrDuplicate", err)
	}

	next := core.Invoice{
		CardID:    card.ID,
		StartDate: core.NewDate(2024, 2, 1),
		EndDate:   core.NewDate(2024, 2, 29),
		DueDate:   core.NewDate(2024, 3, 10),
		Status:    core.StatusOpen,
	}
	if _, err := s.CreateInvoice(ctx, next); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("second open invoice error = %v, want ErrDuplicate", err)
	}

	next.Status = core.StatusPending
	created, err := s.CreateInvoice(ctx, next)
	if err != nil {
		t.Fatalf("CreateInvoice pending: %v", err)
	}
	created.Status = core.StatusOpen
	if err := s.SaveInvoice(ctx, created); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("opening second invoice error = %v, want ErrDuplicate", err)
	}
}

func TestStoreWithinTxRestoresSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	card, inv := seed(t, s)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx storage.Store) error {
		inv.Total = core.Money{Cents: 999}
		if err := tx.SaveInvoice(ctx, inv); err != nil {
			return err
		}
		// Nested transactions join the outer one.
		return tx.WithinTx(ctx, func(inner storage.Store) error {
			if _, err := inner.CreateCategory(ctx, core.Category{Name: "Travel"}); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx error = %v, want boom", err)
	}

	got, _ := s.GetInvoice(ctx, inv.ID)
	if got.Total.Cents != 0 {
		t.Fatalf("total = %d, want rollback to 0", got.Total.Cents)
	}
	if _, err := s.FindCategoryByName(ctx, "Travel"); !errors.Is(err, core.ErrCategoryNotFound) {
		t.Fatalf("category should be rolled back, err = %v", err)
	}

	invoices, _ := s.ListInvoices(ctx, card.ID)
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(invoices))
	}
}

func TestStoreRepeatingPurchasesAndCascade(t *testing.T) {
	s := New()
	ctx := context.Background()
	card, inv := seed(t, s)

	streaming, _ := s.CreateCategory(ctx, core.Category{Name: "Streaming", Repeat: true})
	food, _ := s.CreateCategory(ctx, core.Category{Name: "Food"})

	mk := func(cat core.Category, day int) core.Purchase {
		p, err := s.CreatePurchase(ctx, core.Purchase{
			CardID:      card.ID,
			CategoryID:  cat.ID,
			Value:       core.Money{Cents: 1000},
			PurchasedAt: time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("CreatePurchase: %v", err)
		}
		if err := s.AttachPurchase(ctx, inv.ID, p.ID); err != nil {
			t.Fatalf("AttachPurchase: %v", err)
		}
		return p
	}
	sub := mk(streaming, 10)
	mk(food, 3)

	repeating, _ := s.FindRepeatingPurchases(ctx, card.ID, inv.ID)
	if len(repeating) != 1 || repeating[0].ID != sub.ID {
		t.Fatalf("FindRepeatingPurchases = %+v", repeating)
	}

	all, _ := s.ListInvoicePurchases(ctx, inv.ID)
	if len(all) != 2 || all[0].CategoryID != food.ID {
		t.Fatalf("ListInvoicePurchases should order by date, got %+v", all)
	}

	if _, err := s.CreateInstallment(ctx, core.Installment{PurchaseID: sub.ID, InvoiceID: inv.ID, Number: 1, Count: 1, Value: sub.Value}); err != nil {
		t.Fatalf("CreateInstallment: %v", err)
	}
	if _, err := s.CreateInstallment(ctx, core.Installment{PurchaseID: sub.ID, InvoiceID: inv.ID, Number: 1, Count: 1, Value: sub.Value}); !errors.Is(err, core.ErrConcurrencyConflict) {
		t.Fatalf("duplicate installment error = %v", err)
	}

	if err := s.DeletePurchase(ctx, sub.ID); err != nil {
		t.Fatalf("DeletePurchase: %v", err)
	}
	if has, _ := s.HasRepeatingPurchases(ctx, card.ID, inv.ID); has {
		t.Fatal("deleted purchase still linked")
	}
	if list, _ := s.ListInstallments(ctx, sub.ID); len(list) != 0 {
		t.Fatalf("installments not cascaded: %+v", list)
	}
}
