package services

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cardbook/internal/billing"
	"cardbook/internal/core"
	"cardbook/internal/storage"
	"cardbook/internal/storage/memory"
)

func TestLedger_ScenarioB_ExpiredOpenInvoiceCloses(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)

	first, err := f.cards.CurrentInvoice(ctx, card.ID)
	if err != nil {
		t.Fatalf("CurrentInvoice: %v", err)
	}
	assertWindow(t, first, "2024-03-05", "2024-04-04")
	if first.Status != core.StatusOpen {
		t.Fatalf("status = %s, want OPEN", first.Status)
	}

	f.setToday(2024, 4, 10)
	next, err := f.cards.CurrentInvoice(ctx, card.ID)
	if err != nil {
		t.Fatalf("CurrentInvoice: %v", err)
	}
	assertWindow(t, next, "2024-04-05", "2024-05-04")
	if next.Status != core.StatusOpen || next.ID == first.ID {
		t.Fatalf("expected a new OPEN invoice, got %+v", next)
	}

	closed, err := f.store.GetInvoice(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if closed.Status != core.StatusClosed {
		t.Fatalf("old invoice status = %s, want CLOSED", closed.Status)
	}
	if f.publisher.count(core.EventInvoiceClosed) != 1 {
		t.Fatalf("expected one invoice.closed event, got %v", f.publisher.types())
	}
}

func TestLedger_PendingInvoiceOpensWhenItsWindowArrives(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)
	f.buy(t, card, 20000, 2, "Travel")

	invoices := f.invoices(t, card.ID)
	if len(invoices) != 2 || invoices[1].Status != core.StatusPending {
		t.Fatalf("expected OPEN + PENDING, got %+v", invoices)
	}

	f.setToday(2024, 4, 6)
	current, err := f.cards.CurrentInvoice(ctx, card.ID)
	if err != nil {
		t.Fatalf("CurrentInvoice: %v", err)
	}
	if current.ID != invoices[1].ID || current.Status != core.StatusOpen {
		t.Fatalf("expected pending invoice %d to open, got %+v", invoices[1].ID, current)
	}
	if current.Total.Cents != 10000 {
		t.Fatalf("total = %d, want 10000", current.Total.Cents)
	}

	after := f.invoices(t, card.ID)
	if countStatus(after, core.StatusOpen) != 1 || countStatus(after, core.StatusClosed) != 1 {
		t.Fatalf("unexpected statuses: %+v", after)
	}
}

func TestLedger_FindOrCreateInvoiceIsIdempotent(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)

	calc, err := billing.New(card.Billing, billing.AnchorCycleEnd)
	if err != nil {
		t.Fatalf("billing.New: %v", err)
	}
	w := calc.WindowForCycle(2024, 5)

	var ids []int64
	for i := 0; i < 2; i++ {
		err := f.engine.Run(ctx, card.ID, func(tx *Tx) error {
			inv, err := f.engine.Ledger.FindOrCreateInvoice(ctx, tx, card, w)
			ids = append(ids, inv.ID)
			return err
		})
		if err != nil {
			t.Fatalf("FindOrCreateInvoice: %v", err)
		}
	}

	if ids[0] != ids[1] {
		t.Fatalf("expected the same invoice, got %v", ids)
	}
	invoices := f.invoices(t, card.ID)
	if len(invoices) != 1 || invoices[0].Status != core.StatusPending {
		t.Fatalf("expected one PENDING invoice, got %+v", invoices)
	}
	if got := testutil.ToFloat64(f.metrics.InvoicesCreated.WithLabelValues("PENDING")); got != 1 {
		t.Fatalf("invoices created metric = %v, want 1", got)
	}
}

func TestLedger_FindOrCreateInvoiceClosesPastWindows(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)
	calc, _ := billing.New(card.Billing, billing.AnchorCycleEnd)

	err := f.engine.Run(ctx, card.ID, func(tx *Tx) error {
		inv, err := f.engine.Ledger.FindOrCreateInvoice(ctx, tx, card, calc.WindowForCycle(2024, 1))
		if err != nil {
			return err
		}
		if inv.Status != core.StatusClosed {
			t.Errorf("status = %s, want CLOSED", inv.Status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestLedger_ScenarioC_RecurringChargesPropagate(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)

	if _, err := f.store.CreateCategory(ctx, core.Category{Name: "Netflix", Repeat: true}); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	netflix := f.buy(t, card, 3990, 1, "Netflix")

	calc, _ := billing.New(card.Billing, billing.AnchorCycleEnd)
	var next core.Invoice
	err := f.engine.Run(ctx, card.ID, func(tx *Tx) error {
		var err error
		next, err = f.engine.Ledger.FindOrCreateInvoice(ctx, tx, card, calc.WindowForCycle(2024, 4))
		return err
	})
	if err != nil {
		t.Fatalf("FindOrCreateInvoice: %v", err)
	}

	if next.Total.Cents != 3990 {
		t.Fatalf("new invoice total = %d, want 3990", next.Total.Cents)
	}
	purchases, err := f.store.ListInvoicePurchases(ctx, next.ID)
	if err != nil {
		t.Fatalf("ListInvoicePurchases: %v", err)
	}
	if len(purchases) != 1 {
		t.Fatalf("expected one cloned purchase, got %+v", purchases)
	}
	clone := purchases[0]
	if clone.ID == netflix.ID || clone.Value != netflix.Value || clone.CategoryID != netflix.CategoryID || clone.HasInstallments {
		t.Fatalf("unexpected clone %+v of %+v", clone, netflix)
	}
	if got, want := clone.PurchaseDate().String(), "2024-04-15"; got != want {
		t.Fatalf("clone date = %s, want %s", got, want)
	}

	// A lookup hit never propagates again.
	err = f.engine.Run(ctx, card.ID, func(tx *Tx) error {
		_, err := f.engine.Ledger.FindOrCreateInvoice(ctx, tx, card, calc.WindowForCycle(2024, 4))
		return err
	})
	if err != nil {
		t.Fatalf("FindOrCreateInvoice again: %v", err)
	}
	purchases, _ = f.store.ListInvoicePurchases(ctx, next.ID)
	if len(purchases) != 1 {
		t.Fatalf("propagation ran twice: %d purchases", len(purchases))
	}
}

func TestLedger_PropagatesIntoInstallmentInvoices(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)
	if _, err := f.store.CreateCategory(ctx, core.Category{Name: "Netflix", Repeat: true}); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	f.buy(t, card, 3990, 1, "Netflix")
	f.buy(t, card, 100000, 2, "Electronics")

	invoices := f.invoices(t, card.ID)
	if len(invoices) != 2 {
		t.Fatalf("expected 2 invoices, got %d", len(invoices))
	}
	if got, want := invoices[1].Total.Cents, int64(3990+50000); got != want {
		t.Fatalf("second invoice total = %d, want %d", got, want)
	}
	if got, want := f.card(t, card.ID).UsedLimit.Cents, int64(3990+100000+3990); got != want {
		t.Fatalf("used limit = %d, want %d", got, want)
	}
}

func TestLedger_ScenarioD_RetroactiveInvoiceIsClosed(t *testing.T) {
	f := newFixture(t, 2024, 6, 20)
	ctx := context.Background()
	card := f.registerCard(t)

	p, err := f.purchases.CreatePurchase(ctx, core.PurchaseForm{
		CardID:            card.ID,
		Description:       "forgotten dinner",
		Value:             core.Money{Cents: 8500},
		TotalInstallments: 1,
		CategoryName:      "Food",
		PurchasedAt:       f.clock.Now().AddDate(0, -2, 0),
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	invoices := f.invoices(t, card.ID)
	if len(invoices) != 1 {
		t.Fatalf("expected one backdated invoice, got %+v", invoices)
	}
	inv := invoices[0]
	assertWindow(t, inv, "2024-04-05", "2024-05-04")
	if inv.Status != core.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", inv.Status)
	}
	if inv.Total != p.Value {
		t.Fatalf("total = %s, want %s", inv.Total, p.Value)
	}
	if f.card(t, card.ID).UsedLimit != p.Value {
		t.Fatal("closed invoices count against the used limit")
	}
}

func TestLedger_SingleOpenInvoiceOverTime(t *testing.T) {
	f := newFixture(t, 2024, 1, 1)
	ctx := context.Background()
	card := f.registerCard(t)

	for day := 0; day < 200; day += 6 {
		f.buy(t, card, 1000+int64(day), 1+day%4, "Misc")
		invoices := f.invoices(t, card.ID)
		if n := countStatus(invoices, core.StatusOpen); n != 1 {
			t.Fatalf("day %d: %d OPEN invoices", day, n)
		}
		for i := 1; i < len(invoices); i++ {
			if !invoices[i].StartDate.After(invoices[i-1].EndDate) {
				t.Fatalf("overlapping windows %s and %s", invoices[i-1].StartDate, invoices[i].StartDate)
			}
		}
		f.clock.AdvanceDays(6)
	}
	if _, err := f.cards.CurrentInvoice(ctx, card.ID); err != nil {
		t.Fatalf("CurrentInvoice: %v", err)
	}
}

func TestLedger_GetCurrentInvoiceForDate(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)
	current, _ := f.cards.CurrentInvoice(ctx, card.ID)

	got, err := f.cards.InvoiceForDate(ctx, card.ID, core.NewDate(2024, 4, 4))
	if err != nil || got == nil || got.ID != current.ID {
		t.Fatalf("InvoiceForDate(04-04) = %+v, %v", got, err)
	}

	got, err = f.cards.InvoiceForDate(ctx, card.ID, core.NewDate(2024, 4, 5))
	if err != nil || got != nil {
		t.Fatalf("InvoiceForDate(04-05) = %+v, %v, want nil", got, err)
	}
}

// racingStore simulates a concurrent writer: the first invoice insert is
// committed behind the caller's back and reported as a conflict.
type racingStore struct {
	storage.Store
	raced  *bool
	always bool
}

func (s *racingStore) WithinTx(ctx context.Context, fn func(storage.Store) error) error {
	return s.Store.WithinTx(ctx, func(inner storage.Store) error {
		return fn(&racingStore{Store: inner, raced: s.raced, always: s.always})
	})
}

func (s *racingStore) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	if s.always {
		return core.Invoice{}, storage.ErrDuplicate
	}
	if !*s.raced {
		*s.raced = true
		if _, err := s.Store.CreateInvoice(ctx, inv); err != nil {
			return core.Invoice{}, err
		}
		return core.Invoice{}, storage.ErrDuplicate
	}
	return s.Store.CreateInvoice(ctx, inv)
}

func TestLedger_ConflictRetriesFindOnce(t *testing.T) {
	raced := false
	f := newFixtureWithStore(t, &racingStore{Store: memory.New(), raced: &raced}, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)

	inv, err := f.cards.CurrentInvoice(ctx, card.ID)
	if err != nil {
		t.Fatalf("CurrentInvoice: %v", err)
	}
	if inv.ID == 0 || inv.Status != core.StatusOpen {
		t.Fatalf("expected the concurrently created invoice, got %+v", inv)
	}
	if len(f.invoices(t, card.ID)) != 1 {
		t.Fatal("conflict produced a duplicate invoice")
	}
	if got := testutil.ToFloat64(f.metrics.ConflictRetries); got != 1 {
		t.Fatalf("conflict retries = %v, want 1", got)
	}
}

func TestLedger_PersistentConflictSurfaces(t *testing.T) {
	raced := false
	f := newFixtureWithStore(t, &racingStore{Store: memory.New(), raced: &raced, always: true}, 2024, 3, 15)
	card := f.registerCard(t)

	_, err := f.cards.CurrentInvoice(context.Background(), card.ID)
	if !errors.Is(err, core.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
}

func TestLedger_PayRequiresClosed(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)
	f.buy(t, card, 10000, 1, "Food")

	open, _ := f.cards.CurrentInvoice(ctx, card.ID)
	if _, err := f.cards.PayInvoice(ctx, open.ID); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("paying an OPEN invoice: err = %v, want ErrInvalidArgument", err)
	}

	f.setToday(2024, 4, 10)
	paid, err := f.cards.PayInvoice(ctx, open.ID)
	if err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if paid.Status != core.StatusPaid {
		t.Fatalf("status = %s, want PAID", paid.Status)
	}
	if used := f.card(t, card.ID).UsedLimit; !used.IsZero() {
		t.Fatalf("used limit = %s, want 0 after payment", used)
	}
	if f.publisher.count(core.EventInvoicePaid) != 1 {
		t.Fatalf("expected invoice.paid, got %v", f.publisher.types())
	}
}
