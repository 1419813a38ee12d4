package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardbook/internal/core"
)

func TestPlanner_ScenarioA_ThreeInstallments(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)

	p, err := f.purchases.CreatePurchase(ctx, core.PurchaseForm{
		CardID:            card.ID,
		Description:       "Headphones",
		Value:             core.Money{Cents: 30000},
		TotalInstallments: 3,
		CategoryName:      "Electronics",
		PurchasedAt:       time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if !p.HasInstallments {
		t.Fatal("expected HasInstallments")
	}

	invoices := f.invoices(t, card.ID)
	if len(invoices) != 3 {
		t.Fatalf("expected 3 invoices, got %d", len(invoices))
	}
	want := [][2]string{
		{"2024-03-05", "2024-04-04"},
		{"2024-04-05", "2024-05-04"},
		{"2024-05-05", "2024-06-04"},
	}
	for i, inv := range invoices {
		assertWindow(t, inv, want[i][0], want[i][1])
		if inv.Total.Cents != 10000 {
			t.Errorf("invoice %d total = %s, want 100.00", i, inv.Total)
		}
	}
	if invoices[0].Status != core.StatusOpen || invoices[1].Status != core.StatusPending || invoices[2].Status != core.StatusPending {
		t.Fatalf("unexpected statuses: %s %s %s", invoices[0].Status, invoices[1].Status, invoices[2].Status)
	}
	if got := invoices[0].DueDate.String(); got != "2024-04-10" {
		t.Fatalf("first due date = %s, want 2024-04-10", got)
	}

	installments, err := f.store.ListInstallments(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListInstallments: %v", err)
	}
	for i, in := range installments {
		if in.Number != i+1 || in.Count != 3 || in.InvoiceID != invoices[i].ID {
			t.Fatalf("installment %d = %+v", i, in)
		}
	}
	if used := f.card(t, card.ID).UsedLimit.Cents; used != 30000 {
		t.Fatalf("used limit = %d, want 30000", used)
	}
}

func TestPlanner_InstallmentConservation(t *testing.T) {
	tests := []struct {
		name  string
		cents int64
		n     int
		want  []int64
	}{
		{name: "exact", cents: 30000, n: 3, want: []int64{10000, 10000, 10000}},
		{name: "last absorbs remainder", cents: 10000, n: 3, want: []int64{3333, 3333, 3334}},
		{name: "rounded up share", cents: 20000, n: 3, want: []int64{6667, 6667, 6666}},
		{name: "twelve months", cents: 99999, n: 12, want: nil},
		{name: "one cent each", cents: 3, n: 3, want: []int64{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 2024, 3, 15)
			card := f.registerCard(t)
			p := f.buy(t, card, tt.cents, tt.n, "Misc")

			installments, err := f.store.ListInstallments(context.Background(), p.ID)
			if err != nil {
				t.Fatalf("ListInstallments: %v", err)
			}
			if len(installments) != tt.n {
				t.Fatalf("got %d installments, want %d", len(installments), tt.n)
			}

			var sum int64
			for i, in := range installments {
				sum += in.Value.Cents
				if tt.want != nil && in.Value.Cents != tt.want[i] {
					t.Errorf("installment %d = %d, want %d", i+1, in.Value.Cents, tt.want[i])
				}
			}
			if sum != tt.cents {
				t.Fatalf("sum = %d, want %d", sum, tt.cents)
			}

			var invoiceSum int64
			for _, inv := range f.invoices(t, card.ID) {
				invoiceSum += inv.Total.Cents
			}
			if invoiceSum != tt.cents {
				t.Fatalf("invoice totals = %d, want %d", invoiceSum, tt.cents)
			}
		})
	}
}

func TestPlanner_CategoryResolution(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	ctx := context.Background()
	card := f.registerCard(t)

	first := f.buy(t, card, 1000, 1, "Groceries")
	second := f.buy(t, card, 2000, 1, "Groceries")
	third := f.buy(t, card, 3000, 1, "groceries")

	if first.CategoryID != second.CategoryID {
		t.Fatal("same name should reuse the category")
	}
	if first.CategoryID == third.CategoryID {
		t.Fatal("category names are case-sensitive")
	}

	c, err := f.store.GetCategory(ctx, first.CategoryID)
	if err != nil {
		t.Fatalf("GetCategory: %v", err)
	}
	if c.Editable || c.Repeat {
		t.Fatalf("auto-created category should be non-editable and non-repeating: %+v", c)
	}
}

func TestPlanner_RejectsInvalidForms(t *testing.T) {
	f := newFixture(t, 2024, 3, 15)
	card := f.registerCard(t)

	tests := []struct {
		name string
		form core.PurchaseForm
		want error
	}{
		{
			name: "zero value",
			form: core.PurchaseForm{CardID: card.ID, Value: core.Money{}, TotalInstallments: 1, CategoryName: "A"},
			want: core.ErrInvalidAmount,
		},
		{
			name: "no installments",
			form: core.PurchaseForm{CardID: card.ID, Value: core.Money{Cents: 100}, TotalInstallments: 0, CategoryName: "A"},
			want: core.ErrInvalidInstallments,
		},
		{
			name: "fewer cents than installments",
			form: core.PurchaseForm{CardID: card.ID, Value: core.Money{Cents: 2}, TotalInstallments: 3, CategoryName: "A"},
			want: core.ErrValueTooSmall,
		},
		{
			name: "blank category",
			form: core.PurchaseForm{CardID: card.ID, Value: core.Money{Cents: 100}, TotalInstallments: 1, CategoryName: "  "},
			want: core.ErrEmptyCategory,
		},
		{
			name: "unknown card",
			form: core.PurchaseForm{CardID: 999, Value: core.Money{Cents: 100}, TotalInstallments: 1, CategoryName: "A"},
			want: core.ErrCardNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.purchases.CreatePurchase(context.Background(), tt.form)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if n := len(f.invoices(t, card.ID)); n != 0 {
		t.Fatalf("rejected purchases created %d invoices", n)
	}
}

func TestPlanner_RetroactiveInstallmentsContinueFromBackdatedWindow(t *testing.T) {
	f := newFixture(t, 2024, 6, 20)
	ctx := context.Background()
	card := f.registerCard(t)

	_, err := f.purchases.CreatePurchase(ctx, core.PurchaseForm{
		CardID:            card.ID,
		Value:             core.Money{Cents: 60000},
		TotalInstallments: 3,
		CategoryName:      "Furniture",
		PurchasedAt:       time.Date(2024, 4, 20, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	invoices := f.invoices(t, card.ID)
	if len(invoices) != 3 {
		t.Fatalf("expected 3 invoices, got %d", len(invoices))
	}
	// April and May windows are over; June's window contains today but only
	// opens on the next read.
	wantStatus := []core.InvoiceStatus{core.StatusClosed, core.StatusClosed, core.StatusPending}
	for i, inv := range invoices {
		if inv.Status != wantStatus[i] {
			t.Errorf("invoice %d [%s, %s] status = %s, want %s", i, inv.StartDate, inv.EndDate, inv.Status, wantStatus[i])
		}
	}

	current, err := f.cards.CurrentInvoice(ctx, card.ID)
	if err != nil {
		t.Fatalf("CurrentInvoice: %v", err)
	}
	if current.ID != invoices[2].ID || current.Status != core.StatusOpen {
		t.Fatalf("expected the PENDING June invoice to open, got %+v", current)
	}
}
