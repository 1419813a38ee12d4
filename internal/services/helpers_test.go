package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cardbook/internal/billing"
	"cardbook/internal/clock"
	"cardbook/internal/core"
	"cardbook/internal/metrics"
	"cardbook/internal/storage"
	"cardbook/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.Event
}

func (p *recordingPublisher) PublishEvent(_ context.Context, e core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []core.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) count(t core.EventType) int {
	n := 0
	for _, got := range p.types() {
		if got == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store     storage.Store
	clock     *clock.Fake
	metrics   *metrics.Collector
	publisher *recordingPublisher
	engine    *Engine
	cards     *CardService
	purchases *PurchaseService
}

func newFixture(t *testing.T, year, month, day int) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New(), year, month, day)
}

func newFixtureWithStore(t *testing.T, store storage.Store, year, month, day int) *fixture {
	t.Helper()
	f := &fixture{
		store:     store,
		clock:     clock.NewFakeDate(year, month, day),
		metrics:   metrics.NewWithRegistry(prometheus.NewRegistry()),
		publisher: &recordingPublisher{},
	}
	f.engine = NewEngine(store, f.clock, billing.AnchorCycleEnd,
		WithPublisher(f.publisher),
		WithMetrics(f.metrics),
	)
	f.cards = NewCardService(f.engine)
	f.purchases = NewPurchaseService(f.engine)
	return f
}

func (f *fixture) setToday(year, month, day int) {
	f.clock.Set(time.Date(year, time.Month(month), day, 12, 0, 0, 0, time.UTC))
}

// card 5/4/10: windows run from the 5th to the 4th of the next month.
func (f *fixture) registerCard(t *testing.T) core.Card {
	t.Helper()
	card, err := f.cards.RegisterCard(context.Background(), core.CardForm{
		Bank:       "Nubank",
		LastDigits: "1234",
		Billing:    core.BillingConfig{CycleStartDay: 5, CycleEndDay: 4, DueDay: 10},
		TotalLimit: core.Money{Cents: 1_000_000},
	})
	if err != nil {
		t.Fatalf("RegisterCard: %v", err)
	}
	return card
}

func (f *fixture) buy(t *testing.T, card core.Card, cents int64, n int, category string) core.Purchase {
	t.Helper()
	p, err := f.purchases.CreatePurchase(context.Background(), core.PurchaseForm{
		CardID:            card.ID,
		Description:       category + " purchase",
		Value:             core.Money{Cents: cents},
		TotalInstallments: n,
		CategoryName:      category,
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	return p
}

func (f *fixture) invoices(t *testing.T, cardID int64) []core.Invoice {
	t.Helper()
	invoices, err := f.store.ListInvoices(context.Background(), cardID)
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	return invoices
}

func (f *fixture) card(t *testing.T, cardID int64) core.Card {
	t.Helper()
	card, err := f.store.GetCard(context.Background(), cardID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	return card
}

func countStatus(invoices []core.Invoice, status core.InvoiceStatus) int {
	n := 0
	for _, inv := range invoices {
		if inv.Status == status {
			n++
		}
	}
	return n
}

func assertWindow(t *testing.T, inv core.Invoice, start, end string) {
	t.Helper()
	if inv.StartDate.String() != start || inv.EndDate.String() != end {
		t.Fatalf("window = [%s, %s], want [%s, %s]", inv.StartDate, inv.EndDate, start, end)
	}
}
