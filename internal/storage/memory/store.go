// Package memory is an in-process storage.Store used by tests and the
// "memory" data backend. Transactions hold the store lock and restore a
// snapshot on failure.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"

	"cardbook/internal/core"
	"cardbook/internal/storage"
)

type link struct {
	invoiceID  int64
	purchaseID int64
}

type data struct {
	nextID       int64
	cards        map[int64]core.Card
	invoices     map[int64]core.Invoice
	purchases    map[int64]core.Purchase
	categories   map[int64]core.Category
	installments map[int64]core.Installment
	links        map[link]struct{}
}

func (d *data) clone() data {
	return data{
		nextID:       d.nextID,
		cards:        maps.Clone(d.cards),
		invoices:     maps.Clone(d.invoices),
		purchases:    maps.Clone(d.purchases),
		categories:   maps.Clone(d.categories),
		installments: maps.Clone(d.installments),
		links:        maps.Clone(d.links),
	}
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

type Store struct {
	mu   *sync.Mutex
	d    *data
	inTx bool
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		d: &data{
			cards:        map[int64]core.Card{},
			invoices:     map[int64]core.Invoice{},
			purchases:    map[int64]core.Purchase{},
			categories:   map[int64]core.Category{},
			installments: map[int64]core.Installment{},
			links:        map[link]struct{}{},
		},
	}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Close() error { return nil }

func (s *Store) WithinTx(ctx context.Context, fn func(storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(&Store{mu: s.mu, d: s.d, inTx: true}); err != nil {
		*s.d = snapshot
		slog.DebugContext(ctx, "Memory transaction rolled back", "error", err)
		return err
	}
	return nil
}

// Cards

func (s *Store) GetCard(_ context.Context, id int64) (core.Card, error) {
	defer s.lock()()
	c, ok := s.d.cards[id]
	if !ok {
		return core.Card{}, core.ErrCardNotFound
	}
	return c, nil
}

func (s *Store) ListCards(_ context.Context) ([]core.Card, error) {
	defer s.lock()()
	out := make([]core.Card, 0, len(s.d.cards))
	for _, c := range s.d.cards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateCard(_ context.Context, c core.Card) (core.Card, error) {
	defer s.lock()()
	c.ID = s.d.id()
	s.d.cards[c.ID] = c
	return c, nil
}

func (s *Store) SaveCardLimits(_ context.Context, c core.Card) error {
	defer s.lock()()
	cur, ok := s.d.cards[c.ID]
	if !ok {
		return core.ErrCardNotFound
	}
	cur.UsedLimit = c.UsedLimit
	cur.EstimateLimit = c.EstimateLimit
	s.d.cards[c.ID] = cur
	return nil
}

// Invoices

func (s *Store) sortedInvoices(keep func(core.Invoice) bool) []core.Invoice {
	var out []core.Invoice
	for _, inv := range s.d.invoices {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out
}

func (s *Store) GetInvoice(_ context.Context, id int64) (core.Invoice, error) {
	defer s.lock()()
	inv, ok := s.d.invoices[id]
	if !ok {
		return core.Invoice{}, core.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Store) FindInvoicesByStatus(_ context.Context, cardID int64, status core.InvoiceStatus) ([]core.Invoice, error) {
	defer s.lock()()
	return s.sortedInvoices(func(inv core.Invoice) bool {
		return inv.CardID == cardID && inv.Status == status
	}), nil
}

func (s *Store) FindFirstInvoiceByStatus(ctx context.Context, cardID int64, status core.InvoiceStatus) (core.Invoice, error) {
	invoices, err := s.FindInvoicesByStatus(ctx, cardID, status)
	if err != nil {
		return core.Invoice{}, err
	}
	if len(invoices) == 0 {
		return core.Invoice{}, core.ErrInvoiceNotFound
	}
	return invoices[0], nil
}

func (s *Store) FindInvoiceByWindow(_ context.Context, cardID int64, start, end core.Date) (core.Invoice, error) {
	defer s.lock()()
	for _, inv := range s.d.invoices {
		if inv.CardID == cardID && inv.StartDate.Equal(start) && inv.EndDate.Equal(end) {
			return inv, nil
		}
	}
	return core.Invoice{}, core.ErrInvoiceNotFound
}

func (s *Store) FindInvoiceContaining(_ context.Context, cardID int64, d core.Date) (core.Invoice, error) {
	defer s.lock()()
	matches := s.sortedInvoices(func(inv core.Invoice) bool {
		return inv.CardID == cardID && inv.Contains(d)
	})
	if len(matches) == 0 {
		return core.Invoice{}, core.ErrInvoiceNotFound
	}
	return matches[len(matches)-1], nil
}

func (s *Store) FindLatestInvoiceBefore(_ context.Context, cardID int64, start core.Date) (core.Invoice, error) {
	defer s.lock()()
	matches := s.sortedInvoices(func(inv core.Invoice) bool {
		return inv.CardID == cardID && inv.StartDate.Before(start)
	})
	if len(matches) == 0 {
		return core.Invoice{}, core.ErrInvoiceNotFound
	}
	return matches[len(matches)-1], nil
}

func (s *Store) ListInvoices(_ context.Context, cardID int64) ([]core.Invoice, error) {
	defer s.lock()()
	return s.sortedInvoices(func(inv core.Invoice) bool { return inv.CardID == cardID }), nil
}

// conflicts reports whether inv would break the window key or the
// one-open-invoice rule against any other stored invoice.
func (s *Store) conflicts(inv core.Invoice) bool {
	for _, other := range s.d.invoices {
		if other.ID == inv.ID || other.CardID != inv.CardID {
			continue
		}
		if other.StartDate.Equal(inv.StartDate) && other.EndDate.Equal(inv.EndDate) {
			return true
		}
		if inv.Status == core.StatusOpen && other.Status == core.StatusOpen {
			return true
		}
	}
	return false
}

func (s *Store) CreateInvoice(_ context.Context, inv core.Invoice) (core.Invoice, error) {
	defer s.lock()()
	if _, ok := s.d.cards[inv.CardID]; !ok {
		return core.Invoice{}, core.ErrCardNotFound
	}
	inv.ID = 0
	if s.conflicts(inv) {
		return core.Invoice{}, storage.ErrDuplicate
	}
	inv.ID = s.d.id()
	s.d.invoices[inv.ID] = inv
	return inv, nil
}

func (s *Store) SaveInvoice(_ context.Context, inv core.Invoice) error {
	defer s.lock()()
	cur, ok := s.d.invoices[inv.ID]
	if !ok {
		return core.ErrInvoiceNotFound
	}
	cur.Status = inv.Status
	cur.Total = inv.Total
	if s.conflicts(cur) {
		return storage.ErrDuplicate
	}
	s.d.invoices[cur.ID] = cur
	return nil
}

// Purchases

func (s *Store) sortedPurchases(keep func(core.Purchase) bool) []core.Purchase {
	var out []core.Purchase
	for _, p := range s.d.purchases {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PurchasedAt.Equal(out[j].PurchasedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PurchasedAt.Before(out[j].PurchasedAt)
	})
	return out
}

func (s *Store) GetPurchase(_ context.Context, id int64) (core.Purchase, error) {
	defer s.lock()()
	p, ok := s.d.purchases[id]
	if !ok {
		return core.Purchase{}, core.ErrPurchaseNotFound
	}
	return p, nil
}

func (s *Store) CreatePurchase(_ context.Context, p core.Purchase) (core.Purchase, error) {
	defer s.lock()()
	if _, ok := s.d.cards[p.CardID]; !ok {
		return core.Purchase{}, core.ErrCardNotFound
	}
	if _, ok := s.d.categories[p.CategoryID]; !ok {
		return core.Purchase{}, core.ErrCategoryNotFound
	}
	p.ID = s.d.id()
	s.d.purchases[p.ID] = p
	return p, nil
}

func (s *Store) SavePurchase(_ context.Context, p core.Purchase) error {
	defer s.lock()()
	if _, ok := s.d.purchases[p.ID]; !ok {
		return core.ErrPurchaseNotFound
	}
	s.d.purchases[p.ID] = p
	return nil
}

func (s *Store) DeletePurchase(_ context.Context, id int64) error {
	defer s.lock()()
	if _, ok := s.d.purchases[id]; !ok {
		return core.ErrPurchaseNotFound
	}
	delete(s.d.purchases, id)
	for l := range s.d.links {
		if l.purchaseID == id {
			delete(s.d.links, l)
		}
	}
	for k, in := range s.d.installments {
		if in.PurchaseID == id {
			delete(s.d.installments, k)
		}
	}
	return nil
}

func (s *Store) AttachPurchase(_ context.Context, invoiceID, purchaseID int64) error {
	defer s.lock()()
	if _, ok := s.d.invoices[invoiceID]; !ok {
		return core.ErrInvoiceNotFound
	}
	if _, ok := s.d.purchases[purchaseID]; !ok {
		return core.ErrPurchaseNotFound
	}
	s.d.links[link{invoiceID, purchaseID}] = struct{}{}
	return nil
}

func (s *Store) DetachPurchase(_ context.Context, invoiceID, purchaseID int64) error {
	defer s.lock()()
	delete(s.d.links, link{invoiceID, purchaseID})
	return nil
}

func (s *Store) ListInvoicePurchases(_ context.Context, invoiceID int64) ([]core.Purchase, error) {
	defer s.lock()()
	return s.sortedPurchases(func(p core.Purchase) bool {
		_, ok := s.d.links[link{invoiceID, p.ID}]
		return ok
	}), nil
}

func (s *Store) ListPurchaseInvoiceIDs(_ context.Context, purchaseID int64) ([]int64, error) {
	defer s.lock()()
	var ids []int64
	for l := range s.d.links {
		if l.purchaseID == purchaseID {
			ids = append(ids, l.invoiceID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) repeating(cardID, invoiceID int64) []core.Purchase {
	return s.sortedPurchases(func(p core.Purchase) bool {
		if p.CardID != cardID {
			return false
		}
		if _, ok := s.d.links[link{invoiceID, p.ID}]; !ok {
			return false
		}
		return s.d.categories[p.CategoryID].Repeat
	})
}

func (s *Store) HasRepeatingPurchases(_ context.Context, cardID, invoiceID int64) (bool, error) {
	defer s.lock()()
	return len(s.repeating(cardID, invoiceID)) > 0, nil
}

func (s *Store) FindRepeatingPurchases(_ context.Context, cardID, invoiceID int64) ([]core.Purchase, error) {
	defer s.lock()()
	return s.repeating(cardID, invoiceID), nil
}

// Installments

func (s *Store) CreateInstallment(_ context.Context, in core.Installment) (core.Installment, error) {
	defer s.lock()()
	if _, ok := s.d.purchases[in.PurchaseID]; !ok {
		return core.Installment{}, core.ErrPurchaseNotFound
	}
	for _, other := range s.d.installments {
		if other.PurchaseID == in.PurchaseID && other.Number == in.Number {
			return core.Installment{}, fmt.Errorf("installment %d of purchase %d: %w", in.Number, in.PurchaseID, core.ErrConcurrencyConflict)
		}
	}
	in.ID = s.d.id()
	s.d.installments[in.ID] = in
	return in, nil
}

func (s *Store) ListInstallments(_ context.Context, purchaseID int64) ([]core.Installment, error) {
	defer s.lock()()
	var out []core.Installment
	for _, in := range s.d.installments {
		if in.PurchaseID == purchaseID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) FindInstallment(ctx context.Context, purchaseID, invoiceID int64) (core.Installment, error) {
	installments, err := s.ListInstallments(ctx, purchaseID)
	if err != nil {
		return core.Installment{}, err
	}
	for _, in := range installments {
		if in.InvoiceID == invoiceID {
			return in, nil
		}
	}
	return core.Installment{}, fmt.Errorf("installment of purchase %d in invoice %d: %w", purchaseID, invoiceID, core.ErrNotFound)
}

func (s *Store) DeleteInstallments(_ context.Context, purchaseID int64) error {
	defer s.lock()()
	for k, in := range s.d.installments {
		if in.PurchaseID == purchaseID {
			delete(s.d.installments, k)
		}
	}
	return nil
}

// Categories

func (s *Store) GetCategory(_ context.Context, id int64) (core.Category, error) {
	defer s.lock()()
	c, ok := s.d.categories[id]
	if !ok {
		return core.Category{}, core.ErrCategoryNotFound
	}
	return c, nil
}

func (s *Store) FindCategoryByName(_ context.Context, name string) (core.Category, error) {
	defer s.lock()()
	for _, c := range s.d.categories {
		if c.Name == name {
			return c, nil
		}
	}
	return core.Category{}, core.ErrCategoryNotFound
}

func (s *Store) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	defer s.lock()()
	c.Name = strings.TrimSpace(c.Name)
	for _, other := range s.d.categories {
		if other.Name == c.Name {
			return core.Category{}, fmt.Errorf("category %q: %w", c.Name, core.ErrConcurrencyConflict)
		}
	}
	c.ID = s.d.id()
	s.d.categories[c.ID] = c
	return c, nil
}

func (s *Store) SaveCategory(_ context.Context, c core.Category) error {
	defer s.lock()()
	if _, ok := s.d.categories[c.ID]; !ok {
		return core.ErrCategoryNotFound
	}
	s.d.categories[c.ID] = c
	return nil
}
