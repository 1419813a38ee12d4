package storage

import (
	"context"
	"fmt"

	"cardbook/internal/core"
)

// ErrDuplicate is returned when an insert hits the invoice window key or the
// one-open-invoice-per-card rule.
var ErrDuplicate = fmt.Errorf("duplicate invoice: %w", core.ErrConcurrencyConflict)

// Repository ports consumed by the billing engine.
type (
	CardRepository interface {
		GetCard(ctx context.Context, id int64) (core.Card, error)
		ListCards(ctx context.Context) ([]core.Card, error)
		CreateCard(ctx context.Context, c core.Card) (core.Card, error)
		// SaveCardLimits persists UsedLimit and EstimateLimit.
		SaveCardLimits(ctx context.Context, c core.Card) error
	}

	InvoiceRepository interface {
		GetInvoice(ctx context.Context, id int64) (core.Invoice, error)
		// FindInvoicesByStatus returns matches ordered by start date.
		FindInvoicesByStatus(ctx context.Context, cardID int64, status core.InvoiceStatus) ([]core.Invoice, error)
		FindFirstInvoiceByStatus(ctx context.Context, cardID int64, status core.InvoiceStatus) (core.Invoice, error)
		FindInvoiceByWindow(ctx context.Context, cardID int64, start, end core.Date) (core.Invoice, error)
		FindInvoiceContaining(ctx context.Context, cardID int64, d core.Date) (core.Invoice, error)
		// FindLatestInvoiceBefore returns the invoice with the greatest start
		// date strictly before start.
		FindLatestInvoiceBefore(ctx context.Context, cardID int64, start core.Date) (core.Invoice, error)
		ListInvoices(ctx context.Context, cardID int64) ([]core.Invoice, error)
		CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error)
		// SaveInvoice persists Status and Total.
		SaveInvoice(ctx context.Context, inv core.Invoice) error
	}

	PurchaseRepository interface {
		GetPurchase(ctx context.Context, id int64) (core.Purchase, error)
		CreatePurchase(ctx context.Context, p core.Purchase) (core.Purchase, error)
		SavePurchase(ctx context.Context, p core.Purchase) error
		DeletePurchase(ctx context.Context, id int64) error
		AttachPurchase(ctx context.Context, invoiceID, purchaseID int64) error
		DetachPurchase(ctx context.Context, invoiceID, purchaseID int64) error
		ListInvoicePurchases(ctx context.Context, invoiceID int64) ([]core.Purchase, error)
		ListPurchaseInvoiceIDs(ctx context.Context, purchaseID int64) ([]int64, error)
		HasRepeatingPurchases(ctx context.Context, cardID, invoiceID int64) (bool, error)
		FindRepeatingPurchases(ctx context.Context, cardID, invoiceID int64) ([]core.Purchase, error)

		CreateInstallment(ctx context.Context, in core.Installment) (core.Installment, error)
		ListInstallments(ctx context.Context, purchaseID int64) ([]core.Installment, error)
		FindInstallment(ctx context.Context, purchaseID, invoiceID int64) (core.Installment, error)
		DeleteInstallments(ctx context.Context, purchaseID int64) error
	}

	CategoryRepository interface {
		GetCategory(ctx context.Context, id int64) (core.Category, error)
		FindCategoryByName(ctx context.Context, name string) (core.Category, error)
		CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
		SaveCategory(ctx context.Context, c core.Category) error
	}

	// Store is the unit of work. WithinTx runs fn against a transactional view;
	// nested calls reuse the outer transaction.
	Store interface {
		CardRepository
		InvoiceRepository
		PurchaseRepository
		CategoryRepository
		WithinTx(ctx context.Context, fn func(Store) error) error
		Close() error
	}
)
