package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cardbook/internal/core"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339

// SQLiteRepository implements Store on top of modernc.org/sqlite. A repository
// returned by WithinTx is bound to that transaction.
type SQLiteRepository struct {
	db      *sql.DB
	tx      *sql.Tx
	queries *Queries
}

var _ Store = (*SQLiteRepository)(nil)

// DSN adds the pragmas the engine relies on: foreign keys for cascades,
// WAL plus a busy timeout for concurrent writers, and immediate transactions
// so the invoice lookup-then-insert sequence holds the write lock.
func DSN(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.tx != nil {
		return nil
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// WithinTx commits when fn returns nil and rolls back otherwise.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(Store) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txRepo := &SQLiteRepository{db: r.db, tx: tx, queries: r.queries.WithTx(tx)}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// notFound maps sql.ErrNoRows onto the domain sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Cards

func cardFromRow(row Card) (core.Card, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return core.Card{}, err
	}
	return core.Card{
		ID:         row.ID,
		Bank:       row.Bank,
		LastDigits: row.LastDigits,
		Nickname:   row.Nickname,
		Billing: core.BillingConfig{
			CycleStartDay: int(row.CycleStartDay),
			CycleEndDay:   int(row.CycleEndDay),
			DueDay:        int(row.DueDay),
		},
		TotalLimit:    core.Money{Cents: row.TotalLimitCents},
		UsedLimit:     core.Money{Cents: row.UsedLimitCents},
		EstimateLimit: core.Money{Cents: row.EstimateLimitCents},
		CreatedAt:     createdAt,
	}, nil
}

func (r *SQLiteRepository) GetCard(ctx context.Context, id int64) (core.Card, error) {
	row, err := r.queries.GetCard(ctx, id)
	if err != nil {
		return core.Card{}, notFound(err, core.ErrCardNotFound)
	}
	return cardFromRow(row)
}

func (r *SQLiteRepository) ListCards(ctx context.Context) ([]core.Card, error) {
	rows, err := r.queries.ListCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	cards := make([]core.Card, 0, len(rows))
	for _, row := range rows {
		c, err := cardFromRow(row)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

func (r *SQLiteRepository) CreateCard(ctx context.Context, c core.Card) (core.Card, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	row, err := r.queries.CreateCard(ctx, CreateCardParams{
		Bank:               c.Bank,
		LastDigits:         c.LastDigits,
		Nickname:           c.Nickname,
		CycleStartDay:      int64(c.Billing.CycleStartDay),
		CycleEndDay:        int64(c.Billing.CycleEndDay),
		DueDay:             int64(c.Billing.DueDay),
		TotalLimitCents:    c.TotalLimit.Cents,
		UsedLimitCents:     c.UsedLimit.Cents,
		EstimateLimitCents: c.EstimateLimit.Cents,
		CreatedAt:          formatTime(c.CreatedAt),
	})
	if err != nil {
		return core.Card{}, fmt.Errorf("create card: %w", err)
	}

	slog.InfoContext(ctx, "Card saved to SQLite", "id", row.ID, "bank", row.Bank, "last_digits", row.LastDigits)
	return cardFromRow(row)
}

func (r *SQLiteRepository) SaveCardLimits(ctx context.Context, c core.Card) error {
	n, err := r.queries.UpdateCardLimits(ctx, UpdateCardLimitsParams{
		UsedLimitCents:     c.UsedLimit.Cents,
		EstimateLimitCents: c.EstimateLimit.Cents,
		ID:                 c.ID,
	})
	if err != nil {
		return fmt.Errorf("update card limits: %w", err)
	}
	if n == 0 {
		return core.ErrCardNotFound
	}
	return nil
}

// Invoices

func invoiceFromRow(row Invoice) (core.Invoice, error) {
	start, err := core.ParseDate(row.StartDate)
	if err != nil {
		return core.Invoice{}, err
	}
	end, err := core.ParseDate(row.EndDate)
	if err != nil {
		return core.Invoice{}, err
	}
	due, err := core.ParseDate(row.DueDate)
	if err != nil {
		return core.Invoice{}, err
	}
	status, err := core.ParseInvoiceStatus(row.Status)
	if err != nil {
		return core.Invoice{}, err
	}
	return core.Invoice{
		ID:        row.ID,
		CardID:    row.CardID,
		StartDate: start,
		EndDate:   end,
		DueDate:   due,
		Total:     core.Money{Cents: row.TotalCents},
		Status:    status,
	}, nil
}

func invoicesFromRows(rows []Invoice) ([]core.Invoice, error) {
	out := make([]core.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := invoiceFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (r *SQLiteRepository) GetInvoice(ctx context.Context, id int64) (core.Invoice, error) {
	row, err := r.queries.GetInvoice(ctx, id)
	if err != nil {
		return core.Invoice{}, notFound(err, core.ErrInvoiceNotFound)
	}
	return invoiceFromRow(row)
}

func (r *SQLiteRepository) FindInvoicesByStatus(ctx context.Context, cardID int64, status core.InvoiceStatus) ([]core.Invoice, error) {
	rows, err := r.queries.ListInvoicesByStatus(ctx, cardID, status.String())
	if err != nil {
		return nil, fmt.Errorf("list %s invoices: %w", status, err)
	}
	return invoicesFromRows(rows)
}

func (r *SQLiteRepository) FindFirstInvoiceByStatus(ctx context.Context, cardID int64, status core.InvoiceStatus) (core.Invoice, error) {
	invoices, err := r.FindInvoicesByStatus(ctx, cardID, status)
	if err != nil {
		return core.Invoice{}, err
	}
	if len(invoices) == 0 {
		return core.Invoice{}, core.ErrInvoiceNotFound
	}
	return invoices[0], nil
}

func (r *SQLiteRepository) FindInvoiceByWindow(ctx context.Context, cardID int64, start, end core.Date) (core.Invoice, error) {
	row, err := r.queries.GetInvoiceByWindow(ctx, GetInvoiceByWindowParams{
		CardID:    cardID,
		StartDate: start.String(),
		EndDate:   end.String(),
	})
	if err != nil {
		return core.Invoice{}, notFound(err, core.ErrInvoiceNotFound)
	}
	return invoiceFromRow(row)
}

func (r *SQLiteRepository) FindInvoiceContaining(ctx context.Context, cardID int64, d core.Date) (core.Invoice, error) {
	row, err := r.queries.GetInvoiceContaining(ctx, cardID, d.String())
	if err != nil {
		return core.Invoice{}, notFound(err, core.ErrInvoiceNotFound)
	}
	return invoiceFromRow(row)
}

func (r *SQLiteRepository) FindLatestInvoiceBefore(ctx context.Context, cardID int64, start core.Date) (core.Invoice, error) {
	row, err := r.queries.GetLatestInvoiceBefore(ctx, cardID, start.String())
	if err != nil {
		return core.Invoice{}, notFound(err, core.ErrInvoiceNotFound)
	}
	return invoiceFromRow(row)
}

func (r *SQLiteRepository) ListInvoices(ctx context.Context, cardID int64) ([]core.Invoice, error) {
	rows, err := r.queries.ListInvoicesByCard(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoicesFromRows(rows)
}

func (r *SQLiteRepository) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	row, err := r.queries.CreateInvoice(ctx, CreateInvoiceParams{
		CardID:     inv.CardID,
		StartDate:  inv.StartDate.String(),
		EndDate:    inv.EndDate.String(),
		DueDate:    inv.DueDate.String(),
		TotalCents: inv.Total.Cents,
		Status:     inv.Status.String(),
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.Invoice{}, ErrDuplicate
		}
		return core.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}

	slog.InfoContext(ctx, "Invoice saved to SQLite",
		"id", row.ID,
		"card_id", row.CardID,
		"start", row.StartDate,
		"end", row.EndDate,
		"status", row.Status)

	return invoiceFromRow(row)
}

func (r *SQLiteRepository) SaveInvoice(ctx context.Context, inv core.Invoice) error {
	n, err := r.queries.UpdateInvoice(ctx, UpdateInvoiceParams{
		TotalCents: inv.Total.Cents,
		Status:     inv.Status.String(),
		ID:         inv.ID,
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update invoice: %w", err)
	}
	if n == 0 {
		return core.ErrInvoiceNotFound
	}
	return nil
}

// Purchases

func purchaseFromRow(row Purchase) (core.Purchase, error) {
	at, err := parseTime(row.PurchasedAt)
	if err != nil {
		return core.Purchase{}, err
	}
	return core.Purchase{
		ID:              row.ID,
		CardID:          row.CardID,
		CategoryID:      row.CategoryID,
		Description:     row.Description,
		Value:           core.Money{Cents: row.ValueCents},
		PurchasedAt:     at,
		HasInstallments: row.HasInstallments,
	}, nil
}

func purchasesFromRows(rows []Purchase) ([]core.Purchase, error) {
	out := make([]core.Purchase, 0, len(rows))
	for _, row := range rows {
		p, err := purchaseFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *SQLiteRepository) GetPurchase(ctx context.Context, id int64) (core.Purchase, error) {
	row, err := r.queries.GetPurchase(ctx, id)
	if err != nil {
		return core.Purchase{}, notFound(err, core.ErrPurchaseNotFound)
	}
	return purchaseFromRow(row)
}

func (r *SQLiteRepository) CreatePurchase(ctx context.Context, p core.Purchase) (core.Purchase, error) {
	row, err := r.queries.CreatePurchase(ctx, CreatePurchaseParams{
		CardID:          p.CardID,
		CategoryID:      p.CategoryID,
		Description:     p.Description,
		ValueCents:      p.Value.Cents,
		PurchasedAt:     formatTime(p.PurchasedAt),
		HasInstallments: p.HasInstallments,
	})
	if err != nil {
		return core.Purchase{}, fmt.Errorf("create purchase: %w", err)
	}

	slog.InfoContext(ctx, "Purchase saved to SQLite",
		"id", row.ID,
		"card_id", row.CardID,
		"value_cents", row.ValueCents,
		"installments", row.HasInstallments)

	return purchaseFromRow(row)
}

func (r *SQLiteRepository) SavePurchase(ctx context.Context, p core.Purchase) error {
	n, err := r.queries.UpdatePurchase(ctx, UpdatePurchaseParams{
		CategoryID:      p.CategoryID,
		Description:     p.Description,
		ValueCents:      p.Value.Cents,
		PurchasedAt:     formatTime(p.PurchasedAt),
		HasInstallments: p.HasInstallments,
		ID:              p.ID,
	})
	if err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	if n == 0 {
		return core.ErrPurchaseNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeletePurchase(ctx context.Context, id int64) error {
	n, err := r.queries.DeletePurchase(ctx, id)
	if err != nil {
		return fmt.Errorf("delete purchase: %w", err)
	}
	if n == 0 {
		return core.ErrPurchaseNotFound
	}
	slog.InfoContext(ctx, "Purchase deleted from SQLite", "id", id)
	return nil
}

func (r *SQLiteRepository) AttachPurchase(ctx context.Context, invoiceID, purchaseID int64) error {
	if err := r.queries.AttachPurchase(ctx, invoiceID, purchaseID); err != nil {
		return fmt.Errorf("attach purchase %d to invoice %d: %w", purchaseID, invoiceID, err)
	}
	return nil
}

func (r *SQLiteRepository) DetachPurchase(ctx context.Context, invoiceID, purchaseID int64) error {
	if err := r.queries.DetachPurchase(ctx, invoiceID, purchaseID); err != nil {
		return fmt.Errorf("detach purchase %d from invoice %d: %w", purchaseID, invoiceID, err)
	}
	return nil
}

func (r *SQLiteRepository) ListInvoicePurchases(ctx context.Context, invoiceID int64) ([]core.Purchase, error) {
	rows, err := r.queries.ListInvoicePurchases(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice purchases: %w", err)
	}
	return purchasesFromRows(rows)
}

func (r *SQLiteRepository) ListPurchaseInvoiceIDs(ctx context.Context, purchaseID int64) ([]int64, error) {
	ids, err := r.queries.ListPurchaseInvoiceIDs(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list purchase invoices: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) HasRepeatingPurchases(ctx context.Context, cardID, invoiceID int64) (bool, error) {
	ok, err := r.queries.ExistsRepeatingPurchases(ctx, cardID, invoiceID)
	if err != nil {
		return false, fmt.Errorf("check repeating purchases: %w", err)
	}
	return ok, nil
}

func (r *SQLiteRepository) FindRepeatingPurchases(ctx context.Context, cardID, invoiceID int64) ([]core.Purchase, error) {
	rows, err := r.queries.ListRepeatingPurchases(ctx, cardID, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list repeating purchases: %w", err)
	}
	return purchasesFromRows(rows)
}

// Installments

func installmentFromRow(row Installment) core.Installment {
	return core.Installment{
		ID:         row.ID,
		PurchaseID: row.PurchaseID,
		InvoiceID:  row.InvoiceID,
		Number:     int(row.Seq),
		Count:      int(row.TotalCount),
		Value:      core.Money{Cents: row.ValueCents},
	}
}

func (r *SQLiteRepository) CreateInstallment(ctx context.Context, in core.Installment) (core.Installment, error) {
	row, err := r.queries.CreateInstallment(ctx, CreateInstallmentParams{
		PurchaseID: in.PurchaseID,
		InvoiceID:  in.InvoiceID,
		Seq:        int64(in.Number),
		TotalCount: int64(in.Count),
		ValueCents: in.Value.Cents,
	})
	if err != nil {
		return core.Installment{}, fmt.Errorf("create installment %d/%d: %w", in.Number, in.Count, err)
	}
	return installmentFromRow(row), nil
}

func (r *SQLiteRepository) ListInstallments(ctx context.Context, purchaseID int64) ([]core.Installment, error) {
	rows, err := r.queries.ListInstallments(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	out := make([]core.Installment, 0, len(rows))
	for _, row := range rows {
		out = append(out, installmentFromRow(row))
	}
	return out, nil
}

func (r *SQLiteRepository) FindInstallment(ctx context.Context, purchaseID, invoiceID int64) (core.Installment, error) {
	row, err := r.queries.GetInstallmentByInvoice(ctx, purchaseID, invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Installment{}, fmt.Errorf("installment of purchase %d in invoice %d: %w", purchaseID, invoiceID, core.ErrNotFound)
		}
		return core.Installment{}, err
	}
	return installmentFromRow(row), nil
}

func (r *SQLiteRepository) DeleteInstallments(ctx context.Context, purchaseID int64) error {
	if err := r.queries.DeleteInstallments(ctx, purchaseID); err != nil {
		return fmt.Errorf("delete installments: %w", err)
	}
	return nil
}

// Categories

func categoryFromRow(row Category) core.Category {
	return core.Category{
		ID:       row.ID,
		Name:     row.Name,
		Editable: row.Editable,
		Repeat:   row.Recurring,
	}
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	row, err := r.queries.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, notFound(err, core.ErrCategoryNotFound)
	}
	return categoryFromRow(row), nil
}

func (r *SQLiteRepository) FindCategoryByName(ctx context.Context, name string) (core.Category, error) {
	row, err := r.queries.GetCategoryByName(ctx, name)
	if err != nil {
		return core.Category{}, notFound(err, core.ErrCategoryNotFound)
	}
	return categoryFromRow(row), nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	row, err := r.queries.CreateCategory(ctx, CreateCategoryParams{
		Name:      c.Name,
		Editable:  c.Editable,
		Recurring: c.Repeat,
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.Category{}, fmt.Errorf("category %q: %w", c.Name, core.ErrConcurrencyConflict)
		}
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	return categoryFromRow(row), nil
}

func (r *SQLiteRepository) SaveCategory(ctx context.Context, c core.Category) error {
	n, err := r.queries.UpdateCategory(ctx, UpdateCategoryParams{
		Name:      c.Name,
		Editable:  c.Editable,
		Recurring: c.Repeat,
		ID:        c.ID,
	})
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	if n == 0 {
		return core.ErrCategoryNotFound
	}
	return nil
}
