package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// Cards

const cardColumns = `id, bank, last_digits, nickname, cycle_start_day, cycle_end_day, due_day,
    total_limit_cents, used_limit_cents, estimate_limit_cents, created_at`

func scanCard(s scanner) (Card, error) {
	var i Card
	err := s.Scan(
		&i.ID,
		&i.Bank,
		&i.LastDigits,
		&i.Nickname,
		&i.CycleStartDay,
		&i.CycleEndDay,
		&i.DueDay,
		&i.TotalLimitCents,
		&i.UsedLimitCents,
		&i.EstimateLimitCents,
		&i.CreatedAt,
	)
	return i, err
}

const createCard = `INSERT INTO cards (
    bank, last_digits, nickname, cycle_start_day, cycle_end_day, due_day,
    total_limit_cents, used_limit_cents, estimate_limit_cents, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + cardColumns

type CreateCardParams struct {
	Bank               string
	LastDigits         string
	Nickname           string
	CycleStartDay      int64
	CycleEndDay        int64
	DueDay             int64
	TotalLimitCents    int64
	UsedLimitCents     int64
	EstimateLimitCents int64
	CreatedAt          string
}

func (q *Queries) CreateCard(ctx context.Context, arg CreateCardParams) (Card, error) {
	row := q.db.QueryRowContext(ctx, createCard,
		arg.Bank,
		arg.LastDigits,
		arg.Nickname,
		arg.CycleStartDay,
		arg.CycleEndDay,
		arg.DueDay,
		arg.TotalLimitCents,
		arg.UsedLimitCents,
		arg.EstimateLimitCents,
		arg.CreatedAt,
	)
	return scanCard(row)
}

const getCard = `SELECT ` + cardColumns + ` FROM cards WHERE id = ?`

func (q *Queries) GetCard(ctx context.Context, id int64) (Card, error) {
	return scanCard(q.db.QueryRowContext(ctx, getCard, id))
}

const listCards = `SELECT ` + cardColumns + ` FROM cards ORDER BY id`

func (q *Queries) ListCards(ctx context.Context) ([]Card, error) {
	rows, err := q.db.QueryContext(ctx, listCards)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Card
	for rows.Next() {
		i, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const updateCardLimits = `UPDATE cards SET used_limit_cents = ?, estimate_limit_cents = ? WHERE id = ?`

type UpdateCardLimitsParams struct {
	UsedLimitCents     int64
	EstimateLimitCents int64
	ID                 int64
}

func (q *Queries) UpdateCardLimits(ctx context.Context, arg UpdateCardLimitsParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateCardLimits, arg.UsedLimitCents, arg.EstimateLimitCents, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Invoices

const invoiceColumns = `id, card_id, start_date, end_date, due_date, total_cents, status`

func scanInvoice(s scanner) (Invoice, error) {
	var i Invoice
	err := s.Scan(
		&i.ID,
		&i.CardID,
		&i.StartDate,
		&i.EndDate,
		&i.DueDate,
		&i.TotalCents,
		&i.Status,
	)
	return i, err
}

func (q *Queries) listInvoices(ctx context.Context, query string, args ...interface{}) ([]Invoice, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Invoice
	for rows.Next() {
		i, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createInvoice = `INSERT INTO invoices (card_id, start_date, end_date, due_date, total_cents, status)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING ` + invoiceColumns

type CreateInvoiceParams struct {
	CardID     int64
	StartDate  string
	EndDate    string
	DueDate    string
	TotalCents int64
	Status     string
}

func (q *Queries) CreateInvoice(ctx context.Context, arg CreateInvoiceParams) (Invoice, error) {
	row := q.db.QueryRowContext(ctx, createInvoice,
		arg.CardID,
		arg.StartDate,
		arg.EndDate,
		arg.DueDate,
		arg.TotalCents,
		arg.Status,
	)
	return scanInvoice(row)
}

const getInvoice = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

func (q *Queries) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(q.db.QueryRowContext(ctx, getInvoice, id))
}

const getInvoiceByWindow = `SELECT ` + invoiceColumns + ` FROM invoices
WHERE card_id = ? AND start_date = ? AND end_date = ?`

type GetInvoiceByWindowParams struct {
	CardID    int64
	StartDate string
	EndDate   string
}

func (q *Queries) GetInvoiceByWindow(ctx context.Context, arg GetInvoiceByWindowParams) (Invoice, error) {
	return scanInvoice(q.db.QueryRowContext(ctx, getInvoiceByWindow, arg.CardID, arg.StartDate, arg.EndDate))
}

const getInvoiceContaining = `SELECT ` + invoiceColumns + ` FROM invoices
WHERE card_id = ? AND start_date <= ? AND end_date >= ?
ORDER BY start_date DESC LIMIT 1`

func (q *Queries) GetInvoiceContaining(ctx context.Context, cardID int64, date string) (Invoice, error) {
	return scanInvoice(q.db.QueryRowContext(ctx, getInvoiceContaining, cardID, date, date))
}

const getLatestInvoiceBefore = `SELECT ` + invoiceColumns + ` FROM invoices
WHERE card_id = ? AND start_date < ?
ORDER BY start_date DESC LIMIT 1`

func (q *Queries) GetLatestInvoiceBefore(ctx context.Context, cardID int64, start string) (Invoice, error) {
	return scanInvoice(q.db.QueryRowContext(ctx, getLatestInvoiceBefore, cardID, start))
}

const listInvoicesByStatus = `SELECT ` + invoiceColumns + ` FROM invoices
WHERE card_id = ? AND status = ?
ORDER BY start_date ASC`

func (q *Queries) ListInvoicesByStatus(ctx context.Context, cardID int64, status string) ([]Invoice, error) {
	return q.listInvoices(ctx, listInvoicesByStatus, cardID, status)
}

const listInvoicesByCard = `SELECT ` + invoiceColumns + ` FROM invoices
WHERE card_id = ?
ORDER BY start_date ASC`

func (q *Queries) ListInvoicesByCard(ctx context.Context, cardID int64) ([]Invoice, error) {
	return q.listInvoices(ctx, listInvoicesByCard, cardID)
}

const updateInvoice = `UPDATE invoices SET total_cents = ?, status = ? WHERE id = ?`

type UpdateInvoiceParams struct {
	TotalCents int64
	Status     string
	ID         int64
}

func (q *Queries) UpdateInvoice(ctx context.Context, arg UpdateInvoiceParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateInvoice, arg.TotalCents, arg.Status, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Purchases

const purchaseColumns = `p.id, p.card_id, p.category_id, p.description, p.value_cents, p.purchased_at, p.has_installments`

func scanPurchase(s scanner) (Purchase, error) {
	var i Purchase
	err := s.Scan(
		&i.ID,
		&i.CardID,
		&i.CategoryID,
		&i.Description,
		&i.ValueCents,
		&i.PurchasedAt,
		&i.HasInstallments,
	)
	return i, err
}

func (q *Queries) listPurchases(ctx context.Context, query string, args ...interface{}) ([]Purchase, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Purchase
	for rows.Next() {
		i, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createPurchase = `INSERT INTO purchases (card_id, category_id, description, value_cents, purchased_at, has_installments)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id, card_id, category_id, description, value_cents, purchased_at, has_installments`

type CreatePurchaseParams struct {
	CardID          int64
	CategoryID      int64
	Description     string
	ValueCents      int64
	PurchasedAt     string
	HasInstallments bool
}

func (q *Queries) CreatePurchase(ctx context.Context, arg CreatePurchaseParams) (Purchase, error) {
	row := q.db.QueryRowContext(ctx, createPurchase,
		arg.CardID,
		arg.CategoryID,
		arg.Description,
		arg.ValueCents,
		arg.PurchasedAt,
		arg.HasInstallments,
	)
	return scanPurchase(row)
}

const getPurchase = `SELECT ` + purchaseColumns + ` FROM purchases p WHERE p.id = ?`

func (q *Queries) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return scanPurchase(q.db.QueryRowContext(ctx, getPurchase, id))
}

const updatePurchase = `UPDATE purchases
SET category_id = ?, description = ?, value_cents = ?, purchased_at = ?, has_installments = ?
WHERE id = ?`

type UpdatePurchaseParams struct {
	CategoryID      int64
	Description     string
	ValueCents      int64
	PurchasedAt     string
	HasInstallments bool
	ID              int64
}

func (q *Queries) UpdatePurchase(ctx context.Context, arg UpdatePurchaseParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updatePurchase,
		arg.CategoryID,
		arg.Description,
		arg.ValueCents,
		arg.PurchasedAt,
		arg.HasInstallments,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deletePurchase = `DELETE FROM purchases WHERE id = ?`

func (q *Queries) DeletePurchase(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deletePurchase, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const attachPurchase = `INSERT OR IGNORE INTO invoice_purchases (invoice_id, purchase_id) VALUES (?, ?)`

func (q *Queries) AttachPurchase(ctx context.Context, invoiceID, purchaseID int64) error {
	_, err := q.db.ExecContext(ctx, attachPurchase, invoiceID, purchaseID)
	return err
}

const detachPurchase = `DELETE FROM invoice_purchases WHERE invoice_id = ? AND purchase_id = ?`

func (q *Queries) DetachPurchase(ctx context.Context, invoiceID, purchaseID int64) error {
	_, err := q.db.ExecContext(ctx, detachPurchase, invoiceID, purchaseID)
	return err
}

const listInvoicePurchases = `SELECT ` + purchaseColumns + ` FROM purchases p
JOIN invoice_purchases ip ON ip.purchase_id = p.id
WHERE ip.invoice_id = ?
ORDER BY p.purchased_at, p.id`

func (q *Queries) ListInvoicePurchases(ctx context.Context, invoiceID int64) ([]Purchase, error) {
	return q.listPurchases(ctx, listInvoicePurchases, invoiceID)
}

const listPurchaseInvoiceIDs = `SELECT invoice_id FROM invoice_purchases WHERE purchase_id = ? ORDER BY invoice_id`

func (q *Queries) ListPurchaseInvoiceIDs(ctx context.Context, purchaseID int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, listPurchaseInvoiceIDs, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const listRepeatingPurchases = `SELECT ` + purchaseColumns + ` FROM purchases p
JOIN invoice_purchases ip ON ip.purchase_id = p.id
JOIN categories c ON c.id = p.category_id
WHERE p.card_id = ? AND ip.invoice_id = ? AND c.recurring = 1
ORDER BY p.purchased_at, p.id`

func (q *Queries) ListRepeatingPurchases(ctx context.Context, cardID, invoiceID int64) ([]Purchase, error) {
	return q.listPurchases(ctx, listRepeatingPurchases, cardID, invoiceID)
}

const existsRepeatingPurchases = `SELECT EXISTS (
    SELECT 1 FROM purchases p
    JOIN invoice_purchases ip ON ip.purchase_id = p.id
    JOIN categories c ON c.id = p.category_id
    WHERE p.card_id = ? AND ip.invoice_id = ? AND c.recurring = 1
)`

func (q *Queries) ExistsRepeatingPurchases(ctx context.Context, cardID, invoiceID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, existsRepeatingPurchases, cardID, invoiceID).Scan(&exists)
	return exists, err
}

// Installments

const installmentColumns = `id, purchase_id, invoice_id, seq, total_count, value_cents`

func scanInstallment(s scanner) (Installment, error) {
	var i Installment
	err := s.Scan(
		&i.ID,
		&i.PurchaseID,
		&i.InvoiceID,
		&i.Seq,
		&i.TotalCount,
		&i.ValueCents,
	)
	return i, err
}

const createInstallment = `INSERT INTO installments (purchase_id, invoice_id, seq, total_count, value_cents)
VALUES (?, ?, ?, ?, ?)
RETURNING ` + installmentColumns

type CreateInstallmentParams struct {
	PurchaseID int64
	InvoiceID  int64
	Seq        int64
	TotalCount int64
	ValueCents int64
}

func (q *Queries) CreateInstallment(ctx context.Context, arg CreateInstallmentParams) (Installment, error) {
	row := q.db.QueryRowContext(ctx, createInstallment,
		arg.PurchaseID,
		arg.InvoiceID,
		arg.Seq,
		arg.TotalCount,
		arg.ValueCents,
	)
	return scanInstallment(row)
}

const listInstallments = `SELECT ` + installmentColumns + ` FROM installments WHERE purchase_id = ? ORDER BY seq`

func (q *Queries) ListInstallments(ctx context.Context, purchaseID int64) ([]Installment, error) {
	rows, err := q.db.QueryContext(ctx, listInstallments, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getInstallmentByInvoice = `SELECT ` + installmentColumns + ` FROM installments
WHERE purchase_id = ? AND invoice_id = ?
ORDER BY seq LIMIT 1`

func (q *Queries) GetInstallmentByInvoice(ctx context.Context, purchaseID, invoiceID int64) (Installment, error) {
	return scanInstallment(q.db.QueryRowContext(ctx, getInstallmentByInvoice, purchaseID, invoiceID))
}

const deleteInstallments = `DELETE FROM installments WHERE purchase_id = ?`

func (q *Queries) DeleteInstallments(ctx context.Context, purchaseID int64) error {
	_, err := q.db.ExecContext(ctx, deleteInstallments, purchaseID)
	return err
}

// Categories

const categoryColumns = `id, name, editable, recurring`

func scanCategory(s scanner) (Category, error) {
	var i Category
	err := s.Scan(&i.ID, &i.Name, &i.Editable, &i.Recurring)
	return i, err
}

const createCategory = `INSERT INTO categories (name, editable, recurring) VALUES (?, ?, ?)
RETURNING ` + categoryColumns

type CreateCategoryParams struct {
	Name      string
	Editable  bool
	Recurring bool
}

func (q *Queries) CreateCategory(ctx context.Context, arg CreateCategoryParams) (Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, createCategory, arg.Name, arg.Editable, arg.Recurring))
}

const getCategory = `SELECT ` + categoryColumns + ` FROM categories WHERE id = ?`

func (q *Queries) GetCategory(ctx context.Context, id int64) (Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, getCategory, id))
}

const getCategoryByName = `SELECT ` + categoryColumns + ` FROM categories WHERE name = ?`

func (q *Queries) GetCategoryByName(ctx context.Context, name string) (Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, getCategoryByName, name))
}

const updateCategory = `UPDATE categories SET name = ?, editable = ?, recurring = ? WHERE id = ?`

type UpdateCategoryParams struct {
	Name      string
	Editable  bool
	Recurring bool
	ID        int64
}

func (q *Queries) UpdateCategory(ctx context.Context, arg UpdateCategoryParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateCategory, arg.Name, arg.Editable, arg.Recurring, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
