package core

import (
	"strings"
	"time"
)

const (
	StatusPending InvoiceStatus = "PENDING"
	StatusOpen    InvoiceStatus = "OPEN"
	StatusClosed  InvoiceStatus = "CLOSED"
	StatusPaid    InvoiceStatus = "PAID"
)

type (
	InvoiceStatus string

	// BillingConfig holds the days of month a card's cycle starts, ends and is due.
	// Each day is 1-31 and is clamped to the length of the month it lands in.
	BillingConfig struct {
		CycleStartDay int
		CycleEndDay   int
		DueDay        int
	}

	Card struct {
		ID            int64
		Bank          string
		LastDigits    string
		Nickname      string
		Billing       BillingConfig
		TotalLimit    Money
		UsedLimit     Money
		EstimateLimit Money
		CreatedAt     time.Time
	}

	// Invoice is one statement of a card. [StartDate, EndDate] is a closed interval
	// and (CardID, StartDate, EndDate) identifies the invoice.
	Invoice struct {
		ID        int64
		CardID    int64
		StartDate Date
		EndDate   Date
		DueDate   Date
		Total     Money
		Status    InvoiceStatus
	}

	Category struct {
		ID       int64
		Name     string
		Editable bool
		Repeat   bool // recurring (signature) charges
	}

	// Purchase is the full purchase; Value is never the per-installment share.
	Purchase struct {
		ID              int64
		CardID          int64
		CategoryID      int64
		Description     string
		Value           Money
		PurchasedAt     time.Time
		HasInstallments bool
	}

	Installment struct {
		ID         int64
		PurchaseID int64
		InvoiceID  int64
		Number     int // 1-based
		Count      int
		Value      Money
	}
)

// ParseInvoiceStatus accepts any letter case.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	st := InvoiceStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusOpen, StatusClosed, StatusPaid:
		return true
	}
	return false
}

func (s InvoiceStatus) String() string {
	return string(s)
}

// Settled reports whether the invoice no longer counts against the card limit.
func (s InvoiceStatus) Settled() bool {
	return s == StatusPaid
}

func (b BillingConfig) Validate() error {
	for _, day := range []int{b.CycleStartDay, b.CycleEndDay, b.DueDay} {
		if day < 1 || day > 31 {
			return ErrInvalidDay
		}
	}
	return nil
}

// Contains reports whether d falls inside the invoice window.
func (i Invoice) Contains(d Date) bool {
	return !d.Before(i.StartDate) && !d.After(i.EndDate)
}

// PurchaseDate is the calendar day the purchase is billed by.
func (p Purchase) PurchaseDate() Date {
	return DateOf(p.PurchasedAt)
}
