package core

import "time"

// Event types raised by the engine after a transaction commits.
const (
	EventInvoiceCreated  EventType = "invoice.created"
	EventInvoiceOpened   EventType = "invoice.opened"
	EventInvoiceClosed   EventType = "invoice.closed"
	EventInvoicePaid     EventType = "invoice.paid"
	EventPurchaseCreated EventType = "purchase.created"
	EventPurchaseUpdated EventType = "purchase.updated"
	EventPurchaseDeleted EventType = "purchase.deleted"
)

type EventType string

func (t EventType) String() string {
	return string(t)
}

// Event is a domain notification. IDs that do not apply are zero.
type Event struct {
	Type       EventType
	CardID     int64
	InvoiceID  int64
	PurchaseID int64
	Status     InvoiceStatus
	At         time.Time
}
