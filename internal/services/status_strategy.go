// Package services holds the billing engine and the operations built on it.
//
// This file implements the lazy invoice lifecycle as a strategy per status.
// Each status has a checker that decides, given "today", which status the
// invoice should be in now. Nothing runs on a timer: checkers are consulted
// whenever the ledger reads a card's invoices.
package services

import (
	"fmt"

	"cardbook/internal/core"
)

// TransitionChecker decides the status an invoice should hold on today.
// Returning inv.Status means no change.
type TransitionChecker interface {
	Next(inv core.Invoice, today core.Date) core.InvoiceStatus
}

// PendingChecker opens a future invoice once today enters its window and
// closes one whose window has already passed.
type PendingChecker struct{}

func (PendingChecker) Next(inv core.Invoice, today core.Date) core.InvoiceStatus {
	switch {
	case today.After(inv.EndDate):
		return core.StatusClosed
	case inv.Contains(today):
		return core.StatusOpen
	}
	return core.StatusPending
}

// OpenChecker closes the current invoice once today is past its end date.
type OpenChecker struct{}

func (OpenChecker) Next(inv core.Invoice, today core.Date) core.InvoiceStatus {
	if today.After(inv.EndDate) {
		return core.StatusClosed
	}
	return core.StatusOpen
}

// terminalChecker never moves an invoice on its own; CLOSED->PAID is a user action.
type terminalChecker struct{}

func (terminalChecker) Next(inv core.Invoice, _ core.Date) core.InvoiceStatus {
	return inv.Status
}

var transitionStrategies = map[core.InvoiceStatus]TransitionChecker{
	core.StatusPending: PendingChecker{},
	core.StatusOpen:    OpenChecker{},
	core.StatusClosed:  terminalChecker{},
	core.StatusPaid:    terminalChecker{},
}

// GetTransitionChecker returns the checker for status.
func GetTransitionChecker(status core.InvoiceStatus) (TransitionChecker, error) {
	checker, ok := transitionStrategies[status]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidStatus, status)
	}
	return checker, nil
}

// allowedTransitions lists every move the engine or the user may make.
var allowedTransitions = map[core.InvoiceStatus][]core.InvoiceStatus{
	core.StatusPending: {core.StatusOpen, core.StatusClosed},
	core.StatusOpen:    {core.StatusClosed},
	core.StatusClosed:  {core.StatusPaid, core.StatusOpen},
}

// CanTransition reports whether from->to is a legal status change.
// CLOSED->OPEN only happens when a backdated invoice turns out to cover today.
func CanTransition(from, to core.InvoiceStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
