package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every specific error below wraps one of these, so callers
// can branch with errors.Is(err, ErrNotFound) and friends.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvariantViolation  = errors.New("invariant violation")
)

var (
	ErrCardNotFound     = fmt.Errorf("card %w", ErrNotFound)
	ErrInvoiceNotFound  = fmt.Errorf("invoice %w", ErrNotFound)
	ErrPurchaseNotFound = fmt.Errorf("purchase %w", ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)

	ErrInvalidDay          = fmt.Errorf("%w: day of month must be between 1 and 31", ErrInvalidArgument)
	ErrInvalidDate         = fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidArgument)
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	ErrInvalidInstallments = fmt.Errorf("%w: installment count must be at least 1", ErrInvalidArgument)
	ErrValueTooSmall       = fmt.Errorf("%w: value too small to split into installments", ErrInvalidAmount)
	ErrEmptyCategory       = fmt.Errorf("%w: category name cannot be blank", ErrInvalidArgument)
	ErrInvalidStatus       = fmt.Errorf("%w: unknown invoice status", ErrInvalidArgument)
	ErrInvalidTransition   = fmt.Errorf("%w: invoice status transition not allowed", ErrInvalidArgument)
)
