package memory

import (
	"context"
	"fmt"
	"sync"

	"cardbook/internal/core"
	"cardbook/internal/sheets"
)

var _ sheets.StatementWriter = (*Store)(nil)

// Store keeps exported statements in memory.
type Store struct {
	mu         sync.Mutex
	statements map[int64][]sheets.Row
	writes     int
}

func New() *Store {
	return &Store{statements: make(map[int64][]sheets.Row)}
}

// WriteStatement stores the rows of d, replacing an earlier export of the
// same invoice, and returns a synthetic reference.
func (s *Store) WriteStatement(_ context.Context, d core.InvoiceDetail) (string, error) {
	if d.Invoice.ID == 0 {
		return "", fmt.Errorf("write statement: %w", core.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements[d.Invoice.ID] = sheets.Rows(d)
	s.writes++
	return fmt.Sprintf("mem:%d", d.Invoice.ID), nil
}

// Statement returns the rows exported for an invoice.
func (s *Store) Statement(invoiceID int64) ([]sheets.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.statements[invoiceID]
	return append([]sheets.Row(nil), rows...), ok
}

// Writes counts WriteStatement calls, including overwrites.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
