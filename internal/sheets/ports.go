package sheets

import (
	"context"
	"fmt"

	"cardbook/internal/core"
)

// Ports for outbound adapters.
type (
	// StatementWriter exports a closed invoice and returns a reference to
	// where its rows were written.
	StatementWriter interface {
		WriteStatement(ctx context.Context, d core.InvoiceDetail) (ref string, err error)
	}
)

// Header is the column layout every writer uses.
var Header = []string{"Card", "Start", "End", "Due", "Date", "Description", "Category", "Installment", "Amount"}

// Row is one exported statement row.
type Row struct {
	Card        string
	Start       string
	End         string
	Due         string
	Date        string
	Description string
	Category    string
	Installment string
	Amount      core.Money
}

// Values returns the row in Header order. Amounts are decimal numbers.
func (r Row) Values() []any {
	return []any{r.Card, r.Start, r.End, r.Due, r.Date, r.Description, r.Category, r.Installment, r.Amount.Decimal()}
}

// CardLabel is the card's nickname or "Bank ****1234".
func CardLabel(c core.Card) string {
	if c.Nickname != "" {
		return c.Nickname
	}
	return fmt.Sprintf("%s ****%s", c.Bank, c.LastDigits)
}

// Rows flattens an invoice detail into one row per line followed by a
// total row carrying the invoice total.
func Rows(d core.InvoiceDetail) []Row {
	base := Row{
		Card:  CardLabel(d.Card),
		Start: d.Invoice.StartDate.String(),
		End:   d.Invoice.EndDate.String(),
		Due:   d.Invoice.DueDate.String(),
	}

	rows := make([]Row, 0, len(d.Lines)+1)
	for _, l := range d.Lines {
		r := base
		r.Date = l.Date.String()
		r.Description = l.Description
		r.Category = l.Category
		if l.Installment > 0 {
			r.Installment = fmt.Sprintf("%d/%d", l.Installment, l.OfCount)
		}
		r.Amount = l.Amount
		rows = append(rows, r)
	}

	total := base
	total.Description = "TOTAL"
	total.Amount = d.Invoice.Total
	return append(rows, total)
}
