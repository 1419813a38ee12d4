package core

// StatementLine is one purchase as billed on a given invoice: the full value
// for single payments, or the share of the installment tied to that invoice.
type StatementLine struct {
	PurchaseID  int64
	Description string
	Category    string
	Date        Date
	Amount      Money
	Installment int // 0 for single payments
	OfCount     int
}

// InvoiceDetail is an invoice together with its lines.
type InvoiceDetail struct {
	Invoice Invoice
	Card    Card
	Lines   []StatementLine
}

// LinesTotal sums the line amounts.
func (d InvoiceDetail) LinesTotal() Money {
	var total Money
	for _, l := range d.Lines {
		total = total.Add(l.Amount)
	}
	return total
}
