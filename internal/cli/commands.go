package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"cardbook/internal/core"
	"cardbook/internal/services"
	"cardbook/internal/sheets"
)

// ErrUsage is returned for unknown commands and bad flags.
var ErrUsage = errors.New("usage")

const usage = `usage: cardbook <command> [flags]

commands:
  card add        -bank -digits [-nickname] -start-day -end-day -due-day -limit
  card list
  card show       -id
  card recompute  -id
  purchase add    -card -value -category [-installments] [-description] [-date]
  purchase update -id -value -category [-installments] [-description] [-date]
  purchase delete -id
  invoices        -card
  current         -card [-date]
  invoice show      -id
  invoice pay       -id
  invoice recompute -id
  invoice export    -id
  refresh

every command accepts -json`

// App runs cardbook commands against a wired backend.
type App struct {
	Cards     *services.CardService
	Purchases *services.PurchaseService
	// Exporter is nil when statement export is disabled.
	Exporter sheets.StatementWriter
	Out      io.Writer
	Err      io.Writer
}

// Run dispatches args (without the program name) to a command.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.usageError("missing command")
	}

	switch args[0] {
	case "card":
		return a.subcommand(ctx, "card", args[1:], map[string]func(context.Context, []string) error{
			"add":       a.cardAdd,
			"list":      a.cardList,
			"show":      a.cardShow,
			"recompute": a.cardRecompute,
		})
	case "purchase":
		return a.subcommand(ctx, "purchase", args[1:], map[string]func(context.Context, []string) error{
			"add":    a.purchaseAdd,
			"update": a.purchaseUpdate,
			"delete": a.purchaseDelete,
		})
	case "invoice":
		return a.subcommand(ctx, "invoice", args[1:], map[string]func(context.Context, []string) error{
			"show":      a.invoiceShow,
			"pay":       a.invoicePay,
			"recompute": a.invoiceRecompute,
			"export":    a.invoiceExport,
		})
	case "invoices":
		return a.invoices(ctx, args[1:])
	case "current":
		return a.current(ctx, args[1:])
	case "refresh":
		return a.refresh(ctx, args[1:])
	case "help", "-h", "-help", "--help":
		fmt.Fprintln(a.Out, usage)
		return nil
	default:
		return a.usageError(fmt.Sprintf("unknown command %q", args[0]))
	}
}

func (a *App) subcommand(ctx context.Context, group string, args []string, cmds map[string]func(context.Context, []string) error) error {
	if len(args) == 0 {
		return a.usageError(fmt.Sprintf("missing %s subcommand", group))
	}
	run, ok := cmds[args[0]]
	if !ok {
		return a.usageError(fmt.Sprintf("unknown %s subcommand %q", group, args[0]))
	}
	return run(ctx, args[1:])
}

func (a *App) usageError(msg string) error {
	fmt.Fprintln(a.Err, usage)
	return fmt.Errorf("%w: %s", ErrUsage, msg)
}

// flags wraps a FlagSet with the shared -json switch.
type flags struct {
	*flag.FlagSet
	json *bool
}

func (a *App) newFlags(name string) flags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.Err)
	return flags{FlagSet: fs, json: fs.Bool("json", false, "print JSON")}
}

func (f flags) parse(args []string) error {
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

func requireID(name string, v int64) error {
	if v <= 0 {
		return fmt.Errorf("%w: -%s is required", ErrUsage, name)
	}
	return nil
}

func (a *App) cardAdd(ctx context.Context, args []string) error {
	fs := a.newFlags("card add")
	bank := fs.String("bank", "", "issuing bank")
	digits := fs.String("digits", "", "last four digits")
	nickname := fs.String("nickname", "", "display name")
	startDay := fs.Int("start-day", 0, "cycle start day (1-31)")
	endDay := fs.Int("end-day", 0, "cycle end day (1-31)")
	dueDay := fs.Int("due-day", 0, "due day (1-31)")
	limit := fs.String("limit", "", "total limit, e.g. 5000.00")
	if err := fs.parse(args); err != nil {
		return err
	}

	total, err := core.ParseMoney(*limit)
	if err != nil {
		return fmt.Errorf("-limit: %w", err)
	}
	card, err := a.Cards.RegisterCard(ctx, core.CardForm{
		Bank:       *bank,
		LastDigits: *digits,
		Nickname:   *nickname,
		Billing:    core.BillingConfig{CycleStartDay: *startDay, CycleEndDay: *endDay, DueDay: *dueDay},
		TotalLimit: total,
	})
	if err != nil {
		return err
	}
	return a.printCards(*fs.json, card)
}

func (a *App) cardList(ctx context.Context, args []string) error {
	fs := a.newFlags("card list")
	if err := fs.parse(args); err != nil {
		return err
	}
	cards, err := a.Cards.ListCards(ctx)
	if err != nil {
		return err
	}
	return a.printCards(*fs.json, cards...)
}

func (a *App) cardShow(ctx context.Context, args []string) error {
	fs := a.newFlags("card show")
	id := fs.Int64("id", 0, "card id")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("id", *id); err != nil {
		return err
	}
	card, err := a.Cards.GetCard(ctx, *id)
	if err != nil {
		return err
	}
	return a.printCards(*fs.json, card)
}

func (a *App) cardRecompute(ctx context.Context, args []string) error {
	fs := a.newFlags("card recompute")
	id := fs.Int64("id", 0, "card id")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("id", *id); err != nil {
		return err
	}
	card, err := a.Cards.RecomputeUsedLimit(ctx, *id)
	if err != nil {
		return err
	}
	return a.printCards(*fs.json, card)
}

// purchaseFlags registers the fields shared by purchase add and update.
func purchaseFlags(fs flags) (value, category, description *string, installments *int) {
	value = fs.String("value", "", "full purchase value, e.g. 120.00")
	category = fs.String("category", "", "category name")
	description = fs.String("description", "", "description")
	installments = fs.Int("installments", 1, "number of installments")
	return
}

func (a *App) purchaseAdd(ctx context.Context, args []string) error {
	fs := a.newFlags("purchase add")
	cardID := fs.Int64("card", 0, "card id")
	value, category, description, installments := purchaseFlags(fs)
	date := fs.String("date", "", "purchase date YYYY-MM-DD (default today)")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("card", *cardID); err != nil {
		return err
	}

	form, err := purchaseForm(*cardID, *value, *category, *description, *date, *installments)
	if err != nil {
		return err
	}

	p, err := a.Purchases.CreatePurchase(ctx, form)
	if err != nil {
		return err
	}
	return a.printPurchase(*fs.json, p)
}

func (a *App) purchaseUpdate(ctx context.Context, args []string) error {
	fs := a.newFlags("purchase update")
	id := fs.Int64("id", 0, "purchase id")
	value, category, description, installments := purchaseFlags(fs)
	date := fs.String("date", "", "new purchase date YYYY-MM-DD (default unchanged)")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("id", *id); err != nil {
		return err
	}

	form, err := purchaseForm(0, *value, *category, *description, *date, *installments)
	if err != nil {
		return err
	}
	p, err := a.Purchases.UpdatePurchase(ctx, *id, form)
	if err != nil {
		return err
	}
	return a.printPurchase(*fs.json, p)
}

// purchaseForm builds a form from flag values. An empty date leaves
// PurchasedAt zero.
func purchaseForm(cardID int64, value, category, description, date string, installments int) (core.PurchaseForm, error) {
	v, err := core.ParseMoney(value)
	if err != nil {
		return core.PurchaseForm{}, fmt.Errorf("-value: %w", err)
	}
	form := core.PurchaseForm{
		CardID:            cardID,
		Description:       description,
		Value:             v,
		TotalInstallments: installments,
		CategoryName:      category,
	}
	if date != "" {
		d, err := core.ParseDate(date)
		if err != nil {
			return core.PurchaseForm{}, fmt.Errorf("-date: %w", err)
		}
		form.PurchasedAt = d.Time
	}
	return form, nil
}

func (a *App) purchaseDelete(ctx context.Context, args []string) error {
	fs := a.newFlags("purchase delete")
	id := fs.Int64("id", 0, "purchase id")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("id", *id); err != nil {
		return err
	}
	if err := a.Purchases.DeletePurchase(ctx, *id); err != nil {
		return err
	}
	if *fs.json {
		return a.printJSON(map[string]int64{"deleted": *id})
	}
	fmt.Fprintf(a.Out, "deleted purchase %d\n", *id)
	return nil
}

func (a *App) invoices(ctx context.Context, args []string) error {
	fs := a.newFlags("invoices")
	cardID := fs.Int64("card", 0, "card id")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("card", *cardID); err != nil {
		return err
	}
	invs, err := a.Cards.ListInvoices(ctx, *cardID)
	if err != nil {
		return err
	}
	return a.printInvoices(*fs.json, invs...)
}

func (a *App) current(ctx context.Context, args []string) error {
	fs := a.newFlags("current")
	cardID := fs.Int64("card", 0, "card id")
	date := fs.String("date", "", "look up the invoice containing this date instead of today")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("card", *cardID); err != nil {
		return err
	}

	if *date == "" {
		inv, err := a.Cards.CurrentInvoice(ctx, *cardID)
		if err != nil {
			return err
		}
		return a.printInvoices(*fs.json, inv)
	}

	d, err := core.ParseDate(*date)
	if err != nil {
		return fmt.Errorf("-date: %w", err)
	}
	inv, err := a.Cards.InvoiceForDate(ctx, *cardID, d)
	if err != nil {
		return err
	}
	if inv == nil {
		if *fs.json {
			return a.printJSON(nil)
		}
		fmt.Fprintf(a.Out, "no invoice covers %s\n", d)
		return nil
	}
	return a.printInvoices(*fs.json, *inv)
}

func (a *App) invoiceShow(ctx context.Context, args []string) error {
	fs := a.newFlags("invoice show")
	id := fs.Int64("id", 0, "invoice id")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("id", *id); err != nil {
		return err
	}
	detail, err := a.Cards.InvoiceDetail(ctx, *id)
	if err != nil {
		return err
	}
	return a.printDetail(*fs.json, detail)
}

func (a *App) invoicePay(ctx context.Context, args []string) error {
	fs := a.newFlags("invoice pay")
	id := fs.Int64("id", 0, "invoice id")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("id", *id); err != nil {
		return err
	}
	inv, err := a.Cards.PayInvoice(ctx, *id)
	if err != nil {
		return err
	}
	return a.printInvoices(*fs.json, inv)
}

func (a *App) invoiceRecompute(ctx context.Context, args []string) error {
	fs := a.newFlags("invoice recompute")
	id := fs.Int64("id", 0, "invoice id")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("id", *id); err != nil {
		return err
	}
	inv, err := a.Cards.RecomputeTotal(ctx, *id)
	if err != nil {
		return err
	}
	return a.printInvoices(*fs.json, inv)
}

func (a *App) invoiceExport(ctx context.Context, args []string) error {
	fs := a.newFlags("invoice export")
	id := fs.Int64("id", 0, "invoice id")
	if err := fs.parse(args); err != nil {
		return err
	}
	if err := requireID("id", *id); err != nil {
		return err
	}
	if a.Exporter == nil {
		return errors.New("statement export is disabled; set STATEMENT_EXPORT to sheets or xlsx")
	}
	detail, err := a.Cards.InvoiceDetail(ctx, *id)
	if err != nil {
		return err
	}
	ref, err := a.Exporter.WriteStatement(ctx, detail)
	if err != nil {
		return fmt.Errorf("export invoice %d: %w", *id, err)
	}
	if *fs.json {
		return a.printJSON(map[string]any{"invoice_id": *id, "ref": ref})
	}
	fmt.Fprintf(a.Out, "exported invoice %d to %s\n", *id, ref)
	return nil
}

func (a *App) refresh(ctx context.Context, args []string) error {
	fs := a.newFlags("refresh")
	if err := fs.parse(args); err != nil {
		return err
	}
	invs, err := a.Cards.RefreshAll(ctx)
	if err != nil {
		return err
	}
	return a.printInvoices(*fs.json, invs...)
}

type cardView struct {
	ID            int64  `json:"id"`
	Bank          string `json:"bank"`
	LastDigits    string `json:"last_digits"`
	Nickname      string `json:"nickname,omitempty"`
	CycleStartDay int    `json:"cycle_start_day"`
	CycleEndDay   int    `json:"cycle_end_day"`
	DueDay        int    `json:"due_day"`
	TotalLimit    string `json:"total_limit"`
	UsedLimit     string `json:"used_limit"`
	EstimateLimit string `json:"estimate_limit"`
}

type invoiceView struct {
	ID        int64  `json:"id"`
	CardID    int64  `json:"card_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	DueDate   string `json:"due_date"`
	Total     string `json:"total"`
	Status    string `json:"status"`
}

type purchaseView struct {
	ID              int64  `json:"id"`
	CardID          int64  `json:"card_id"`
	CategoryID      int64  `json:"category_id"`
	Description     string `json:"description"`
	Value           string `json:"value"`
	PurchasedAt     string `json:"purchased_at"`
	HasInstallments bool   `json:"has_installments"`
}

type lineView struct {
	PurchaseID  int64  `json:"purchase_id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Installment string `json:"installment,omitempty"`
	Amount      string `json:"amount"`
}

type detailView struct {
	Invoice invoiceView `json:"invoice"`
	Card    cardView    `json:"card"`
	Lines   []lineView  `json:"lines"`
}

func newCardView(c core.Card) cardView {
	return cardView{
		ID:            c.ID,
		Bank:          c.Bank,
		LastDigits:    c.LastDigits,
		Nickname:      c.Nickname,
		CycleStartDay: c.Billing.CycleStartDay,
		CycleEndDay:   c.Billing.CycleEndDay,
		DueDay:        c.Billing.DueDay,
		TotalLimit:    c.TotalLimit.String(),
		UsedLimit:     c.UsedLimit.String(),
		EstimateLimit: c.EstimateLimit.String(),
	}
}

func newInvoiceView(inv core.Invoice) invoiceView {
	return invoiceView{
		ID:        inv.ID,
		CardID:    inv.CardID,
		StartDate: inv.StartDate.String(),
		EndDate:   inv.EndDate.String(),
		DueDate:   inv.DueDate.String(),
		Total:     inv.Total.String(),
		Status:    string(inv.Status),
	}
}

func newLineView(l core.StatementLine) lineView {
	v := lineView{
		PurchaseID:  l.PurchaseID,
		Date:        l.Date.String(),
		Description: l.Description,
		Category:    l.Category,
		Amount:      l.Amount.String(),
	}
	if l.Installment > 0 {
		v.Installment = fmt.Sprintf("%d/%d", l.Installment, l.OfCount)
	}
	return v
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) table(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func (a *App) printCards(asJSON bool, cards ...core.Card) error {
	views := make([]cardView, len(cards))
	for i, c := range cards {
		views[i] = newCardView(c)
	}
	if asJSON {
		return a.printJSON(views)
	}
	rows := make([][]string, len(views))
	for i, v := range views {
		rows[i] = []string{
			fmt.Sprint(v.ID), v.Bank, v.LastDigits, v.Nickname,
			fmt.Sprintf("%d-%d/%d", v.CycleStartDay, v.CycleEndDay, v.DueDay),
			v.TotalLimit, v.UsedLimit, v.EstimateLimit,
		}
	}
	return a.table([]string{"ID", "BANK", "DIGITS", "NICKNAME", "CYCLE/DUE", "LIMIT", "USED", "ESTIMATE"}, rows)
}

func (a *App) printInvoices(asJSON bool, invs ...core.Invoice) error {
	views := make([]invoiceView, len(invs))
	for i, inv := range invs {
		views[i] = newInvoiceView(inv)
	}
	if asJSON {
		return a.printJSON(views)
	}
	rows := make([][]string, len(views))
	for i, v := range views {
		rows[i] = []string{fmt.Sprint(v.ID), fmt.Sprint(v.CardID), v.StartDate, v.EndDate, v.DueDate, v.Status, v.Total}
	}
	return a.table([]string{"ID", "CARD", "START", "END", "DUE", "STATUS", "TOTAL"}, rows)
}

func (a *App) printPurchase(asJSON bool, p core.Purchase) error {
	v := purchaseView{
		ID:              p.ID,
		CardID:          p.CardID,
		CategoryID:      p.CategoryID,
		Description:     p.Description,
		Value:           p.Value.String(),
		PurchasedAt:     core.DateOf(p.PurchasedAt).String(),
		HasInstallments: p.HasInstallments,
	}
	if asJSON {
		return a.printJSON(v)
	}
	return a.table(
		[]string{"ID", "CARD", "DATE", "DESCRIPTION", "VALUE", "INSTALLMENTS"},
		[][]string{{fmt.Sprint(v.ID), fmt.Sprint(v.CardID), v.PurchasedAt, v.Description, v.Value, fmt.Sprint(v.HasInstallments)}},
	)
}

func (a *App) printDetail(asJSON bool, d core.InvoiceDetail) error {
	view := detailView{
		Invoice: newInvoiceView(d.Invoice),
		Card:    newCardView(d.Card),
		Lines:   make([]lineView, len(d.Lines)),
	}
	for i, l := range d.Lines {
		view.Lines[i] = newLineView(l)
	}
	if asJSON {
		return a.printJSON(view)
	}

	inv := view.Invoice
	fmt.Fprintf(a.Out, "%s  %s..%s  due %s  %s\n", sheets.CardLabel(d.Card), inv.StartDate, inv.EndDate, inv.DueDate, inv.Status)
	rows := make([][]string, 0, len(view.Lines)+1)
	for _, l := range view.Lines {
		rows = append(rows, []string{l.Date, l.Description, l.Category, l.Installment, l.Amount})
	}
	rows = append(rows, []string{"", "TOTAL", "", "", inv.Total})
	return a.table([]string{"DATE", "DESCRIPTION", "CATEGORY", "INSTALLMENT", "AMOUNT"}, rows)
}
