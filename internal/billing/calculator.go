// Package billing holds the monthly cycle arithmetic for credit cards.
//
// All functions are pure. Days of month are clamped to the length of the
// month they are applied to, so a cycle ending on day 30 ends on Feb 28 or
// Feb 29 in February.
package billing

import (
	"fmt"

	"cardbook/internal/core"
)

// RetroactiveAnchor selects the reference date IsRetroactive compares against.
type RetroactiveAnchor string

const (
	// AnchorCycleEnd compares against today's month clamped to the cycle end day.
	AnchorCycleEnd RetroactiveAnchor = "cycle_end"
	// AnchorCycleStart compares against the start of the window containing today.
	AnchorCycleStart RetroactiveAnchor = "cycle_start"
)

func (a RetroactiveAnchor) IsValid() bool {
	return a == AnchorCycleEnd || a == AnchorCycleStart
}

// Window is one billing cycle: purchases dated in [Start, End] are billed on
// the invoice due on Due.
type Window struct {
	Start core.Date
	End   core.Date
	Due   core.Date
}

func (w Window) Contains(d core.Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s] due %s", w.Start, w.End, w.Due)
}

// ValidateDay rejects days outside 1-31.
func ValidateDay(day int) error {
	if day < 1 || day > 31 {
		return fmt.Errorf("%w: got %d", core.ErrInvalidDay, day)
	}
	return nil
}

// CycleStart returns anchor's month with the day set to startDay.
func CycleStart(anchor core.Date, startDay int) core.Date {
	return withDay(anchor, startDay)
}

// CycleEnd returns anchor's month with the day set to endDay. It never moves
// to another month.
func CycleEnd(anchor core.Date, endDay int) core.Date {
	return withDay(anchor, endDay)
}

// DueDate clamps dueDay into anchor's month and then moves one month ahead.
func DueDate(anchor core.Date, dueDay int) core.Date {
	return AddMonths(withDay(anchor, dueDay), 1)
}

// AddMonths moves d by n months, clamping the day to the target month
// (Jan 31 + 1 month = Feb 28/29) instead of overflowing into the next one.
func AddMonths(d core.Date, n int) core.Date {
	y, m := shiftMonth(d.Year(), d.Month(), n)
	day := d.Day()
	if last := core.DaysInMonth(y, m); day > last {
		day = last
	}
	return core.NewDate(y, m, day)
}

func withDay(anchor core.Date, day int) core.Date {
	if last := anchor.DaysInMonth(); day > last {
		day = last
	}
	return core.NewDate(anchor.Year(), anchor.Month(), day)
}

func shiftMonth(year, month, n int) (int, int) {
	idx := year*12 + (month - 1) + n
	return idx / 12, idx%12 + 1
}

// Calculator lays a card's billing configuration over the calendar.
type Calculator struct {
	cfg    core.BillingConfig
	anchor RetroactiveAnchor
}

// New validates cfg. An empty anchor defaults to AnchorCycleEnd.
func New(cfg core.BillingConfig, anchor RetroactiveAnchor) (Calculator, error) {
	for _, day := range []int{cfg.CycleStartDay, cfg.CycleEndDay, cfg.DueDay} {
		if err := ValidateDay(day); err != nil {
			return Calculator{}, err
		}
	}
	if anchor == "" {
		anchor = AnchorCycleEnd
	}
	if !anchor.IsValid() {
		return Calculator{}, fmt.Errorf("%w: unknown retroactive anchor %q", core.ErrInvalidArgument, anchor)
	}
	return Calculator{cfg: cfg, anchor: anchor}, nil
}

func (c Calculator) Config() core.BillingConfig {
	return c.cfg
}

// WindowForCycle returns the window that starts in the given month.
//
// When the end day precedes the start day the window closes in the following
// month. The end is capped to the day before the next window starts, so
// clamped windows never overlap.
func (c Calculator) WindowForCycle(year, month int) Window {
	first := core.NewDate(year, month, 1)
	start := CycleStart(first, c.cfg.CycleStartDay)
	nextFirst := AddMonths(first, 1)
	nextStart := CycleStart(nextFirst, c.cfg.CycleStartDay)

	end := CycleEnd(first, c.cfg.CycleEndDay)
	if c.cfg.CycleEndDay < c.cfg.CycleStartDay {
		end = CycleEnd(nextFirst, c.cfg.CycleEndDay)
	}
	if limit := nextStart.AddDays(-1); end.After(limit) {
		end = limit
	}
	if end.Before(start) {
		end = start
	}

	due := DueDate(start, c.cfg.DueDay)
	for !due.After(end) {
		due = AddMonths(due, 1)
	}
	return Window{Start: start, End: end, Due: due}
}

// Window returns the window d is billed in: the one containing d, or, when d
// falls in a gap between windows, the next window to close.
func (c Calculator) Window(d core.Date) Window {
	w := c.WindowForCycle(d.Year(), d.Month())
	if d.Before(w.Start) {
		y, m := shiftMonth(d.Year(), d.Month(), -1)
		w = c.WindowForCycle(y, m)
	}
	if d.After(w.End) {
		y, m := shiftMonth(w.Start.Year(), w.Start.Month(), 1)
		w = c.WindowForCycle(y, m)
	}
	return w
}

// Following returns the window starting n months after w.
func (c Calculator) Following(w Window, n int) Window {
	y, m := shiftMonth(w.Start.Year(), w.Start.Month(), n)
	return c.WindowForCycle(y, m)
}

// IsRetroactive reports whether a purchase dated purchaseDate belongs before
// the card's current cycle as seen on today.
func (c Calculator) IsRetroactive(purchaseDate, today core.Date) bool {
	var ref core.Date
	switch c.anchor {
	case AnchorCycleStart:
		ref = c.Window(today).Start
	default:
		ref = CycleStart(today, c.cfg.CycleEndDay)
	}
	return purchaseDate.Before(ref)
}
