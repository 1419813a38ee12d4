package billing

import (
	"errors"
	"testing"

	"cardbook/internal/core"
)

func d(y, m, day int) core.Date { return core.NewDate(y, m, day) }

func mustCalc(t *testing.T, start, end, due int) Calculator {
	t.Helper()
	c, err := New(core.BillingConfig{CycleStartDay: start, CycleEndDay: end, DueDay: due}, AnchorCycleEnd)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	return c
}

func TestCycleEndClamps(t *testing.T) {
	tests := []struct {
		name   string
		anchor core.Date
		day    int
		want   core.Date
	}{
		{"leap february", d(2024, 2, 15), 30, d(2024, 2, 29)},
		{"plain february", d(2023, 2, 15), 30, d(2023, 2, 28)},
		{"april 31", d(2024, 4, 1), 31, d(2024, 4, 30)},
		{"no clamp", d(2024, 3, 20), 4, d(2024, 3, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CycleEnd(tt.anchor, tt.day); !got.Equal(tt.want) {
				t.Fatalf("CycleEnd(%s, %d) = %s, want %s", tt.anchor, tt.day, got, tt.want)
			}
			if got := CycleStart(tt.anchor, tt.day); !got.Equal(tt.want) {
				t.Fatalf("CycleStart(%s, %d) = %s, want %s", tt.anchor, tt.day, got, tt.want)
			}
		})
	}
}

func TestDueDateAddsOneMonth(t *testing.T) {
	tests := []struct {
		anchor core.Date
		day    int
		want   core.Date
	}{
		{d(2024, 3, 15), 10, d(2024, 4, 10)},
		{d(2024, 12, 1), 5, d(2025, 1, 5)},
		{d(2024, 1, 20), 31, d(2024, 2, 29)}, // Jan 31 then clamp into February
		{d(2024, 2, 20), 31, d(2024, 3, 29)}, // Feb 29 plus one month
	}
	for _, tt := range tests {
		if got := DueDate(tt.anchor, tt.day); !got.Equal(tt.want) {
			t.Fatalf("DueDate(%s, %d) = %s, want %s", tt.anchor, tt.day, got, tt.want)
		}
	}
}

func TestAddMonthsClamps(t *testing.T) {
	tests := []struct {
		in   core.Date
		n    int
		want core.Date
	}{
		{d(2024, 1, 31), 1, d(2024, 2, 29)},
		{d(2024, 3, 31), -1, d(2024, 2, 29)},
		{d(2024, 11, 15), 3, d(2025, 2, 15)},
		{d(2024, 1, 15), -13, d(2022, 12, 15)},
	}
	for _, tt := range tests {
		if got := AddMonths(tt.in, tt.n); !got.Equal(tt.want) {
			t.Fatalf("AddMonths(%s, %d) = %s, want %s", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestNewRejectsInvalidDays(t *testing.T) {
	for _, cfg := range []core.BillingConfig{
		{CycleStartDay: 0, CycleEndDay: 4, DueDay: 10},
		{CycleStartDay: 5, CycleEndDay: 32, DueDay: 10},
		{CycleStartDay: 5, CycleEndDay: 4, DueDay: 0},
	} {
		if _, err := New(cfg, ""); !errors.Is(err, core.ErrInvalidDay) {
			t.Fatalf("%+v expected ErrInvalidDay, got %v", cfg, err)
		}
	}
	if _, err := New(core.BillingConfig{CycleStartDay: 1, CycleEndDay: 28, DueDay: 5}, "sideways"); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for bad anchor, got %v", err)
	}
}

func TestWindowCrossingMonth(t *testing.T) {
	c := mustCalc(t, 5, 4, 10)

	tests := []struct {
		name string
		on   core.Date
		want Window
	}{
		{"mid cycle", d(2024, 3, 15), Window{d(2024, 3, 5), d(2024, 4, 4), d(2024, 4, 10)}},
		{"first day", d(2024, 3, 5), Window{d(2024, 3, 5), d(2024, 4, 4), d(2024, 4, 10)}},
		{"last day", d(2024, 4, 4), Window{d(2024, 3, 5), d(2024, 4, 4), d(2024, 4, 10)}},
		{"before start day", d(2024, 3, 2), Window{d(2024, 2, 5), d(2024, 3, 4), d(2024, 3, 10)}},
		{"year boundary", d(2025, 1, 3), Window{d(2024, 12, 5), d(2025, 1, 4), d(2025, 1, 10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Window(tt.on)
			if !got.Start.Equal(tt.want.Start) || !got.End.Equal(tt.want.End) || !got.Due.Equal(tt.want.Due) {
				t.Fatalf("Window(%s) = %s, want %s", tt.on, got, tt.want)
			}
			if !got.Contains(tt.on) {
				t.Fatalf("window %s does not contain %s", got, tt.on)
			}
		})
	}
}

func TestWindowSameMonth(t *testing.T) {
	c := mustCalc(t, 1, 28, 5)
	w := c.Window(d(2024, 2, 10))
	if !w.Start.Equal(d(2024, 2, 1)) || !w.End.Equal(d(2024, 2, 28)) || !w.Due.Equal(d(2024, 3, 5)) {
		t.Fatalf("unexpected window %s", w)
	}

	// Days after the end day fall in the gap and are billed on the next window.
	w = c.Window(d(2024, 3, 30))
	if !w.Start.Equal(d(2024, 4, 1)) || !w.End.Equal(d(2024, 4, 28)) {
		t.Fatalf("unexpected gap window %s", w)
	}
}

func TestWindowsNeverOverlap(t *testing.T) {
	configs := []core.BillingConfig{
		{CycleStartDay: 5, CycleEndDay: 4, DueDay: 10},
		{CycleStartDay: 31, CycleEndDay: 30, DueDay: 7},
		{CycleStartDay: 30, CycleEndDay: 29, DueDay: 31},
		{CycleStartDay: 1, CycleEndDay: 31, DueDay: 10},
		{CycleStartDay: 15, CycleEndDay: 15, DueDay: 1},
	}
	for _, cfg := range configs {
		c, err := New(cfg, "")
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		prev := c.WindowForCycle(2023, 1)
		for i := 1; i < 36; i++ {
			next := c.Following(prev, 1)
			if !next.Start.After(prev.End) {
				t.Fatalf("%+v: %s overlaps %s", cfg, prev, next)
			}
			if next.End.Before(next.Start) {
				t.Fatalf("%+v: inverted window %s", cfg, next)
			}
			if !next.Due.After(next.End) {
				t.Fatalf("%+v: due not after end in %s", cfg, next)
			}
			prev = next
		}
	}
}

func TestFollowingWindows(t *testing.T) {
	c := mustCalc(t, 5, 4, 10)
	first := c.Window(d(2024, 3, 15))
	want := [][2]core.Date{
		{d(2024, 4, 5), d(2024, 5, 4)},
		{d(2024, 5, 5), d(2024, 6, 4)},
	}
	for i, w := range want {
		got := c.Following(first, i+1)
		if !got.Start.Equal(w[0]) || !got.End.Equal(w[1]) {
			t.Fatalf("following %d = %s, want [%s, %s]", i+1, got, w[0], w[1])
		}
	}
}

func TestIsRetroactive(t *testing.T) {
	today := d(2024, 3, 15)

	endAnchored := mustCalc(t, 5, 4, 10)
	tests := []struct {
		name     string
		purchase core.Date
		want     bool
	}{
		{"same day", today, false},
		{"two months back", d(2024, 1, 15), true},
		{"before end-day reference", d(2024, 3, 3), true},
		{"on end-day reference", d(2024, 3, 4), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := endAnchored.IsRetroactive(tt.purchase, today); got != tt.want {
				t.Fatalf("IsRetroactive(%s) = %v, want %v", tt.purchase, got, tt.want)
			}
		})
	}

	startAnchored, err := New(core.BillingConfig{CycleStartDay: 1, CycleEndDay: 28, DueDay: 5}, AnchorCycleStart)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// With the end-day reference a purchase on the 10th would count as
	// retroactive on the 15th; the start anchor keeps it in the live cycle.
	if startAnchored.IsRetroactive(d(2024, 3, 10), today) {
		t.Fatalf("expected purchase inside current window to be current")
	}
	if !startAnchored.IsRetroactive(d(2024, 2, 27), today) {
		t.Fatalf("expected purchase in previous window to be retroactive")
	}
}
