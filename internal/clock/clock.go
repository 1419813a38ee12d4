// Package clock provides the time source the engine reads "today" from.
package clock

import (
	"sync"
	"time"

	"cardbook/internal/core"
)

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// Today is the calendar day of c.Now().
func Today(c Clock) core.Date {
	return core.DateOf(c.Now())
}

// Real returns the actual current time.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Fake provides a controllable clock for testing.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// NewFakeDate sets the fake clock to noon UTC of the given day.
func NewFakeDate(year, month, day int) *Fake {
	return NewFake(time.Date(year, time.Month(month), day, 12, 0, 0, 0, time.UTC))
}

func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake time forward by duration d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// AdvanceDays moves the fake time forward by n calendar days.
func (f *Fake) AdvanceDays(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.AddDate(0, 0, n)
}
