// Package core provides money parsing and handling utilities.
//
// Amounts are carried as integer cents so installment splits and invoice
// totals never go through floating point.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Money is an amount in cents.
type Money struct {
	Cents int64
}

// ParseDecimalToCents converts a decimal string to cents with proper rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. The result is always positive cents.
// Returns an error for invalid formats, negative values, or zero amounts.
//
// Examples:
//
//	ParseDecimalToCents("12.34") -> 1234, nil
//	ParseDecimalToCents("12,34") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil (rounds up)
//	ParseDecimalToCents("12.344") -> 1234, nil (rounds down)
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	cents := iv*100 + fracCents
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseMoney is ParseDecimalToCents returning a Money.
func ParseMoney(s string) (Money, error) {
	cents, err := ParseDecimalToCents(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: cents}, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}

// Share divides m into n parts rounded half-up to the cent.
func (m Money) Share(n int) Money {
	if n <= 0 {
		return Money{}
	}
	d := int64(n)
	if m.Cents < 0 {
		return Money{Cents: -((-m.Cents*2 + d) / (2 * d))}
	}
	return Money{Cents: (m.Cents*2 + d) / (2 * d)}
}

// Split returns n installment values. Every installment but the last is
// m.Share(n); the last one takes whatever is left, so the parts always add
// back up to m. When rounding up would leave the last installment empty the
// share is truncated instead. Every installment must be at least one cent, so
// fewer cents than installments is ErrValueTooSmall.
func (m Money) Split(n int) ([]Money, error) {
	if n < 1 {
		return nil, ErrInvalidInstallments
	}
	if m.Cents < int64(n) {
		return nil, fmt.Errorf("%w: %s into %d", ErrValueTooSmall, m, n)
	}
	share := m.Share(n)
	if share.Cents*int64(n-1) >= m.Cents {
		share = Money{Cents: m.Cents / int64(n)}
	}
	parts := make([]Money, n)
	for i := 0; i < n-1; i++ {
		parts[i] = share
	}
	parts[n-1] = Money{Cents: m.Cents - share.Cents*int64(n-1)}
	return parts, nil
}

// Decimal returns the amount as a float64 for display purposes.
// Use cents for calculations.
func (m Money) Decimal() float64 {
	return float64(m.Cents) / 100.0
}

func (m Money) String() string {
	sign := ""
	c := m.Cents
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
