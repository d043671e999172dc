package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyScale is the number of fractional digits kept for every amount.
const CurrencyScale = 2

const DateLayout = "2006-01-02"

// Money rounds d half-up to whole cents.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyScale)
}

// ParseAmount parses a positive decimal amount. Both "12.34" and "12,34" are
// accepted; the value is rounded to cents and must be greater than zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = Money(d)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// DateOf drops the time of day, keeping the calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate builds a calendar date.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
