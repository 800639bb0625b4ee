package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookbackUnit is the unit of a Lookback duration.
type LookbackUnit string

const (
	LookbackYears LookbackUnit = "y"
	LookbackDays  LookbackUnit = "d"
)

// Lookback is how far back to fetch a ticker that has never been fetched.
// Written as "Ny" (calendar years) or "Nd" (days), e.g. "1y", "90d".
type Lookback struct {
	N    int
	Unit LookbackUnit
}

// ParseLookback parses the "Ny" / "Nd" form.
func ParseLookback(s string) (Lookback, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 {
		return Lookback{}, fmt.Errorf("invalid lookback %q: want Ny or Nd", s)
	}
	unit := LookbackUnit(s[len(s)-1:])
	if unit != LookbackYears && unit != LookbackDays {
		return Lookback{}, fmt.Errorf("invalid lookback %q: unit must be y or d", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Lookback{}, fmt.Errorf("invalid lookback %q: count must be a positive integer", s)
	}
	return Lookback{N: n, Unit: unit}, nil
}

// MustLookback is ParseLookback for constants and tests.
func MustLookback(s string) Lookback {
	l, err := ParseLookback(s)
	if err != nil {
		panic(err)
	}
	return l
}

// Before returns the date that lies the lookback before today.
// Year lookbacks move the calendar year (2024-02-29 minus 1y is 2023-03-01,
// as time.AddDate normalizes).
func (l Lookback) Before(today time.Time) time.Time {
	today = DateOf(today)
	switch l.Unit {
	case LookbackYears:
		return today.AddDate(-l.N, 0, 0)
	default:
		return today.AddDate(0, 0, -l.N)
	}
}

// String returns the "Ny" / "Nd" form.
func (l Lookback) String() string {
	return strconv.Itoa(l.N) + string(l.Unit)
}
