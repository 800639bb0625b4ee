package domain

import (
	"fmt"
	"time"
)

// DateLayout is the on-disk and wire format for trading days.
const DateLayout = "2006-01-02"

// DateOf strips the time component of t in its own location and returns
// the calendar date at UTC midnight. Exchange timestamps keep their local
// trading day this way.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateIn converts t to loc before stripping the time component.
func DateIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return DateOf(t)
	}
	return DateOf(t.In(loc))
}

// IsDate reports whether t is a normalized date (UTC midnight).
func IsDate(t time.Time) bool {
	return t.Location() == time.UTC && t.Equal(DateOf(t))
}

// ParseDate parses a YYYY-MM-DD string into a normalized date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// MustDate is ParseDate for constants and tests.
func MustDate(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// FormatDate formats a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// AddDays shifts a date by n calendar days.
func AddDays(t time.Time, n int) time.Time {
	return DateOf(t).AddDate(0, 0, n)
}
