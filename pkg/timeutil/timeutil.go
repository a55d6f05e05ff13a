// Package timeutil provides calendar-day helpers for streak tracking.
// A Day is a date without time of day. Days are compared as whole calendar
// days, so DST shifts and time-of-day never leak into streak gaps.
// The engine's policy is the UTC calendar day unless a location is configured.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// FormatDate is the canonical day layout (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// Day is a calendar date. The zero Day means "no date recorded".
type Day struct {
	// t is always midnight UTC of the calendar date.
	t time.Time
}

// NewDay returns the Day for the given calendar date.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the UTC calendar day of t.
func DayOf(t time.Time) Day {
	return DayIn(t, time.UTC)
}

// DayIn returns the calendar day of t as observed in loc.
// A nil location means UTC.
func DayIn(t time.Time, loc *time.Location) Day {
	if t.IsZero() {
		return Day{}
	}
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return NewDay(local.Year(), local.Month(), local.Day())
}

// Today returns the current calendar day in loc.
func Today(loc *time.Location) Day {
	return DayIn(time.Now(), loc)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(value string) (Day, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Day{}, nil
	}
	t, err := time.ParseInLocation(FormatDate, value, time.UTC)
	if err != nil {
		return Day{}, fmt.Errorf("timeutil: invalid day %q: %w", value, err)
	}
	return Day{t: t}, nil
}

// MustParseDay is ParseDay for constants and tests.
func MustParseDay(value string) Day {
	d, err := ParseDay(value)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether no date is recorded.
func (d Day) IsZero() bool {
	return d.t.IsZero()
}

// Time returns midnight UTC of the day.
func (d Day) Time() time.Time {
	return d.t
}

// AddDays returns the day n days later (n may be negative).
func (d Day) AddDays(n int) Day {
	if d.IsZero() {
		return d
	}
	return Day{t: d.t.AddDate(0, 0, n)}
}

// Equal reports whether both values are the same calendar date.
func (d Day) Equal(other Day) bool {
	return d.t.Equal(other.t)
}

// Before reports whether d is an earlier date than other.
func (d Day) Before(other Day) bool {
	return d.t.Before(other.t)
}

// String formats the day as YYYY-MM-DD, or "" for the zero Day.
func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(FormatDate)
}

// MarshalText implements encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(text []byte) error {
	parsed, err := ParseDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns the signed number of whole days from `from` to `to`.
// It is negative when `to` precedes `from`.
func DaysBetween(from, to Day) int {
	// Both values sit on UTC midnight, so the difference is an exact
	// multiple of 24h.
	return int(to.t.Sub(from.t).Hours() / 24)
}

// IsSameDay checks if two days are the same calendar date.
func IsSameDay(a, b Day) bool {
	return DaysBetween(a, b) == 0
}

// IsConsecutiveDay checks if b is the day after a.
func IsConsecutiveDay(a, b Day) bool {
	return DaysBetween(a, b) == 1
}

// LoadLocation resolves a location name, falling back to UTC for "" and
// unknown names.
func LoadLocation(name string) *time.Location {
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
