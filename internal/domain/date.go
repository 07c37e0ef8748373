package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// Date is a calendar day without time-of-day, normalized to UTC midnight.
type Date struct {
	time.Time
}

// NewDate builds a Date from its calendar parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the time-of-day of t, keeping its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON renders the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

// UnmarshalJSON accepts "YYYY-MM-DD".
func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("date must be a quoted YYYY-MM-DD string")
	}
	parsed, err := ParseDate(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AddDays returns the date n days later (earlier when n is negative).
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

// DaysSince returns the signed number of whole days from other to d.
func (d Date) DaysSince(other Date) int {
	return int(d.Time.Sub(other.Time) / (24 * time.Hour))
}

// IsFirstOfMonth reports whether d is the first calendar day of its month.
func (d Date) IsFirstOfMonth() bool {
	return d.Day() == 1
}

// MonthStart returns the first day of d's month.
func (d Date) MonthStart() Date {
	return NewDate(d.Year(), d.Month(), 1)
}

// NextMonthStart returns the first day of the month after d's.
func (d Date) NextMonthStart() Date {
	return Date{d.MonthStart().Time.AddDate(0, 1, 0)}
}

// Period is a half-open date range [From, To).
type Period struct {
	From Date
	To   Date
}

// Through builds the period covering from..last, both days included.
func Through(from, last Date) Period {
	return Period{From: from, To: last.AddDays(1)}
}

// MonthPeriod returns the period covering the whole month that starts at start.
func MonthPeriod(start Date) Period {
	return Period{From: start.MonthStart(), To: start.NextMonthStart()}
}

// YearPeriod returns the period covering the whole calendar year.
func YearPeriod(year int) Period {
	return Period{From: NewDate(year, time.January, 1), To: NewDate(year+1, time.January, 1)}
}
