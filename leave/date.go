package leave

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date
// =============================================================================

// Date is a calendar date with day granularity, always UTC. Leave requests and
// balances operate on whole or half days, never finer, so the wall-clock
// portion of time.Time is deliberately stripped.
type Date struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now().UTC())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.normalize().Before(other.normalize()) }
func (d Date) Equal(other Date) bool         { return d.normalize().Equal(other.normalize()) }
func (d Date) After(other Date) bool         { return d.normalize().After(other.normalize()) }
func (d Date) BeforeOrEqual(other Date) bool { return d.Before(other) || d.Equal(other) }
func (d Date) AfterOrEqual(other Date) bool  { return d.After(other) || d.Equal(other) }

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (d Date) AddDays(n int) Date   { return DateOf(d.Time.AddDate(0, 0, n)) }
func (d Date) AddMonths(n int) Date { return DateOf(d.Time.AddDate(0, n, 0)) }
func (d Date) AddYears(n int) Date  { return DateOf(d.Time.AddDate(n, 0, 0)) }

// Properties
func (d Date) Year() int             { return d.Time.Year() }
func (d Date) Month() time.Month     { return d.Time.Month() }
func (d Date) Day() int              { return d.Time.Day() }
func (d Date) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
func (d Date) IsZero() bool { return d.Time.IsZero() }

func (d Date) String() string { return d.normalize().Format(dateLayout) }

// DaysBetween returns the number of whole days from `from` to `to`.
// Negative when `to` precedes `from`.
func DaysBetween(from, to Date) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// =============================================================================
// WORKDAY CALENDAR - Extension hook for holiday-aware duration
// =============================================================================

// WorkdayCalendar answers whether a date counts as a working day. The base
// duration rule counts every calendar day; a calendar-aware deployment plugs
// in an implementation backed by a holiday table.
type WorkdayCalendar interface {
	// IsWorkday reports whether the date is a working day.
	IsWorkday(date Date) bool
}

// EveryDayCalendar treats every calendar day as a workday. This is the base
// behavior: weekends and holidays are not excluded from leave duration.
type EveryDayCalendar struct{}

func (EveryDayCalendar) IsWorkday(Date) bool { return true }

// BusinessDayCalendar excludes weekends and any dates its holiday source
// reports. Used only through the calendar-aware duration extension.
type BusinessDayCalendar struct {
	// Holidays returns true for company holidays. Nil means weekends only.
	Holidays func(date Date) bool
}

func (c BusinessDayCalendar) IsWorkday(date Date) bool {
	if date.IsWeekend() {
		return false
	}
	if c.Holidays != nil && c.Holidays(date) {
		return false
	}
	return true
}
