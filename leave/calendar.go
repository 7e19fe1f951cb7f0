/*
calendar.go - Duration computation for leave requests

PURPOSE:
  Converts a start/end date pair (plus half-day flag) into a consumed
  duration in day units. This is the single place duration math happens;
  handlers, the validator and the scheduler all route through it rather
  than doing their own date arithmetic.

RULES:
  - Half-day: duration is exactly 0.5 and start must equal end.
    The morning/afternoon period is informational only.
  - Full-day: duration is the inclusive calendar-day span (end - start + 1).
  - Weekends and holidays are NOT excluded by the base rule. This is a
    stated simplification; ComputeWorkdayDuration is the calendar-aware
    extension for deployments that plug in a WorkdayCalendar.

SEE ALSO:
  - date.go: Date type and WorkdayCalendar hook
  - validator.go: Uses durations for the balance pre-check
*/
package leave

import (
	"github.com/shopspring/decimal"
)

// ComputeDuration converts a date range into a day amount.
//
// Half-day requests require start == end and always yield 0.5 days.
// Otherwise the range is inclusive: 2024-01-20..2024-01-22 is 3 days.
// Returns ErrInvalidRange when end precedes start.
func ComputeDuration(start, end Date, isHalfDay bool, period HalfDayPeriod) (decimal.Decimal, error) {
	if end.Before(start) {
		return decimal.Zero, ErrInvalidRange
	}
	if isHalfDay {
		if !start.Equal(end) {
			return decimal.Zero, ErrInvalidRange
		}
		// period (morning/afternoon) is informational; any value is accepted
		return HalfDay, nil
	}
	return decimal.NewFromInt(int64(DaysBetween(start, end) + 1)), nil
}

// ComputeWorkdayDuration is the calendar-aware extension of ComputeDuration:
// it counts only dates the calendar reports as workdays. A half-day request
// on a non-workday yields zero.
func ComputeWorkdayDuration(start, end Date, isHalfDay bool, period HalfDayPeriod, cal WorkdayCalendar) (decimal.Decimal, error) {
	if cal == nil {
		cal = EveryDayCalendar{}
	}
	if end.Before(start) {
		return decimal.Zero, ErrInvalidRange
	}
	if isHalfDay {
		if !start.Equal(end) {
			return decimal.Zero, ErrInvalidRange
		}
		if !cal.IsWorkday(start) {
			return decimal.Zero, nil
		}
		return HalfDay, nil
	}
	count := 0
	for d := start; d.BeforeOrEqual(end); d = d.AddDays(1) {
		if cal.IsWorkday(d) {
			count++
		}
	}
	return decimal.NewFromInt(int64(count)), nil
}

// DaysUntil returns how many calendar days remain from `from` until `target`.
// Negative values mean the target is already past (overdue).
func DaysUntil(from, target Date) int {
	return DaysBetween(from, target)
}
