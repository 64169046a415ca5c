// Package recurrence computes next-fire timestamps for schedule rules.
//
// All arithmetic is pure and timezone-naive: results carry the location of
// the base timestamp and are stamped with the schedule's send time, with
// seconds and sub-seconds zeroed.
package recurrence

import (
	"time"

	"github.com/jma1ice/newsletterr/internal/domain"
)

// Next returns the next fire timestamp for a schedule.
//
// When lastSent is nil the first occurrence is computed relative to the
// anchor date; afterwards every occurrence is computed relative to the
// previous firing. Month-based rules therefore shift with late fires, which
// is preserved behavior, not a bug.
//
// An unrecognized rule falls back to a daily cadence. Callers are expected
// to validate rules before persisting them; the fallback exists so a bad row
// degrades instead of wedging the dispatch loop.
func Next(rule domain.Rule, anchor time.Time, at domain.TimeOfDay, lastSent *time.Time) time.Time {
	base := anchor
	if lastSent != nil {
		base = *lastSent
	}

	switch rule {
	case domain.RuleDaily:
		return addDays(base, 1, at)
	case domain.RuleWeekly:
		return nextWeekday(base, anchor.Weekday(), at)
	case domain.RuleBiweekly:
		return addDays(base, 14, at)
	case domain.RuleBimonthly:
		return nextHalfMonth(base, anchor.Day(), at)
	case domain.RuleMonthly:
		return addMonths(base, 1, anchor.Day(), at)
	case domain.RuleBimonthlyInterval:
		return addMonths(base, 2, anchor.Day(), at)
	case domain.RuleQuarterly:
		return addMonths(base, 3, anchor.Day(), at)
	case domain.RuleBiannually:
		return addMonths(base, 6, anchor.Day(), at)
	case domain.RuleYearly:
		return nextYear(base, anchor, at)
	default:
		return addDays(base, 1, at)
	}
}

// stamp builds the occurrence timestamp: the given calendar day at the
// schedule's send time, seconds zeroed, in the base's location.
func stamp(year int, month time.Month, day int, at domain.TimeOfDay, loc *time.Location) time.Time {
	return time.Date(year, month, day, at.Hour, at.Minute, 0, 0, loc)
}

func addDays(base time.Time, days int, at domain.TimeOfDay) time.Time {
	t := base.AddDate(0, 0, days)
	return stamp(t.Year(), t.Month(), t.Day(), at, base.Location())
}

// nextWeekday advances base to the next occurrence of target, never returning
// the same calendar day: if base already falls on target, a full week is
// added.
func nextWeekday(base time.Time, target time.Weekday, at domain.TimeOfDay) time.Time {
	delta := (int(target) - int(base.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return addDays(base, delta, at)
}

// nextHalfMonth fires on the 1st and 15th. The anchor's day-of-month decides
// which target is checked first: anchors on or before the 15th order the
// targets (1, 15), later anchors order them (15, 1). Month rollover lands on
// the first target of the order.
func nextHalfMonth(base time.Time, anchorDay int, at domain.TimeOfDay) time.Time {
	targets := [2]int{1, 15}
	if anchorDay > 15 {
		targets = [2]int{15, 1}
	}

	for _, d := range targets {
		if d > base.Day() {
			return stamp(base.Year(), base.Month(), d, at, base.Location())
		}
	}

	y, m := rollMonths(base.Year(), base.Month(), 1)
	return stamp(y, m, targets[0], at, base.Location())
}

// addMonths advances base by months, targeting the anchor's day-of-month and
// clamping to the last day of the target month (Jan 31 anchor yields Feb 28,
// or Feb 29 in a leap year).
func addMonths(base time.Time, months, anchorDay int, at domain.TimeOfDay) time.Time {
	y, m := rollMonths(base.Year(), base.Month(), months)
	d := anchorDay
	if last := daysIn(y, m); d > last {
		d = last
	}
	return stamp(y, m, d, at, base.Location())
}

// nextYear advances to the anchor's month/day in the year after base. A
// Feb 29 anchor falls back to Feb 28 in non-leap years.
func nextYear(base, anchor time.Time, at domain.TimeOfDay) time.Time {
	y := base.Year() + 1
	m, d := anchor.Month(), anchor.Day()
	if m == time.February && d == 29 && !isLeap(y) {
		d = 28
	}
	return stamp(y, m, d, at, base.Location())
}

func rollMonths(year int, month time.Month, months int) (int, time.Month) {
	total := int(month) - 1 + months
	return year + total/12, time.Month(total%12 + 1)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month normalizes to this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
