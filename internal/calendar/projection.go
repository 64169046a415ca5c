// Package calendar projects schedule occurrences into a month window for
// display. Projections re-derive every occurrence from the anchor date and
// never read or write dispatch state (last_sent/next_send).
package calendar

import (
	"time"

	"github.com/jma1ice/newsletterr/internal/domain"
	"github.com/jma1ice/newsletterr/internal/recurrence"
)

// DayFormat keys the projection map by ISO calendar date.
const DayFormat = "2006-01-02"

// maxSteps bounds the unroll per schedule so a misconfigured rule or an
// anchor far in the past cannot spin the projection forever.
const maxSteps = 1000

// OccurrencesInMonth enumerates every occurrence of every active schedule
// that falls inside the given month, keyed by ISO date. Inactive schedules
// are invisible. The per-rule stepping mirrors the dispatch calculator
// exactly, so the calendar shows what the loop would fire.
func OccurrencesInMonth(schedules []domain.Schedule, year int, month time.Month) map[string][]domain.Occurrence {
	out := make(map[string][]domain.Occurrence)
	for _, s := range schedules {
		if !s.Active {
			continue
		}
		for _, t := range unroll(s, year, month) {
			key := t.Format(DayFormat)
			out[key] = append(out[key], domain.Occurrence{
				ScheduleID: s.ID,
				Name:       s.Name,
				Rule:       s.Rule,
				SendTime:   s.SendTime,
			})
		}
	}
	return out
}

// unroll walks the schedule's occurrence sequence from its anchor and
// collects the timestamps inside the window.
func unroll(s domain.Schedule, year int, month time.Month) []time.Time {
	loc := s.AnchorDate.Location()
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0)

	var hits []time.Time
	t := recurrence.Next(s.Rule, s.AnchorDate, s.SendTime, nil)
	t = fastForward(s.Rule, t, start)
	for step := 0; step < maxSteps && t.Before(end); step++ {
		if !t.Before(start) {
			hits = append(hits, t)
		}
		prev := t
		t = recurrence.Next(s.Rule, s.AnchorDate, s.SendTime, &prev)
		if !t.After(prev) {
			// A non-advancing rule would loop forever; stop here.
			break
		}
	}
	return hits
}

// fastForward jumps a fixed-stride occurrence sequence close to the window
// start so an anchor years in the past does not exhaust the step cap. It
// deliberately undershoots; the unroll loop covers the remainder. Rules whose
// increments are calendar-relative advance few steps per year and need no
// jump.
func fastForward(rule domain.Rule, first, start time.Time) time.Time {
	stride := dayStride(rule)
	if stride == 0 || !first.Before(start) {
		return first
	}
	days := int(start.Sub(first).Hours() / 24)
	skip := days / stride
	if skip <= 0 {
		return first
	}
	return first.AddDate(0, 0, skip*stride)
}

// dayStride returns the fixed whole-day interval of a rule, or 0 when the
// rule advances by calendar months instead.
func dayStride(rule domain.Rule) int {
	switch rule {
	case domain.RuleDaily:
		return 1
	case domain.RuleWeekly:
		return 7
	case domain.RuleBiweekly:
		return 14
	}
	return 0
}
