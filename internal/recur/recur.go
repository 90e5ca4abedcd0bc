// Package recur computes the next occurrence of a recurring reminder.
//
// Next is pure and deterministic: it never consults the current time, so a
// restart can recompute identical occurrences from stored state.
package recur

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Policy governs whether and how a fired timer regenerates a future one.
type Policy string

const (
	None   Policy = "none"
	Daily  Policy = "daily"
	Weekly Policy = "weekly"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case None, "":
		return None, nil
	case Daily:
		return Daily, nil
	case Weekly:
		return Weekly, nil
	default:
		return None, fmt.Errorf("unknown recurrence %q", s)
	}
}

func (p Policy) IsRecurring() bool { return p == Daily || p == Weekly }

// Next returns the occurrence following last, or false for one-shot policies.
//
// The math is calendar-aware in loc: "daily at 09:00" stays at 09:00 local
// wall-clock across a DST transition rather than drifting by the offset
// change. Weekly preserves the weekday as well as HH:MM.
func Next(last time.Time, p Policy, loc *time.Location) (time.Time, bool) {
	var freq rrule.Frequency
	switch p {
	case Daily:
		freq = rrule.DAILY
	case Weekly:
		freq = rrule.WEEKLY
	default:
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	dtstart := last.In(loc)
	r, err := rrule.NewRRule(rrule.ROption{Freq: freq, Dtstart: dtstart})
	if err != nil {
		return time.Time{}, false
	}
	next := r.After(dtstart, false)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
