// Package timeparse extracts a fire time and recurrence from free-form
// reminder text.
//
// Two input styles are accepted:
//
//	explicit markers:  "pay rent date#01.03.2026 time#09:00 repeat#daily"
//	natural language:  "подзвонити мамі завтра о 18:30"
//
// Markers win over natural language and are stripped from the returned text.
// Natural-language keywords cover Ukrainian and English day words, weekday
// names, and repeat words.
package timeparse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/recur"
)

// ErrNoDate means no date could be recognized in the text.
var ErrNoDate = errors.New("timeparse: no date found")

// Result is the parsed reminder request.
type Result struct {
	Text    string // input with markers stripped
	FireAt  time.Time
	Repeat  recur.Policy
	HasTime bool // false when the time of day was defaulted from now
}

// Longer words first: "завтра" is a substring of "післязавтра".
var relativeDays = []struct {
	word string
	days int
}{
	{"післязавтра", 2},
	{"сьогодні", 0},
	{"завтра", 1},
	{"tomorrow", 1},
	{"today", 0},
}

var weekdays = map[string]time.Weekday{
	"понеділок": time.Monday,
	"вівторок":  time.Tuesday,
	"середа":    time.Wednesday,
	"четвер":    time.Thursday,
	"п'ятниця":  time.Friday,
	"субота":    time.Saturday,
	"неділя":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

var repeatKeywords = []struct {
	word string
	pol  recur.Policy
}{
	{"щоденно", recur.Daily},
	{"щодня", recur.Daily},
	{"щотижня", recur.Weekly},
	{"щотижнево", recur.Weekly},
	{"every day", recur.Daily},
	{"daily", recur.Daily},
	{"every week", recur.Weekly},
	{"weekly", recur.Weekly},
}

var namedTimes = []struct {
	word string
	h, m int
}{
	{"опівночі", 0, 0},
	{"півноч", 0, 0},
	{"полудень", 12, 0},
	{"південь", 12, 0},
	{"midnight", 0, 0},
	{"noon", 12, 0},
}

var (
	markerDateRe   = regexp.MustCompile(`date#(\d{2})\.(\d{2})\.(\d{4})\s*`)
	markerTimeRe   = regexp.MustCompile(`time#(\d{2}):(\d{2})\s*`)
	markerRepeatRe = regexp.MustCompile(`repeat#(\w+)\s*`)
	isoDateRe      = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	dottedDateRe   = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})`)
	clockRe        = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// Parse extracts a fire time and recurrence from text, resolving relative
// dates against now in loc. The returned FireAt is in loc.
func Parse(text string, now time.Time, loc *time.Location) (Result, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	res := Result{Text: strings.TrimSpace(text), Repeat: recur.None}
	lower := strings.ToLower(res.Text)

	var (
		day      time.Time
		haveDay  bool
		hh, mm   int
		haveTime bool
	)

	if m := markerDateRe.FindStringSubmatch(lower); m != nil {
		if d, ok := makeDate(m[3], m[2], m[1], loc); ok {
			day, haveDay = d, true
		}
	}
	if m := markerTimeRe.FindStringSubmatch(lower); m != nil {
		if h, mn, ok := makeClock(m[1], m[2]); ok {
			hh, mm, haveTime = h, mn, true
		}
	}
	if m := markerRepeatRe.FindStringSubmatch(lower); m != nil {
		if p, err := recur.ParsePolicy(m[1]); err == nil {
			res.Repeat = p
		}
	}

	if !haveDay {
		var bad bool
		day, haveDay, bad = findDate(lower, now, loc)
		if bad {
			return Result{}, ErrNoDate
		}
	}
	if !haveTime {
		hh, mm, haveTime = findTime(lower)
	}
	if res.Repeat == recur.None {
		for _, kw := range repeatKeywords {
			if strings.Contains(lower, kw.word) {
				res.Repeat = kw.pol
				break
			}
		}
	}

	// A bare time means "today at HH:MM".
	if !haveDay && haveTime {
		day, haveDay = midnight(now), true
	}
	if !haveDay {
		return Result{}, ErrNoDate
	}
	if !haveTime {
		hh, mm = now.Hour(), now.Minute()
	}
	res.HasTime = haveTime
	res.FireAt = time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc)

	res.Text = markerDateRe.ReplaceAllString(res.Text, "")
	res.Text = markerTimeRe.ReplaceAllString(res.Text, "")
	res.Text = markerRepeatRe.ReplaceAllString(res.Text, "")
	res.Text = strings.TrimSpace(res.Text)
	return res, nil
}

// findDate reports bad=true when an explicit date was written but is not a
// real calendar date; such input must not silently fall back to "today".
func findDate(lower string, now time.Time, loc *time.Location) (day time.Time, ok, bad bool) {
	if m := isoDateRe.FindStringSubmatch(lower); m != nil {
		if d, valid := makeDate(m[1], m[2], m[3], loc); valid {
			return d, true, false
		}
		return time.Time{}, false, true
	}
	if m := dottedDateRe.FindStringSubmatch(lower); m != nil {
		if d, valid := makeDate(m[3], m[2], m[1], loc); valid {
			return d, true, false
		}
		return time.Time{}, false, true
	}
	for _, rd := range relativeDays {
		if strings.Contains(lower, rd.word) {
			return midnight(now).AddDate(0, 0, rd.days), true, false
		}
	}
	for word, wd := range weekdays {
		if strings.Contains(lower, word) {
			ahead := int(wd - now.Weekday())
			if ahead <= 0 {
				ahead += 7
			}
			return midnight(now).AddDate(0, 0, ahead), true, false
		}
	}
	return time.Time{}, false, false
}

func findTime(lower string) (int, int, bool) {
	if m := clockRe.FindStringSubmatch(lower); m != nil {
		if h, mn, ok := makeClock(m[1], m[2]); ok {
			return h, mn, true
		}
	}
	for _, nt := range namedTimes {
		if strings.Contains(lower, nt.word) {
			return nt.h, nt.m, true
		}
	}
	return 0, 0, false
}

func makeDate(ys, ms, ds string, loc *time.Location) (time.Time, bool) {
	y, _ := strconv.Atoi(ys)
	mo, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
	// Reject normalized overflow like 31.02.
	if t.Day() != d || t.Month() != time.Month(mo) {
		return time.Time{}, false
	}
	return t, true
}

func makeClock(hs, ms string) (int, int, bool) {
	h, _ := strconv.Atoi(hs)
	m, _ := strconv.Atoi(ms)
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
