package timeparse

import (
	"errors"
	"testing"
	"time"

	"remindbot/internal/recur"
)

// Friday, whole minutes.
var now = time.Date(2026, 3, 6, 14, 45, 0, 0, time.UTC)

func TestParseMarkers(t *testing.T) {
	t.Parallel()
	res, err := Parse("pay rent date#01.04.2026 time#09:00 repeat#daily", now, time.UTC)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if !res.FireAt.Equal(want) {
		t.Fatalf("FireAt = %v, want %v", res.FireAt, want)
	}
	if res.Repeat != recur.Daily {
		t.Fatalf("Repeat = %v, want daily", res.Repeat)
	}
	if res.Text != "pay rent" {
		t.Fatalf("markers not stripped: %q", res.Text)
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     string
		want   time.Time
		repeat recur.Policy
	}{
		{
			name: "tomorrow with clock",
			in:   "подзвонити мамі завтра о 18:30",
			want: time.Date(2026, 3, 7, 18, 30, 0, 0, time.UTC),
		},
		{
			name: "today english",
			in:   "standup today 09:15",
			want: time.Date(2026, 3, 6, 9, 15, 0, 0, time.UTC),
		},
		{
			name: "weekday rolls to next week",
			in:   "йога п'ятниця 08:00", // today is Friday
			want: time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "dotted date",
			in:   "оплатити 15.03.2026 12:00",
			want: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "iso date at noon word",
			in:   "lunch 2026-03-20 noon",
			want: time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC),
		},
		{
			name:   "weekly keyword",
			in:     "звіт щотижня понеділок 10:00",
			want:   time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
			repeat: recur.Weekly,
		},
		{
			name:   "daily keyword",
			in:     "зарядка щодня завтра 07:00",
			want:   time.Date(2026, 3, 7, 7, 0, 0, 0, time.UTC),
			repeat: recur.Daily,
		},
		{
			name: "bare time means today",
			in:   "чай 16:20",
			want: time.Date(2026, 3, 6, 16, 20, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Parse(tt.in, now, time.UTC)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if !res.FireAt.Equal(tt.want) {
				t.Fatalf("FireAt = %v, want %v", res.FireAt, tt.want)
			}
			if res.Repeat != tt.repeat {
				t.Fatalf("Repeat = %v, want %v", res.Repeat, tt.repeat)
			}
		})
	}
}

func TestParseDefaultsTimeToNow(t *testing.T) {
	t.Parallel()
	res, err := Parse("нагадай завтра", now, time.UTC)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.HasTime {
		t.Fatal("HasTime must be false when no time given")
	}
	want := time.Date(2026, 3, 7, 14, 45, 0, 0, time.UTC)
	if !res.FireAt.Equal(want) {
		t.Fatalf("FireAt = %v, want %v (tomorrow at now's wall clock)", res.FireAt, want)
	}
}

func TestParseRespectsLocation(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Kyiv")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}
	res, err := Parse("завтра 09:00", now, loc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// now is 14:45 UTC = 16:45 Kyiv, so "tomorrow" is March 7 Kyiv time.
	want := time.Date(2026, 3, 7, 9, 0, 0, 0, loc)
	if !res.FireAt.Equal(want) {
		t.Fatalf("FireAt = %v, want %v", res.FireAt, want)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"no date here at all",
		"invalid 31.02.2026 10:00",
	} {
		if _, err := Parse(in, now, time.UTC); !errors.Is(err, ErrNoDate) {
			t.Fatalf("Parse(%q): expected ErrNoDate, got %v", in, err)
		}
	}
}
