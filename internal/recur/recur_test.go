package recur

import (
	"testing"
	"time"
)

func TestParsePolicy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    Policy
		wantErr bool
	}{
		{raw: "", want: None},
		{raw: "none", want: None},
		{raw: "Daily", want: Daily},
		{raw: " weekly ", want: Weekly},
		{raw: "monthly", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParsePolicy(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParsePolicy(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParsePolicy(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestNextNone(t *testing.T) {
	t.Parallel()
	if _, ok := Next(time.Now(), None, time.UTC); ok {
		t.Fatal("None must have no next occurrence")
	}
}

func TestNextDailyPreservesWallClock(t *testing.T) {
	t.Parallel()
	last := time.Date(2026, 4, 9, 23, 0, 0, 0, time.UTC)
	next, ok := Next(last, Daily, time.UTC)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if !next.Equal(last.AddDate(0, 0, 1)) {
		t.Fatalf("next = %v, want %v", next, last.AddDate(0, 0, 1))
	}
	if next.Hour() != 23 || next.Minute() != 0 {
		t.Fatalf("wall clock drifted: %v", next)
	}
}

func TestNextWeeklyChain(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 5, 18, 30, 0, 0, time.UTC) // a Monday
	cur := start
	for i := 1; i <= 4; i++ {
		next, ok := Next(cur, Weekly, time.UTC)
		if !ok {
			t.Fatalf("cycle %d: expected a next occurrence", i)
		}
		want := start.AddDate(0, 0, 7*i)
		if !next.Equal(want) {
			t.Fatalf("cycle %d: next = %v, want %v", i, next, want)
		}
		if next.Weekday() != time.Monday || next.Hour() != 18 || next.Minute() != 30 {
			t.Fatalf("cycle %d: weekday/wall clock drifted: %v", i, next)
		}
		cur = next
	}
}

func TestNextDailyAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}
	// 2026-03-08 is the spring-forward date in the US.
	last := time.Date(2026, 3, 7, 9, 0, 0, 0, loc)
	next, ok := Next(last, Daily, loc)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if next.Hour() != 9 || next.Minute() != 0 {
		t.Fatalf("local wall clock not preserved across DST: %v", next)
	}
	// The absolute gap shrinks to 23h because an hour is skipped.
	if got := next.Sub(last); got != 23*time.Hour {
		t.Fatalf("absolute gap = %v, want 23h", got)
	}
}

func TestNextIsDeterministic(t *testing.T) {
	t.Parallel()
	last := time.Date(2026, 6, 1, 12, 15, 0, 0, time.UTC)
	a, _ := Next(last, Weekly, time.UTC)
	b, _ := Next(last, Weekly, time.UTC)
	if !a.Equal(b) {
		t.Fatalf("Next is not deterministic: %v vs %v", a, b)
	}
}
