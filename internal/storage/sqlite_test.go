package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/recur"
	logx "remindbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTimerPutListRemove(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := TimerRecord{ID: "r1", ReminderID: 1, FireAt: time.UnixMilli(3000), ChatID: 10, Text: "later", Recurrence: recur.None}
	b := TimerRecord{ID: "r2", ReminderID: 2, FireAt: time.UnixMilli(1000), ChatID: 10, Text: "sooner", Recurrence: recur.Daily}
	for _, rec := range []TimerRecord{a, b} {
		if err := st.PutTimer(ctx, rec); err != nil {
			t.Fatalf("PutTimer(%s): %v", rec.ID, err)
		}
	}

	got, err := st.ListTimers(ctx)
	if err != nil {
		t.Fatalf("ListTimers: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" || got[1].ID != "r1" {
		t.Fatalf("expected [r2 r1] sorted by fire_at, got %+v", got)
	}
	if got[0].Recurrence != recur.Daily || got[0].Text != "sooner" {
		t.Fatalf("payload not round-tripped: %+v", got[0])
	}

	// Upsert replaces in place, no duplicate row.
	a.FireAt = time.UnixMilli(500)
	if err := st.PutTimer(ctx, a); err != nil {
		t.Fatalf("PutTimer upsert: %v", err)
	}
	got, _ = st.ListTimers(ctx)
	if len(got) != 2 || got[0].ID != "r1" {
		t.Fatalf("upsert did not move r1 to the front: %+v", got)
	}

	if err := st.RemoveTimer(ctx, "r1"); err != nil {
		t.Fatalf("RemoveTimer: %v", err)
	}
	if err := st.RemoveTimer(ctx, "r1"); err != nil {
		t.Fatalf("RemoveTimer of absent id must be a no-op: %v", err)
	}
	got, _ = st.ListTimers(ctx)
	if len(got) != 1 || got[0].ID != "r2" {
		t.Fatalf("expected only r2 left, got %+v", got)
	}
}

func TestReminderLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r := &Reminder{OwnerID: 7, ChatID: 7, Text: "pay rent", FireAt: time.UnixMilli(90_000), Recurrence: recur.None, Timezone: "UTC"}
	if err := st.CreateReminder(ctx, r); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	if r.ID == 0 || !r.IsActive {
		t.Fatalf("id/active not filled in: %+v", r)
	}

	got, err := st.GetReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if got.Text != "pay rent" || !got.FireAt.Equal(r.FireAt) || got.Timezone != "UTC" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := st.GetReminder(ctx, r.ID+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	newAt := time.UnixMilli(180_000)
	if err := st.UpdateReminderSchedule(ctx, r.ID, newAt, recur.Daily); err != nil {
		t.Fatalf("UpdateReminderSchedule: %v", err)
	}
	got, _ = st.GetReminder(ctx, r.ID)
	if !got.FireAt.Equal(newAt) || got.Recurrence != recur.Daily {
		t.Fatalf("schedule not updated: %+v", got)
	}

	if err := st.SetReminderInactive(ctx, r.ID); err != nil {
		t.Fatalf("SetReminderInactive: %v", err)
	}
	got, _ = st.GetReminder(ctx, r.ID)
	if got.IsActive {
		t.Fatal("reminder still active after SetReminderInactive")
	}

	// Rescheduling an inactive reminder must fail.
	if err := st.UpdateReminderSchedule(ctx, r.ID, newAt, recur.None); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on inactive reschedule, got %v", err)
	}
}

func TestListActiveByOwner(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mk := func(owner int64, at int64) *Reminder {
		r := &Reminder{OwnerID: owner, ChatID: owner, Text: "x", FireAt: time.UnixMilli(at)}
		if err := st.CreateReminder(ctx, r); err != nil {
			t.Fatalf("CreateReminder: %v", err)
		}
		return r
	}
	a := mk(1, 5000)
	mk(1, 1000)
	mk(2, 2000)
	_ = st.SetReminderInactive(ctx, a.ID)

	got, err := st.ListActiveByOwner(ctx, 1)
	if err != nil {
		t.Fatalf("ListActiveByOwner: %v", err)
	}
	if len(got) != 1 || !got[0].FireAt.Equal(time.UnixMilli(1000)) {
		t.Fatalf("expected only owner 1's active reminder, got %+v", got)
	}
}

func TestUserTimezone(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	tz, err := st.GetUserTimezone(ctx, 42)
	if err != nil || tz != "" {
		t.Fatalf("unknown user: tz=%q err=%v", tz, err)
	}

	if err := st.EnsureUser(ctx, 42); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := st.SetUserTimezone(ctx, 42, "Europe/Kyiv"); err != nil {
		t.Fatalf("SetUserTimezone: %v", err)
	}
	// EnsureUser must not clobber an existing timezone.
	if err := st.EnsureUser(ctx, 42); err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	tz, err = st.GetUserTimezone(ctx, 42)
	if err != nil || tz != "Europe/Kyiv" {
		t.Fatalf("tz=%q err=%v", tz, err)
	}
}

func TestPruneInactive(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	old := &Reminder{OwnerID: 1, ChatID: 1, Text: "old", FireAt: time.UnixMilli(1000)}
	live := &Reminder{OwnerID: 1, ChatID: 1, Text: "live", FireAt: time.UnixMilli(2000)}
	for _, r := range []*Reminder{old, live} {
		if err := st.CreateReminder(ctx, r); err != nil {
			t.Fatalf("CreateReminder: %v", err)
		}
	}
	_ = st.SetReminderInactive(ctx, old.ID)
	_ = st.PutTimer(ctx, TimerRecord{ID: "stale", ReminderID: old.ID, FireAt: time.UnixMilli(1000), ChatID: 1, Text: "old"})

	n, err := st.PruneInactive(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneInactive: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows pruned (reminder + orphan timer), got %d", n)
	}
	if _, err := st.GetReminder(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive reminder not pruned: %v", err)
	}
	if _, err := st.GetReminder(ctx, live.ID); err != nil {
		t.Fatalf("active reminder must survive pruning: %v", err)
	}
}
