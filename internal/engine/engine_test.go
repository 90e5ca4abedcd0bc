package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	logx "remindbot/pkg/logx"
)

func startEngine(t *testing.T) (*Engine, *clockwork.FakeClock, chan Entry) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	fired := make(chan Entry, 16)
	eng := New(fc, func(_ context.Context, e Entry) { fired <- e }, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	fc.BlockUntil(1) // loop parked on its timer
	return eng, fc, fired
}

func waitFire(t *testing.T, fired chan Entry) Entry {
	t.Helper()
	select {
	case e := <-fired:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fire")
		return Entry{}
	}
}

func assertNoFire(t *testing.T, fired chan Entry) {
	t.Helper()
	select {
	case e := <-fired:
		t.Fatalf("unexpected fire: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFiresWhenDue(t *testing.T) {
	eng, fc, fired := startEngine(t)

	eng.Insert(Entry{ID: "a", FireAt: fc.Now().Add(time.Minute)})
	assertNoFire(t, fired)

	fc.Advance(time.Minute)
	if got := waitFire(t, fired); got.ID != "a" {
		t.Fatalf("fired %q, want a", got.ID)
	}
	assertNoFire(t, fired)
	if eng.Pending() != 0 {
		t.Fatalf("pending = %d after fire, want 0", eng.Pending())
	}
}

func TestPastDueFiresImmediately(t *testing.T) {
	eng, fc, fired := startEngine(t)

	eng.Insert(Entry{ID: "late", FireAt: fc.Now().Add(-time.Hour)})
	if got := waitFire(t, fired); got.ID != "late" {
		t.Fatalf("fired %q, want late", got.ID)
	}
}

func TestCancelPreventsFire(t *testing.T) {
	eng, fc, fired := startEngine(t)

	eng.Insert(Entry{ID: "a", FireAt: fc.Now().Add(time.Minute)})
	eng.Insert(Entry{ID: "sentinel", FireAt: fc.Now().Add(2 * time.Minute)})
	if !eng.Cancel("a") {
		t.Fatal("Cancel of pending entry must report true")
	}
	if eng.Cancel("a") {
		t.Fatal("second Cancel must report false")
	}
	if eng.Cancel("never-inserted") {
		t.Fatal("Cancel of unknown id must report false")
	}

	fc.Advance(2 * time.Minute)
	if got := waitFire(t, fired); got.ID != "sentinel" {
		t.Fatalf("fired %q, want sentinel", got.ID)
	}
	assertNoFire(t, fired)
}

func TestEarlierInsertReordersWakeup(t *testing.T) {
	eng, fc, fired := startEngine(t)

	eng.Insert(Entry{ID: "far", FireAt: fc.Now().Add(time.Hour)})
	eng.Insert(Entry{ID: "near", FireAt: fc.Now().Add(time.Minute)})

	fc.Advance(time.Minute)
	if got := waitFire(t, fired); got.ID != "near" {
		t.Fatalf("fired %q, want near", got.ID)
	}
	assertNoFire(t, fired)

	fc.Advance(time.Hour)
	if got := waitFire(t, fired); got.ID != "far" {
		t.Fatalf("fired %q, want far", got.ID)
	}
}

func TestReinsertReplacesFireTime(t *testing.T) {
	eng, fc, fired := startEngine(t)

	eng.Insert(Entry{ID: "a", FireAt: fc.Now().Add(time.Hour)})
	eng.Insert(Entry{ID: "a", FireAt: fc.Now().Add(time.Minute)})
	if eng.Pending() != 1 {
		t.Fatalf("pending = %d, want 1 after replacing insert", eng.Pending())
	}

	fc.Advance(time.Minute)
	if got := waitFire(t, fired); got.ID != "a" {
		t.Fatalf("fired %q, want a", got.ID)
	}
	// The old one-hour deadline is gone.
	fc.Advance(time.Hour)
	assertNoFire(t, fired)
}

func TestSimultaneousEntriesFireInInsertionOrder(t *testing.T) {
	eng, fc, fired := startEngine(t)

	at := fc.Now().Add(time.Minute)
	eng.Insert(Entry{ID: "first", FireAt: at})
	eng.Insert(Entry{ID: "second", FireAt: at})

	fc.Advance(time.Minute)
	if got := waitFire(t, fired); got.ID != "first" {
		t.Fatalf("fired %q first, want first", got.ID)
	}
	if got := waitFire(t, fired); got.ID != "second" {
		t.Fatalf("fired %q second, want second", got.ID)
	}
}
