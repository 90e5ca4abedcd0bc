// Package engine is the in-memory trigger loop. It keeps pending timers in a
// min-heap keyed by fire time and sleeps until the earliest one is due.
//
// The engine knows nothing about reminders or persistence. It guarantees that
// each inserted ID is handed to the fire callback at most once: an entry is
// removed from the heap and the index atomically when it comes due, so a
// concurrent Cancel of an already-popped ID reports false.
package engine

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	logx "remindbot/pkg/logx"
)

// maxSleep caps the wake-loop nap so an empty or far-future heap still
// re-evaluates periodically.
const maxSleep = 24 * time.Hour

// Entry is a pending trigger.
type Entry struct {
	ID     string
	FireAt time.Time
}

// FireFunc receives due entries from the wake loop. It runs on the loop
// goroutine, so time spent here delays subsequent pops; implementations
// should hand slow work (delivery, I/O) to a worker pool and return quickly.
type FireFunc func(ctx context.Context, e Entry)

type item struct {
	Entry
	seq   uint64
	index int
}

type Engine struct {
	clock clockwork.Clock
	fire  FireFunc
	log   logx.Logger

	mu    sync.Mutex
	heap  entryHeap
	index map[string]*item
	seq   uint64

	wake chan struct{}
}

func New(clock clockwork.Clock, fire FireFunc, log logx.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		clock: clock,
		fire:  fire,
		log:   log,
		index: make(map[string]*item),
		wake:  make(chan struct{}, 1),
	}
}

// Insert adds a pending trigger. Inserting an ID that is already pending
// replaces its fire time. Past-due entries are accepted and fire on the next
// loop iteration.
func (e *Engine) Insert(ent Entry) {
	e.mu.Lock()
	if it, ok := e.index[ent.ID]; ok {
		it.FireAt = ent.FireAt
		heap.Fix(&e.heap, it.index)
	} else {
		e.seq++
		it := &item{Entry: ent, seq: e.seq}
		e.index[ent.ID] = it
		heap.Push(&e.heap, it)
	}
	e.mu.Unlock()
	e.poke()
}

// Cancel removes a pending trigger. Returns false when the ID is unknown or
// has already been popped for firing.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	it, ok := e.index[id]
	if ok {
		heap.Remove(&e.heap, it.index)
		delete(e.index, id)
	}
	e.mu.Unlock()
	if ok {
		e.poke()
	}
	return ok
}

// Pending reports the number of entries waiting to fire.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heap.Len()
}

// Run drives the wake loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		due, wait := e.collectDue()
		for _, ent := range due {
			e.log.Debug("timer due",
				logx.String("timer_id", ent.ID),
				logx.Time("fire_at", ent.FireAt))
			e.fire(ctx, ent)
		}

		timer := e.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		case <-e.wake:
			timer.Stop()
		}
	}
}

// collectDue atomically pops every entry at or before now and returns how long
// to sleep before the next one.
func (e *Engine) collectDue() ([]Entry, time.Duration) {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var due []Entry
	for e.heap.Len() > 0 && !e.heap[0].FireAt.After(now) {
		it := heap.Pop(&e.heap).(*item)
		delete(e.index, it.ID)
		due = append(due, it.Entry)
	}

	wait := maxSleep
	if e.heap.Len() > 0 {
		if d := e.heap[0].FireAt.Sub(now); d < wait {
			wait = d
		}
	}
	return due, wait
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// entryHeap orders by fire time, then insertion order for stable ties.
type entryHeap []*item

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].FireAt.Equal(h[j].FireAt) {
		return h[i].FireAt.Before(h[j].FireAt)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
