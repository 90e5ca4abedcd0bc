// Package reminder is the scheduling façade: it owns the state transitions
// between the durable store and the in-memory trigger engine.
//
// Ordering rule: a timer row is written before the engine learns about it,
// and removed only after the fire has been handled. A crash between the two
// therefore leaves at most a pending row, which Recover re-arms.
//
// Race rule: once the engine pops an entry it fires exactly once. Cancel and
// Reschedule racing with an in-flight fire are resolved under the service
// mutex by re-reading the reminder row; a cancel that lands during delivery
// still wins for recurring reminders (no successor is armed).
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/recur"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// TimerStore is the durable side of the trigger pipeline.
type TimerStore interface {
	PutTimer(ctx context.Context, rec storage.TimerRecord) error
	GetTimer(ctx context.Context, id string) (storage.TimerRecord, bool, error)
	RemoveTimer(ctx context.Context, id string) error
	ListTimers(ctx context.Context) ([]storage.TimerRecord, error)
}

// Repository holds the user-facing reminder rows.
type Repository interface {
	CreateReminder(ctx context.Context, r *storage.Reminder) error
	GetReminder(ctx context.Context, id int64) (*storage.Reminder, error)
	ListActiveByOwner(ctx context.Context, ownerID int64) ([]*storage.Reminder, error)
	SetReminderInactive(ctx context.Context, id int64) error
	UpdateReminderSchedule(ctx context.Context, id int64, fireAt time.Time, p recur.Policy) error
}

// DeliverySink carries a fired reminder to the user.
type DeliverySink interface {
	Send(ctx context.Context, target transport.ChatTarget, text string) error
}

type Service struct {
	log   logx.Logger
	clock clockwork.Clock
	store TimerStore
	repo  Repository
	sink  DeliverySink
	bus   eventbus.Bus

	eng *engine.Engine

	// mu serializes schedule/cancel/reschedule/fire state transitions so the
	// store, repo, and engine never disagree about a reminder's fate.
	mu sync.Mutex

	fireQ   chan engine.Entry
	workers int
}

func New(cfg Config, clock clockwork.Clock, store TimerStore, repo Repository, sink DeliverySink, bus eventbus.Bus, log logx.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.FireWorkers <= 0 {
		cfg.FireWorkers = 2
	}
	if cfg.FireQueueSize <= 0 {
		cfg.FireQueueSize = 64
	}
	s := &Service{
		log:     log,
		clock:   clock,
		store:   store,
		repo:    repo,
		sink:    sink,
		bus:     bus,
		fireQ:   make(chan engine.Entry, cfg.FireQueueSize),
		workers: cfg.FireWorkers,
	}
	s.eng = engine.New(clock, s.enqueueFire, log.With(logx.String("comp", "engine")))
	return s
}

// Run drives the trigger loop and the delivery workers until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}
	err := s.eng.Run(ctx)
	wg.Wait()
	return err
}

// Pending reports the number of armed triggers, for health output.
func (s *Service) Pending() int { return s.eng.Pending() }

// Schedule validates req, persists it, and arms the trigger.
func (s *Service) Schedule(ctx context.Context, req Request) (*storage.Reminder, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if !req.FireAt.After(s.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrPastFireAt, req.FireAt.Format(time.RFC3339))
	}
	if _, err := recur.ParsePolicy(string(req.Recurrence)); err != nil {
		return nil, err
	}
	if req.Recurrence == "" {
		req.Recurrence = recur.None
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &storage.Reminder{
		OwnerID:    req.OwnerID,
		ChatID:     req.ChatID,
		Text:       strings.TrimSpace(req.Text),
		FireAt:     req.FireAt,
		Recurrence: req.Recurrence,
		Timezone:   req.Timezone,
	}
	if err := s.repo.CreateReminder(ctx, r); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}

	rec := storage.TimerRecord{
		ID:         timerID(r.ID, false),
		ReminderID: r.ID,
		FireAt:     r.FireAt,
		Recurrence: r.Recurrence,
		ChatID:     r.ChatID,
		Text:       r.Text,
	}
	if err := s.store.PutTimer(ctx, rec); err != nil {
		// Roll back the row so a half-scheduled reminder never lingers active.
		_ = s.repo.SetReminderInactive(ctx, r.ID)
		return nil, fmt.Errorf("persist timer: %w", err)
	}
	s.eng.Insert(engine.Entry{ID: rec.ID, FireAt: rec.FireAt})

	s.log.Info("reminder scheduled",
		logx.Int64("reminder_id", r.ID),
		logx.Int64("chat_id", r.ChatID),
		logx.Time("fire_at", r.FireAt),
		logx.String("recurrence", string(r.Recurrence)))
	s.publish(eventbus.TypeReminderScheduled, r.ID, r.ChatID, r.FireAt, r.Recurrence, nil)
	return r, nil
}

// Cancel removes a pending reminder and marks it handled. Idempotent:
// cancelling twice, an already-fired reminder, or an unknown id succeeds
// silently.
func (s *Service) Cancel(ctx context.Context, ownerID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.loadOwned(ctx, ownerID, id)
	if errors.Is(err, ErrNotFound) {
		// Unknown id cancels cleanly; drop any orphaned timer rows.
		s.dropTimersLocked(ctx, id)
		return nil
	}
	if err != nil {
		return err
	}
	if !r.IsActive {
		// Already fired or cancelled; cancelling again is a no-op.
		return nil
	}

	s.dropTimersLocked(ctx, id)
	if err := s.repo.SetReminderInactive(ctx, id); err != nil {
		return fmt.Errorf("deactivate reminder: %w", err)
	}

	s.log.Info("reminder cancelled", logx.Int64("reminder_id", id), logx.Int64("chat_id", r.ChatID))
	s.publish(eventbus.TypeReminderCancelled, id, r.ChatID, r.FireAt, r.Recurrence, nil)
	return nil
}

// Reschedule moves a pending reminder to a new fire time and recurrence.
func (s *Service) Reschedule(ctx context.Context, ownerID, id int64, fireAt time.Time, p recur.Policy) error {
	if !fireAt.After(s.clock.Now()) {
		return fmt.Errorf("%w: %s", ErrPastFireAt, fireAt.Format(time.RFC3339))
	}
	if _, err := recur.ParsePolicy(string(p)); err != nil {
		return err
	}
	if p == "" {
		p = recur.None
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !r.IsActive {
		return ErrNotFound
	}

	if err := s.repo.UpdateReminderSchedule(ctx, id, fireAt, p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update schedule: %w", err)
	}

	// Upsert the new timer before touching the old rows: a failure here rolls
	// the row back and leaves the previous timers armed, never zero timers.
	rec := storage.TimerRecord{
		ID:         timerID(id, false),
		ReminderID: id,
		FireAt:     fireAt,
		Recurrence: p,
		ChatID:     r.ChatID,
		Text:       r.Text,
	}
	if err := s.store.PutTimer(ctx, rec); err != nil {
		_ = s.repo.UpdateReminderSchedule(ctx, id, r.FireAt, r.Recurrence)
		return fmt.Errorf("persist timer: %w", err)
	}

	// The upsert replaced the initial row in place; only a recurring successor
	// is left to drop.
	repeatID := timerID(id, true)
	s.eng.Cancel(repeatID)
	_ = s.store.RemoveTimer(ctx, repeatID)
	s.eng.Insert(engine.Entry{ID: rec.ID, FireAt: rec.FireAt})

	s.log.Info("reminder rescheduled",
		logx.Int64("reminder_id", id),
		logx.Time("fire_at", fireAt),
		logx.String("recurrence", string(p)))
	s.publish(eventbus.TypeReminderRescheduled, id, r.ChatID, fireAt, p, nil)
	return nil
}

// List returns the owner's pending reminders, soonest first.
func (s *Service) List(ctx context.Context, ownerID int64) ([]*storage.Reminder, error) {
	return s.repo.ListActiveByOwner(ctx, ownerID)
}

// Recover re-arms every persisted timer after a restart. Past-due timers fire
// on the next loop iteration: a reminder is delivered late rather than never.
// Timers whose reminder is gone or already handled are discarded.
func (s *Service) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.store.ListTimers(ctx)
	if err != nil {
		return fmt.Errorf("list timers: %w", err)
	}

	var armed, stale int
	for _, rec := range recs {
		r, err := s.repo.GetReminder(ctx, rec.ReminderID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !r.IsActive) {
			_ = s.store.RemoveTimer(ctx, rec.ID)
			stale++
			continue
		}
		if err != nil {
			return fmt.Errorf("load reminder %d: %w", rec.ReminderID, err)
		}
		s.eng.Insert(engine.Entry{ID: rec.ID, FireAt: rec.FireAt})
		armed++
	}

	s.log.Info("recovery complete", logx.Int("armed", armed), logx.Int("stale", stale))
	return nil
}

// enqueueFire hands a due entry from the trigger loop to a delivery worker.
// A full queue applies backpressure to the wake loop rather than dropping the
// fire.
func (s *Service) enqueueFire(ctx context.Context, e engine.Entry) {
	select {
	case s.fireQ <- e:
	case <-ctx.Done():
	}
}

func (s *Service) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.fireQ:
			s.handleFire(ctx, e)
		}
	}
}

// handleFire is the single place a due timer is resolved: deliver, then
// either retire the reminder or arm the next occurrence.
func (s *Service) handleFire(ctx context.Context, e engine.Entry) {
	rec, ok, err := s.store.GetTimer(ctx, e.ID)
	if err != nil {
		s.log.Error("load due timer", logx.String("timer_id", e.ID), logx.Err(err))
		return
	}
	if !ok {
		// Cancelled between pop and dispatch.
		return
	}

	r, err := s.repo.GetReminder(ctx, rec.ReminderID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !r.IsActive) {
		_ = s.store.RemoveTimer(ctx, e.ID)
		return
	}
	if err != nil {
		s.log.Error("load reminder for fire", logx.Int64("reminder_id", rec.ReminderID), logx.Err(err))
		return
	}

	s.publish(eventbus.TypeReminderFired, r.ID, rec.ChatID, rec.FireAt, rec.Recurrence, nil)

	sendErr := s.sink.Send(ctx, transport.ChatTarget{ChatID: rec.ChatID}, "🔔 "+rec.Text)
	if sendErr != nil {
		s.log.Error("reminder delivery failed",
			logx.Int64("reminder_id", r.ID),
			logx.Int64("chat_id", rec.ChatID),
			logx.Err(sendErr))
		s.publish(eventbus.TypeDeliveryFailed, r.ID, rec.ChatID, rec.FireAt, rec.Recurrence, sendErr)
	} else {
		s.publish(eventbus.TypeReminderDelivered, r.ID, rec.ChatID, rec.FireAt, rec.Recurrence, nil)
	}

	// The fire consumed this occurrence whether or not delivery succeeded:
	// retrying a reminder forever would be worse than dropping one.
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.store.RemoveTimer(ctx, e.ID)

	if !rec.Recurrence.IsRecurring() {
		if err := s.repo.SetReminderInactive(ctx, r.ID); err != nil {
			s.log.Error("retire one-shot reminder", logx.Int64("reminder_id", r.ID), logx.Err(err))
		}
		return
	}

	// Re-read under the mutex: a cancel that landed during delivery wins and
	// no successor is armed.
	cur, err := s.repo.GetReminder(ctx, r.ID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !cur.IsActive) {
		return
	}
	if err != nil {
		s.log.Error("re-read recurring reminder", logx.Int64("reminder_id", r.ID), logx.Err(err))
		return
	}

	next, ok := s.nextOccurrence(rec, cur.Timezone)
	if !ok {
		_ = s.repo.SetReminderInactive(ctx, r.ID)
		return
	}
	if err := s.repo.UpdateReminderSchedule(ctx, r.ID, next, rec.Recurrence); err != nil {
		s.log.Error("advance recurring reminder", logx.Int64("reminder_id", r.ID), logx.Err(err))
		return
	}
	succ := storage.TimerRecord{
		ID:         timerID(r.ID, true),
		ReminderID: r.ID,
		FireAt:     next,
		Recurrence: rec.Recurrence,
		ChatID:     rec.ChatID,
		Text:       rec.Text,
	}
	if err := s.store.PutTimer(ctx, succ); err != nil {
		s.log.Error("persist recurring timer", logx.Int64("reminder_id", r.ID), logx.Err(err))
		return
	}
	s.eng.Insert(engine.Entry{ID: succ.ID, FireAt: succ.FireAt})
	s.publish(eventbus.TypeReminderRescheduled, r.ID, rec.ChatID, next, rec.Recurrence, nil)
}

// nextOccurrence advances from the scheduled (not actual) fire time, then
// skips occurrences already in the past so a late recovery fires once and
// rejoins the schedule instead of replaying every missed slot.
func (s *Service) nextOccurrence(rec storage.TimerRecord, tz string) (time.Time, bool) {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	now := s.clock.Now()
	next, ok := recur.Next(rec.FireAt, rec.Recurrence, loc)
	for ok && !next.After(now) {
		next, ok = recur.Next(next, rec.Recurrence, loc)
	}
	return next, ok
}

func (s *Service) loadOwned(ctx context.Context, ownerID, id int64) (*storage.Reminder, error) {
	r, err := s.repo.GetReminder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reminder: %w", err)
	}
	if r.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return r, nil
}

// dropTimersLocked disarms and deletes both possible timer rows for id.
func (s *Service) dropTimersLocked(ctx context.Context, id int64) {
	for _, tid := range []string{timerID(id, false), timerID(id, true)} {
		s.eng.Cancel(tid)
		_ = s.store.RemoveTimer(ctx, tid)
	}
}

func (s *Service) publish(typ string, id, chatID int64, fireAt time.Time, p recur.Policy, err error) {
	if s.bus == nil {
		return
	}
	ev := Event{ReminderID: id, ChatID: chatID, FireAt: fireAt, Recurrence: string(p)}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// timerID names the durable timer rows: "r<id>" for the initial arm,
// "r<id>:repeat" for recurring successors. Both map back to one reminder.
func timerID(id int64, repeat bool) string {
	s := "r" + strconv.FormatInt(id, 10)
	if repeat {
		s += ":repeat"
	}
	return s
}
