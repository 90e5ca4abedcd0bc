package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/recur"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

const handlerTimeout = 5 * time.Second

// Scheduler is the slice of the reminder service the router needs.
type Scheduler interface {
	Schedule(ctx context.Context, req reminder.Request) (*storage.Reminder, error)
	Cancel(ctx context.Context, ownerID, id int64) error
	Reschedule(ctx context.Context, ownerID, id int64, fireAt time.Time, p recur.Policy) error
	List(ctx context.Context, ownerID int64) ([]*storage.Reminder, error)
}

// UserStore holds per-user settings.
type UserStore interface {
	EnsureUser(ctx context.Context, telegramID int64) error
	SetUserTimezone(ctx context.Context, telegramID int64, tz string) error
	GetUserTimezone(ctx context.Context, telegramID int64) (string, error)
}

// Router maps bot commands onto the scheduler.
type Router struct {
	svc    Scheduler
	users  UserStore
	clock  clockwork.Clock
	defLoc *time.Location // fallback when the user has not set a timezone
	log    logx.Logger
}

func NewRouter(svc Scheduler, users UserStore, clock clockwork.Clock, defLoc *time.Location, log logx.Logger) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if defLoc == nil {
		defLoc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{svc: svc, users: users, clock: clock, defLoc: defLoc, log: log}
}

// Register attaches all handlers. Call before the adapter starts polling.
func (r *Router) Register(b *tele.Bot) {
	b.Handle("/start", r.handleStart)
	b.Handle("/help", r.handleHelp)
	b.Handle("/remind", r.handleRemind)
	b.Handle("/list", r.handleList)
	b.Handle("/delete", r.handleDelete)
	b.Handle("/reschedule", r.handleReschedule)
	b.Handle("/timezone", r.handleTimezone)
	// Plain text with a recognizable date is treated as a reminder request.
	b.Handle(tele.OnText, r.handleText)
}

const usage = `I can remind you about things.

/remind <text with date and time> — schedule a reminder
    /remind pay rent tomorrow 09:00
    /remind call mom date#15.04.2026 time#18:30 repeat#weekly
/list — show pending reminders
/delete <id> — cancel a reminder
/reschedule <id> <date and time> — move a reminder
/timezone <IANA zone> — set your timezone, e.g. Europe/Kyiv

Recurrence: add "daily"/"щодня" or "weekly"/"щотижня".`

func (r *Router) handleStart(c tele.Context) error {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.users.EnsureUser(ctx, c.Sender().ID); err != nil {
		r.log.Error("ensure user", logx.Int64("user_id", c.Sender().ID), logx.Err(err))
	}
	return c.Send("Hi! " + usage)
}

func (r *Router) handleHelp(c tele.Context) error {
	return c.Send(usage)
}

func (r *Router) handleRemind(c tele.Context) error {
	args := strings.TrimSpace(c.Message().Payload)
	if args == "" {
		return c.Send("What should I remind you about? Example: /remind pay rent tomorrow 09:00")
	}
	return r.schedule(c, args)
}

func (r *Router) handleText(c tele.Context) error {
	text := strings.TrimSpace(c.Text())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}
	ctx, cancel := r.ctx()
	defer cancel()
	loc := r.userLoc(ctx, c.Sender().ID)
	if _, err := timeparse.Parse(text, r.clock.Now(), loc); err != nil {
		// Not a reminder request; stay quiet in case it's small talk.
		return nil
	}
	return r.schedule(c, text)
}

func (r *Router) schedule(c tele.Context, text string) error {
	ctx, cancel := r.ctx()
	defer cancel()

	userID := c.Sender().ID
	loc := r.userLoc(ctx, userID)
	res, err := timeparse.Parse(text, r.clock.Now(), loc)
	if err != nil {
		return c.Send("I could not find a date in that. " +
			"Try something like: pay rent tomorrow 09:00")
	}

	rem, err := r.svc.Schedule(ctx, reminder.Request{
		OwnerID:    userID,
		ChatID:     c.Chat().ID,
		Text:       res.Text,
		FireAt:     res.FireAt,
		Recurrence: res.Repeat,
		Timezone:   loc.String(),
	})
	if err != nil {
		return c.Send(replyForError(err))
	}

	msg := fmt.Sprintf("Saved #%d: %q at %s", rem.ID, rem.Text, fmtWhen(rem.FireAt, loc))
	if rem.Recurrence.IsRecurring() {
		msg += ", repeats " + string(rem.Recurrence)
	}
	return c.Send(msg)
}

func (r *Router) handleList(c tele.Context) error {
	ctx, cancel := r.ctx()
	defer cancel()

	userID := c.Sender().ID
	items, err := r.svc.List(ctx, userID)
	if err != nil {
		r.log.Error("list reminders", logx.Int64("user_id", userID), logx.Err(err))
		return c.Send("Something went wrong, try again.")
	}
	loc := r.userLoc(ctx, userID)
	return c.Send(formatList(items, loc))
}

func (r *Router) handleDelete(c tele.Context) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Message().Payload), 10, 64)
	if err != nil {
		return c.Send("Usage: /delete <id> (see /list for ids)")
	}
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.svc.Cancel(ctx, c.Sender().ID, id); err != nil {
		return c.Send(replyForError(err))
	}
	return c.Send(fmt.Sprintf("Deleted #%d.", id))
}

func (r *Router) handleReschedule(c tele.Context) error {
	payload := strings.TrimSpace(c.Message().Payload)
	idStr, rest, _ := strings.Cut(payload, " ")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || strings.TrimSpace(rest) == "" {
		return c.Send("Usage: /reschedule <id> <date and time>")
	}

	ctx, cancel := r.ctx()
	defer cancel()
	loc := r.userLoc(ctx, c.Sender().ID)
	res, perr := timeparse.Parse(rest, r.clock.Now(), loc)
	if perr != nil {
		return c.Send("I could not find a date in that.")
	}
	if err := r.svc.Reschedule(ctx, c.Sender().ID, id, res.FireAt, res.Repeat); err != nil {
		return c.Send(replyForError(err))
	}
	return c.Send(fmt.Sprintf("Moved #%d to %s.", id, fmtWhen(res.FireAt, loc)))
}

func (r *Router) handleTimezone(c tele.Context) error {
	tz := strings.TrimSpace(c.Message().Payload)
	ctx, cancel := r.ctx()
	defer cancel()

	if tz == "" {
		cur, _ := r.users.GetUserTimezone(ctx, c.Sender().ID)
		if cur == "" {
			cur = "UTC"
		}
		return c.Send("Your timezone is " + cur + ". Change it with /timezone <IANA zone>, e.g. /timezone Europe/Kyiv")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return c.Send("Unknown timezone. Use an IANA name like Europe/Kyiv or America/New_York.")
	}
	if err := r.users.SetUserTimezone(ctx, c.Sender().ID, tz); err != nil {
		r.log.Error("set timezone", logx.Int64("user_id", c.Sender().ID), logx.Err(err))
		return c.Send("Something went wrong, try again.")
	}
	return c.Send("Timezone set to " + tz + ".")
}

func (r *Router) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

func (r *Router) userLoc(ctx context.Context, userID int64) *time.Location {
	tz, err := r.users.GetUserTimezone(ctx, userID)
	if err != nil || tz == "" {
		return r.defLoc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return r.defLoc
	}
	return loc
}

func formatList(items []*storage.Reminder, loc *time.Location) string {
	if len(items) == 0 {
		return "Nothing pending. Schedule one with /remind."
	}
	var b strings.Builder
	b.WriteString("Your reminders:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "#%d — %s", it.ID, fmtWhen(it.FireAt, loc))
		if it.Recurrence.IsRecurring() {
			fmt.Fprintf(&b, " (%s)", it.Recurrence)
		}
		fmt.Fprintf(&b, " — %s\n", it.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func fmtWhen(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

func replyForError(err error) string {
	switch {
	case errors.Is(err, reminder.ErrPastFireAt):
		return "That time is already in the past."
	case errors.Is(err, reminder.ErrEmptyText):
		return "The reminder text is empty. What should I say when it fires?"
	case errors.Is(err, reminder.ErrNotFound):
		return "No such reminder. See /list for ids."
	case errors.Is(err, reminder.ErrNotOwner):
		return "That reminder is not yours."
	default:
		return "Something went wrong, try again."
	}
}
