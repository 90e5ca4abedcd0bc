package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/recur"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a reminder row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the sqlite-backed persistence layer. A single Store is shared by
// the scheduler, the transport handlers, and the retention janitor.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- timers ---

// PutTimer inserts or replaces the pending timer with rec.ID.
func (s *Store) PutTimer(ctx context.Context, rec TimerRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timers(timer_id, reminder_id, fire_at, recurrence, chat_id, text)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(timer_id) DO UPDATE SET
		   reminder_id=excluded.reminder_id,
		   fire_at=excluded.fire_at,
		   recurrence=excluded.recurrence,
		   chat_id=excluded.chat_id,
		   text=excluded.text`,
		rec.ID, rec.ReminderID, rec.FireAt.UnixMilli(), string(rec.Recurrence), rec.ChatID, rec.Text,
	)
	return err
}

// GetTimer returns a pending timer by ID.
func (s *Store) GetTimer(ctx context.Context, id string) (TimerRecord, bool, error) {
	var (
		rec TimerRecord
		ms  int64
		pol string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT timer_id, reminder_id, fire_at, recurrence, chat_id, text
		 FROM timers WHERE timer_id = ?`, id).
		Scan(&rec.ID, &rec.ReminderID, &ms, &pol, &rec.ChatID, &rec.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return TimerRecord{}, false, nil
	}
	if err != nil {
		return TimerRecord{}, false, err
	}
	rec.FireAt = time.UnixMilli(ms)
	rec.Recurrence = recur.Policy(pol)
	return rec, true, nil
}

// RemoveTimer deletes a pending timer. Removing an absent ID is not an error.
func (s *Store) RemoveTimer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE timer_id = ?`, id)
	return err
}

// ListTimers returns every pending timer, soonest first.
func (s *Store) ListTimers(ctx context.Context) ([]TimerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timer_id, reminder_id, fire_at, recurrence, chat_id, text
		 FROM timers ORDER BY fire_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimerRecord
	for rows.Next() {
		var (
			rec TimerRecord
			ms  int64
			pol string
		)
		if err := rows.Scan(&rec.ID, &rec.ReminderID, &ms, &pol, &rec.ChatID, &rec.Text); err != nil {
			return nil, err
		}
		rec.FireAt = time.UnixMilli(ms)
		rec.Recurrence = recur.Policy(pol)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- reminders ---

// CreateReminder inserts r and fills in its assigned ID and timestamps.
func (s *Store) CreateReminder(ctx context.Context, r *Reminder) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(owner_id, chat_id, text, fire_at, recurrence, timezone, is_active, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,1,?,?)`,
		r.OwnerID, r.ChatID, r.Text, r.FireAt.UnixMilli(), string(r.Recurrence), r.Timezone,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	r.IsActive = true
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (s *Store) GetReminder(ctx context.Context, id int64) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, chat_id, text, fire_at, recurrence, timezone, is_active, created_at, updated_at
		 FROM reminders WHERE id = ?`, id)
	return scanReminder(row)
}

// ListActiveByOwner returns the owner's active reminders, soonest first.
func (s *Store) ListActiveByOwner(ctx context.Context, ownerID int64) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, chat_id, text, fire_at, recurrence, timezone, is_active, created_at, updated_at
		 FROM reminders WHERE owner_id = ? AND is_active = 1 ORDER BY fire_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetReminderInactive marks a reminder as handled. Idempotent.
func (s *Store) SetReminderInactive(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	return err
}

// UpdateReminderSchedule moves an active reminder to a new fire time and
// recurrence. Returns ErrNotFound if the row is missing or already inactive.
func (s *Store) UpdateReminderSchedule(ctx context.Context, id int64, fireAt time.Time, p recur.Policy) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET fire_at = ?, recurrence = ?, updated_at = ? WHERE id = ? AND is_active = 1`,
		fireAt.UnixMilli(), string(p), time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- users ---

func (s *Store) EnsureUser(ctx context.Context, telegramID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, timezone, created_at) VALUES(?, '', ?)
		 ON CONFLICT(telegram_id) DO NOTHING`,
		telegramID, time.Now().UnixMilli())
	return err
}

func (s *Store) SetUserTimezone(ctx context.Context, telegramID int64, tz string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, timezone, created_at) VALUES(?,?,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET timezone=excluded.timezone`,
		telegramID, tz, time.Now().UnixMilli())
	return err
}

// GetUserTimezone returns the stored IANA zone name, or "" when unset.
func (s *Store) GetUserTimezone(ctx context.Context, telegramID int64) (string, error) {
	var tz string
	err := s.db.QueryRowContext(ctx,
		`SELECT timezone FROM users WHERE telegram_id = ?`, telegramID).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return tz, err
}

// --- retention ---

// PruneInactive deletes inactive reminders last touched before cutoff and any
// timer rows orphaned by earlier crashes. Returns the number of rows removed.
func (s *Store) PruneInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE is_active = 0 AND updated_at < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()

	res2, err := s.db.ExecContext(ctx,
		`DELETE FROM timers WHERE reminder_id NOT IN (SELECT id FROM reminders WHERE is_active = 1)`)
	if err != nil {
		return n, err
	}
	n2, _ := res2.RowsAffected()
	return n + n2, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*Reminder, error) {
	var (
		r                Reminder
		fireMS, cMS, uMS int64
		pol              string
		active           int
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.ChatID, &r.Text, &fireMS, &pol, &r.Timezone, &active, &cMS, &uMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.FireAt = time.UnixMilli(fireMS)
	r.Recurrence = recur.Policy(pol)
	r.IsActive = active != 0
	r.CreatedAt = time.UnixMilli(cMS)
	r.UpdatedAt = time.UnixMilli(uMS)
	return &r, nil
}
