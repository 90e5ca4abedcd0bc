package storage

import (
	"time"

	"remindbot/internal/recur"
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// TimerRecord is a durable fire instruction. The payload (ChatID, Text) is
// denormalized so a delivery can be attempted even if the reminder row is
// briefly unreadable.
//
// At most one pending timer exists per ID; PutTimer upserts.
type TimerRecord struct {
	ID         string
	ReminderID int64
	FireAt     time.Time
	Recurrence recur.Policy
	ChatID     int64
	Text       string
}

// Reminder is the user-facing record a timer points back to.
// IsActive=false means "already handled, do not deliver".
type Reminder struct {
	ID         int64
	OwnerID    int64
	ChatID     int64
	Text       string
	FireAt     time.Time
	Recurrence recur.Policy
	Timezone   string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
