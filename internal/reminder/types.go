package reminder

import (
	"time"

	"remindbot/internal/recur"
)

// Config tunes the scheduler's fire pipeline.
type Config struct {
	FireWorkers   int // concurrent deliveries, default 2
	FireQueueSize int // buffered due entries between loop and workers, default 64
}

// Request describes a reminder to schedule.
type Request struct {
	OwnerID    int64
	ChatID     int64
	Text       string
	FireAt     time.Time
	Recurrence recur.Policy
	Timezone   string // IANA zone for recurrence math, "" means UTC
}

// Event is the payload published on the bus for reminder lifecycle events.
type Event struct {
	ReminderID int64     `json:"reminder_id"`
	ChatID     int64     `json:"chat_id"`
	FireAt     time.Time `json:"fire_at"`
	Recurrence string    `json:"recurrence,omitempty"`
	Error      string    `json:"error,omitempty"`
}
