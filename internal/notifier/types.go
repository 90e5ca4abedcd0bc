package notifier

import "time"

// Config tunes outbound delivery. Zero values fall back to safe defaults.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

// HistoryItem records a delivered message for operational visibility.
type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}
