package config

// Config is the root configuration, loaded from a JSON or YAML file.
//
// All duration-like fields are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig   `json:"telegram"`
	Logging   LoggingConfig    `json:"logging"`
	Storage   StorageConfig    `json:"storage"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	Notifier  *NotifierConfig  `json:"notifier,omitempty"`
	Retention *RetentionConfig `json:"retention,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer backing the timer store and
// the reminder repository.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the reminder scheduling core.
//
// Timezone is the default IANA zone used for recurrence math when the owner
// has not set one (e.g. "Europe/Kyiv"). Empty means the process-local zone.
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
	// FireWorkers is the number of goroutines draining due timers. Firing is
	// kept off the wake loop so a slow delivery never delays the next timer.
	FireWorkers int `json:"fire_workers,omitempty"`
	// FireQueueSize bounds the dispatch queue between the wake loop and the
	// fire workers.
	FireQueueSize int `json:"fire_queue_size,omitempty"`
}

// NotifierConfig controls the delivery sink: rate limiting and the bounded
// retry-with-backoff around each Telegram send.
//
// If the whole section is omitted, defaults apply (enabled, 3 msg/s, 2 retries).
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// RetentionConfig controls the janitor that prunes long-inactive reminder
// rows and their leftover timers.
//
// Schedule is a cron spec (5-field or descriptor, e.g. "0 4 * * *", "@daily").
type RetentionConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	// KeepFor is a Go duration string; inactive reminders older than this are
	// deleted. Default 720h (30 days).
	KeepFor string `json:"keep_for,omitempty"`
}
