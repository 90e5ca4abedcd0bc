package reminder

import "errors"

var (
	// ErrPastFireAt rejects schedule or reschedule times that are not in the future.
	ErrPastFireAt = errors.New("reminder: fire time is in the past")
	// ErrEmptyText rejects reminders with nothing to deliver.
	ErrEmptyText = errors.New("reminder: text is empty")
	// ErrNotFound covers unknown, already-fired, and already-cancelled reminders.
	ErrNotFound = errors.New("reminder: not found")
	// ErrNotOwner is returned when a caller touches someone else's reminder.
	ErrNotOwner = errors.New("reminder: not owned by caller")
)
