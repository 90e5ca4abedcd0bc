// Package storage persists everything the scheduler must not lose across a
// restart: pending timers, reminder rows, and user settings. A timer row is
// written before the in-memory engine learns about it, so the database is
// always the source of truth for recovery.
package storage
