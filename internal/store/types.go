package store

import (
	"context"
	"errors"
	"time"

	"subwatch/internal/domain"
)

var ErrClosed = errors.New("store closed")

// Config configures persistence.
//
// Driver values:
//   - "sqlite" (or "sqlite3"): SQLite database file
//   - "memory": in-memory backend
//
// If Driver is empty, "sqlite" is assumed when Path is set, "memory" otherwise.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the registry and scheduler.
//
// AppendLog/QueryLog for a given subscription are linearizable with respect
// to each other; appends for different subscriptions do not block each other
// beyond the driver's own write serialization.
type Store interface {
	// Reminder registry state.
	UpsertReminder(ctx context.Context, r domain.ScheduledReminder) error
	SetReminderActive(ctx context.Context, subscriptionID string, active bool) (found bool, err error)
	DeleteReminder(ctx context.Context, subscriptionID string) error
	ListReminders(ctx context.Context) ([]domain.ScheduledReminder, error)

	// Append-only send attempt log.
	AppendLog(ctx context.Context, e domain.LogEntry) error
	QueryLog(ctx context.Context, subscriptionID string) ([]domain.LogEntry, error)
	// PruneLog deletes entries with SentAt older than the cutoff,
	// irrespective of outcome. Returns the number of rows removed.
	PruneLog(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
