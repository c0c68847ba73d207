package store

import (
	"context"
	"sync"
	"time"

	"subwatch/internal/domain"
)

// memoryStore keeps everything in process-local maps. Used by tests and by
// setups that accept losing dedup history on restart.
type memoryStore struct {
	mu        sync.RWMutex
	closed    bool
	reminders map[string]domain.ScheduledReminder
	log       map[string][]domain.LogEntry
}

func NewMemory() Store {
	return &memoryStore{
		reminders: map[string]domain.ScheduledReminder{},
		log:       map[string][]domain.LogEntry{},
	}
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) UpsertReminder(_ context.Context, r domain.ScheduledReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.reminders[r.SubscriptionID] = r.Clone()
	return nil
}

func (m *memoryStore) SetReminderActive(_ context.Context, subscriptionID string, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	r, ok := m.reminders[subscriptionID]
	if !ok {
		return false, nil
	}
	r.Active = active
	m.reminders[subscriptionID] = r
	return true, nil
}

func (m *memoryStore) DeleteReminder(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.reminders, subscriptionID)
	return nil
}

func (m *memoryStore) ListReminders(_ context.Context) ([]domain.ScheduledReminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]domain.ScheduledReminder, 0, len(m.reminders))
	for _, r := range m.reminders {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *memoryStore) AppendLog(_ context.Context, e domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	m.log[e.SubscriptionID] = append(m.log[e.SubscriptionID], e)
	return nil
}

func (m *memoryStore) QueryLog(_ context.Context, subscriptionID string) ([]domain.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]domain.LogEntry(nil), m.log[subscriptionID]...), nil
}

func (m *memoryStore) PruneLog(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var removed int64
	for sub, entries := range m.log {
		kept := entries[:0]
		for _, e := range entries {
			if e.SentAt.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(m.log, sub)
			continue
		}
		m.log[sub] = kept
	}
	return removed, nil
}
