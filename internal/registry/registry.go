// Package registry holds the active reminder definitions. It is mutated by
// request-handling code (schedule/cancel/update) concurrently with the
// scheduler's read-only snapshots, and writes through to the store so
// registrations survive restarts.
package registry

import (
	"context"
	"sync"
	"time"

	"subwatch/internal/domain"
	"subwatch/internal/store"
	"subwatch/pkg/logx"
)

type Registry struct {
	mu    sync.RWMutex
	items map[string]domain.ScheduledReminder

	st  store.Store
	log logx.Logger
}

func New(st store.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		items: map[string]domain.ScheduledReminder{},
		st:    st,
		log:   log,
	}
}

// Load rehydrates the in-memory view from the store. Call once at startup
// before the scheduler starts ticking.
func (g *Registry) Load(ctx context.Context) error {
	reminders, err := g.st.ListReminders(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.items = make(map[string]domain.ScheduledReminder, len(reminders))
	for _, r := range reminders {
		g.items[r.SubscriptionID] = r
	}
	g.mu.Unlock()
	g.log.Info("registry loaded", logx.Int("reminders", len(reminders)))
	return nil
}

// Schedule upserts a reminder by subscription id. Offsets are validated,
// deduplicated and sorted; invalid configurations are rejected before
// anything is stored.
func (g *Registry) Schedule(ctx context.Context, r domain.ScheduledReminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	offsets, err := domain.NormalizeOffsets(r.Offsets)
	if err != nil {
		return err
	}
	r.Offsets = offsets

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.st.UpsertReminder(ctx, r); err != nil {
		return err
	}
	g.items[r.SubscriptionID] = r
	g.log.Debug("reminder scheduled",
		logx.String("subscription", r.SubscriptionID),
		logx.String("user", r.UserID),
		logx.Any("offsets", r.Offsets),
		logx.String("frequency", string(r.Frequency)))
	return nil
}

// Cancel marks a reminder inactive. It is idempotent: an unknown
// subscription, a different owner, or an already-inactive reminder is a
// no-op, not an error. Takes effect on the next tick; an in-flight tick
// that already snapshotted the reminder completes its processing.
func (g *Registry) Cancel(ctx context.Context, userID, subscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.items[subscriptionID]
	if !ok || r.UserID != userID {
		return nil
	}
	if !r.Active {
		return nil
	}
	if _, err := g.st.SetReminderActive(ctx, subscriptionID, false); err != nil {
		return err
	}
	r.Active = false
	g.items[subscriptionID] = r
	g.log.Debug("reminder cancelled", logx.String("subscription", subscriptionID), logx.String("user", userID))
	return nil
}

// UpdateOffsets replaces a reminder's offsets in place. Log history is not
// reset, so an offset re-enabled after firing today stays suppressed until
// its suppression window elapses. Unknown ids are a no-op.
func (g *Registry) UpdateOffsets(ctx context.Context, userID, subscriptionID string, offsets []int) error {
	normalized, err := domain.NormalizeOffsets(offsets)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.items[subscriptionID]
	if !ok || r.UserID != userID {
		return nil
	}
	r.Offsets = normalized
	if err := g.st.UpsertReminder(ctx, r); err != nil {
		return err
	}
	g.items[subscriptionID] = r
	g.log.Debug("reminder offsets updated",
		logx.String("subscription", subscriptionID),
		logx.Any("offsets", normalized))
	return nil
}

// SetRenewalDate refreshes the cached renewal date after the subscription
// store rolled a subscription over to its next cycle.
func (g *Registry) SetRenewalDate(ctx context.Context, subscriptionID string, renewal time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.items[subscriptionID]
	if !ok {
		return nil
	}
	r.RenewalDate = renewal
	if err := g.st.UpsertReminder(ctx, r); err != nil {
		return err
	}
	g.items[subscriptionID] = r
	return nil
}

// Remove deletes a reminder entirely. Used by the scheduler's expiry
// cleanup once a renewal date is more than a day stale.
func (g *Registry) Remove(ctx context.Context, subscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.items[subscriptionID]; !ok {
		return nil
	}
	if err := g.st.DeleteReminder(ctx, subscriptionID); err != nil {
		return err
	}
	delete(g.items, subscriptionID)
	g.log.Debug("reminder removed", logx.String("subscription", subscriptionID))
	return nil
}

// SnapshotActive returns a point-in-time copy of the active reminders so a
// tick never races with concurrent schedule/cancel calls.
func (g *Registry) SnapshotActive() []domain.ScheduledReminder {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.ScheduledReminder, 0, len(g.items))
	for _, r := range g.items {
		if !r.Active {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// Len reports the number of reminders, active or not.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}
