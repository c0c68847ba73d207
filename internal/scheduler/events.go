package scheduler

import "subwatch/internal/eventbus"

// Event types published on the app bus.
const (
	EventReminderSent    = "reminder.sent"
	EventReminderFailed  = "reminder.failed"
	EventReminderExpired = "reminder.expired"
	EventTickComplete    = "scheduler.tick"
)

// ReminderEvent is the Data payload for per-reminder events.
type ReminderEvent struct {
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id"`
	OffsetDays     int    `json:"offset_days,omitempty"`
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
