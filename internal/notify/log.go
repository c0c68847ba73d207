package notify

import (
	"context"

	"subwatch/pkg/logx"
)

// LogNotifier writes reminders to the log instead of delivering them.
// Used when no mail transport is configured (dev and dry-run setups).
type LogNotifier struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *LogNotifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendReminder(_ context.Context, contactEmail string, p Payload) error {
	n.log.Info("reminder (dry-run)",
		logx.String("to", contactEmail),
		logx.String("subscription", p.SubscriptionName),
		logx.Int("days_until", p.DaysUntilRenewal),
		logx.Time("renewal", p.RenewalDate))
	return nil
}
