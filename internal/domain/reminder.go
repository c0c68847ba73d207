package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidConfiguration rejects reminder registrations with unusable
// offsets. It never enters the registry.
var ErrInvalidConfiguration = errors.New("invalid reminder configuration")

// Frequency governs how repeated matches of the same offset are deduplicated.
type Frequency string

const (
	// FrequencyOnce suppresses an offset permanently after one successful send.
	FrequencyOnce Frequency = "once"
	// FrequencyDaily allows one successful send per offset per calendar day.
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly allows one successful send per offset per trailing 7 days.
	FrequencyWeekly Frequency = "weekly"
)

func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case FrequencyOnce:
		return FrequencyOnce, nil
	case FrequencyDaily:
		return FrequencyDaily, nil
	case FrequencyWeekly:
		return FrequencyWeekly, nil
	case "":
		return FrequencyOnce, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", s)
	}
}

// Outcome records the result of a single synchronous send attempt.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// ScheduledReminder is one (subscription, user) pairing with notifications
// enabled. Contact and amount fields are a denormalized snapshot used for
// notification content; the authoritative renewal date lives in the
// subscription store and is only read here.
type ScheduledReminder struct {
	SubscriptionID string
	UserID         string

	ContactEmail     string
	DisplayName      string
	SubscriptionName string
	AmountMinor      int64 // minor currency units (cents)
	Currency         string

	RenewalDate time.Time
	Offsets     []int // days before renewal to notify
	Frequency   Frequency

	// Active false means the evaluator skips the reminder; it is not
	// physically removed until expiry cleanup or an explicit delete.
	Active bool
}

// Clone returns a deep copy safe to hand to a concurrent tick.
func (r ScheduledReminder) Clone() ScheduledReminder {
	cp := r
	cp.Offsets = append([]int(nil), r.Offsets...)
	return cp
}

func (r ScheduledReminder) Validate() error {
	if strings.TrimSpace(r.SubscriptionID) == "" {
		return fmt.Errorf("%w: subscription id required", ErrInvalidConfiguration)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidConfiguration)
	}
	if _, err := NormalizeOffsets(r.Offsets); err != nil {
		return err
	}
	switch r.Frequency {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidConfiguration, r.Frequency)
	}
	return nil
}

// NormalizeOffsets validates, deduplicates and sorts reminder offsets.
// Offsets must be non-empty and all values >= 0.
func NormalizeOffsets(offsets []int) ([]int, error) {
	if len(offsets) == 0 {
		return nil, fmt.Errorf("%w: at least one offset required", ErrInvalidConfiguration)
	}
	seen := make(map[int]struct{}, len(offsets))
	out := make([]int, 0, len(offsets))
	for _, d := range offsets {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative offset %d", ErrInvalidConfiguration, d)
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}

// LogEntry is one send attempt. Entries are append-only; the policy layer
// only ever reads and counts them.
type LogEntry struct {
	SubscriptionID string
	UserID         string
	OffsetDays     int
	SentAt         time.Time
	Outcome        Outcome
}

// NotificationSettings is the per-user slice of settings this engine consumes
// at registration time. If EmailNotifications is false no reminder should be
// registered for that user; the scheduler does not re-check the flag per tick.
type NotificationSettings struct {
	EmailNotifications bool
	Frequency          Frequency
}
