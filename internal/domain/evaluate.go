package domain

import (
	"math"
	"time"
)

// Evaluation is the outcome of checking one reminder against a clock reading.
type Evaluation struct {
	Due        bool
	OffsetDays int
	// Expired means the renewal date is more than a day in the past and the
	// reminder should be removed from the registry. Renewal-date rollover is
	// the subscription store's job; a reminder it failed to roll over is
	// dropped here rather than rescheduled.
	Expired bool
}

// DaysUntil returns ceil((renewal - now) / 24h). A renewal later today is 0
// once now has passed it, 1 while it is still ahead within the next 24h.
func DaysUntil(renewal, now time.Time) int {
	return int(math.Ceil(renewal.Sub(now).Hours() / 24))
}

// Evaluate decides whether a reminder is due at now. Pure function, no I/O.
func Evaluate(r ScheduledReminder, now time.Time) Evaluation {
	days := DaysUntil(r.RenewalDate, now)
	if days < -1 {
		return Evaluation{Expired: true, OffsetDays: days}
	}
	for _, off := range r.Offsets {
		if off == days {
			return Evaluation{Due: true, OffsetDays: off}
		}
	}
	return Evaluation{OffsetDays: days}
}
