package domain

import "time"

// Allow decides whether a due reminder may actually be notified, given the
// subscription's attempt history.
//
// Only Outcome==sent entries count toward suppression: a failed attempt is
// implicitly retried on the next tick that re-evaluates the same day/window,
// so transient delivery failures never silently drop a reminder.
//
//   - once:   any prior sent entry for the offset suppresses permanently.
//   - daily:  a sent entry for the offset on today's calendar day suppresses.
//   - weekly: a sent entry for the offset within the trailing 7 days
//     suppresses (a send on day D blocks through D+6, permits at D+7).
func Allow(freq Frequency, offsetDays int, history []LogEntry, today time.Time) bool {
	for _, e := range history {
		if e.OffsetDays != offsetDays || e.Outcome != OutcomeSent {
			continue
		}
		switch freq {
		case FrequencyOnce:
			return false
		case FrequencyDaily:
			if sameDay(e.SentAt, today) {
				return false
			}
		case FrequencyWeekly:
			if daysBetween(e.SentAt, today) < 7 {
				return false
			}
		default:
			// Unknown frequency: be conservative, treat like daily.
			if sameDay(e.SentAt, today) {
				return false
			}
		}
	}
	return true
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// daysBetween counts whole calendar days from a to b (negative if a is later).
func daysBetween(a, b time.Time) int {
	return int(startOfDay(b).Sub(startOfDay(a.In(b.Location()))).Hours() / 24)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
