package domain

import (
	"testing"
	"time"
)

func sent(sub string, offset int, at time.Time) LogEntry {
	return LogEntry{SubscriptionID: sub, UserID: "user-1", OffsetDays: offset, SentAt: at, Outcome: OutcomeSent}
}

func failed(sub string, offset int, at time.Time) LogEntry {
	return LogEntry{SubscriptionID: sub, UserID: "user-1", OffsetDays: offset, SentAt: at, Outcome: OutcomeFailed}
}

func TestAllowOnce(t *testing.T) {
	t.Parallel()
	today := time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)

	if !Allow(FrequencyOnce, 7, nil, today) {
		t.Fatal("empty history must allow")
	}
	// A sent entry for the offset suppresses permanently, even on other days.
	hist := []LogEntry{sent("sub-1", 7, today.AddDate(0, 0, -30))}
	if Allow(FrequencyOnce, 7, hist, today) {
		t.Fatal("once must suppress any prior sent for the offset")
	}
	// Other offsets do not suppress.
	if !Allow(FrequencyOnce, 3, hist, today) {
		t.Fatal("offset 3 must not be suppressed by offset 7 history")
	}
}

func TestAllowDaily(t *testing.T) {
	t.Parallel()
	today := time.Date(2024, 3, 8, 16, 0, 0, 0, time.UTC)

	hist := []LogEntry{sent("sub-1", 7, today.Add(-4 * time.Hour))}
	if Allow(FrequencyDaily, 7, hist, today) {
		t.Fatal("same-day sent must suppress")
	}

	hist = []LogEntry{sent("sub-1", 7, today.AddDate(0, 0, -1))}
	if !Allow(FrequencyDaily, 7, hist, today) {
		t.Fatal("yesterday's sent must not suppress daily")
	}
}

func TestAllowWeeklyWindow(t *testing.T) {
	t.Parallel()
	sentDay := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	hist := []LogEntry{sent("sub-1", 14, sentDay)}

	for d := 0; d <= 6; d++ {
		today := sentDay.AddDate(0, 0, d).Add(6 * time.Hour)
		if Allow(FrequencyWeekly, 14, hist, today) {
			t.Fatalf("day D+%d must be suppressed", d)
		}
	}
	day7 := sentDay.AddDate(0, 0, 7)
	if !Allow(FrequencyWeekly, 14, hist, day7) {
		t.Fatal("day D+7 must be allowed")
	}
}

func TestFailedNeverSuppresses(t *testing.T) {
	t.Parallel()
	today := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	hist := []LogEntry{
		failed("sub-1", 7, today.Add(-2*time.Hour)),
		failed("sub-1", 7, today.Add(-time.Hour)),
	}
	for _, freq := range []Frequency{FrequencyOnce, FrequencyDaily, FrequencyWeekly} {
		if !Allow(freq, 7, hist, today) {
			t.Fatalf("failed entries must not suppress (freq=%s)", freq)
		}
	}
}

func TestAllowMixedHistory(t *testing.T) {
	t.Parallel()
	today := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	hist := []LogEntry{
		failed("sub-1", 7, today.Add(-3*time.Hour)),
		sent("sub-1", 7, today.Add(-2*time.Hour)),
	}
	if Allow(FrequencyDaily, 7, hist, today) {
		t.Fatal("a sent entry among failures must still suppress")
	}
}
