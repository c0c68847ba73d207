package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"subwatch/internal/domain"
	"subwatch/internal/eventbus"
	"subwatch/internal/notify"
	"subwatch/internal/registry"
	"subwatch/internal/store"
	"subwatch/pkg/logx"
)

type sentCall struct {
	email   string
	payload notify.Payload
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []sentCall
	// failNext queues errors returned by successive calls; nil entries succeed.
	failNext []error
	panicOn  string // contact email that triggers a panic
}

func (f *fakeNotifier) SendReminder(_ context.Context, email string, p notify.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn != "" && email == f.panicOn {
		panic("notifier exploded")
	}
	f.calls = append(f.calls, sentCall{email: email, payload: p})
	if len(f.failNext) > 0 {
		err := f.failNext[0]
		f.failNext = f.failNext[1:]
		return err
	}
	return nil
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       2,
		NotifyTimeout: time.Second,
		RatePerSec:    1000,
		RetryMax:      0,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		Timezone:      "UTC",
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Service, *registry.Registry, store.Store, *fakeNotifier) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	reg := registry.New(st, logx.Nop())
	fn := &fakeNotifier{}
	svc := New(cfg, reg, st, fn, logx.Nop(), nil)
	return svc, reg, st, fn
}

func mustSchedule(t *testing.T, reg *registry.Registry, r domain.ScheduledReminder) {
	t.Helper()
	if err := reg.Schedule(context.Background(), r); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
}

func musicCloud(freq domain.Frequency, offsets ...int) domain.ScheduledReminder {
	return domain.ScheduledReminder{
		SubscriptionID:   "sub-music",
		UserID:           "user-1",
		ContactEmail:     "user@example.com",
		DisplayName:      "Alex",
		SubscriptionName: "MusicCloud",
		AmountMinor:      999,
		Currency:         "EUR",
		RenewalDate:      time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Offsets:          offsets,
		Frequency:        freq,
		Active:           true,
	}
}

func TestEndToEndOnceSchedule(t *testing.T) {
	t.Parallel()
	svc, reg, _, fn := newTestEngine(t, testConfig())
	ctx := context.Background()

	mustSchedule(t, reg, musicCloud(domain.FrequencyOnce, 7, 3, 1))

	at := func(day int, hour int) time.Time {
		return time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)
	}

	// 2024-03-08: 7 days out.
	res := svc.Tick(ctx, at(8, 9))
	if res.Sent != 1 || res.Failed != 0 {
		t.Fatalf("first tick: %+v", res)
	}
	if fn.callCount() != 1 {
		t.Fatalf("expected 1 notifier call, got %d", fn.callCount())
	}
	fn.mu.Lock()
	if fn.calls[0].payload.DaysUntilRenewal != 7 {
		t.Fatalf("expected offset 7, got %d", fn.calls[0].payload.DaysUntilRenewal)
	}
	fn.mu.Unlock()

	// Repeated tick the same calendar day: suppressed.
	res = svc.Tick(ctx, at(8, 15))
	if res.Sent != 0 || res.Suppressed != 1 {
		t.Fatalf("repeat tick: %+v", res)
	}

	// 2024-03-12: 3 days out.
	if res = svc.Tick(ctx, at(12, 9)); res.Sent != 1 {
		t.Fatalf("offset-3 tick: %+v", res)
	}
	// 2024-03-14: 1 day out.
	if res = svc.Tick(ctx, at(14, 9)); res.Sent != 1 {
		t.Fatalf("offset-1 tick: %+v", res)
	}

	// 2024-03-17: renewal 2 days past; expired and removed, no send.
	res = svc.Tick(ctx, at(17, 9))
	if res.Sent != 0 || res.Expired != 1 {
		t.Fatalf("expiry tick: %+v", res)
	}
	if reg.Len() != 0 {
		t.Fatal("expired reminder not removed from registry")
	}
	if fn.callCount() != 3 {
		t.Fatalf("expected 3 total sends, got %d", fn.callCount())
	}
}

func TestOnceVersusDaily(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// once: after a send for offset 7, the offset stays suppressed even on a
	// later day when a renewal-date shift makes it match again.
	svc, reg, _, fn := newTestEngine(t, testConfig())
	r := musicCloud(domain.FrequencyOnce, 7)
	mustSchedule(t, reg, r)

	day1 := time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)
	if res := svc.Tick(ctx, day1); res.Sent != 1 {
		t.Fatalf("day1: %+v", res)
	}
	r.RenewalDate = r.RenewalDate.AddDate(0, 0, 1) // offset 7 matches again tomorrow
	mustSchedule(t, reg, r)
	if res := svc.Tick(ctx, day1.AddDate(0, 0, 1)); res.Suppressed != 1 {
		t.Fatalf("once must suppress across days: %+v", res)
	}
	if fn.callCount() != 1 {
		t.Fatalf("expected 1 send, got %d", fn.callCount())
	}

	// daily: the same sequence sends again on the next day.
	svc2, reg2, _, fn2 := newTestEngine(t, testConfig())
	r2 := musicCloud(domain.FrequencyDaily, 7)
	mustSchedule(t, reg2, r2)

	if res := svc2.Tick(ctx, day1); res.Sent != 1 {
		t.Fatalf("daily day1: %+v", res)
	}
	if res := svc2.Tick(ctx, day1.Add(5 * time.Hour)); res.Suppressed != 1 {
		t.Fatalf("daily same day must suppress: %+v", res)
	}
	r2.RenewalDate = r2.RenewalDate.AddDate(0, 0, 1)
	mustSchedule(t, reg2, r2)
	if res := svc2.Tick(ctx, day1.AddDate(0, 0, 1)); res.Sent != 1 {
		t.Fatalf("daily next day must send: %+v", res)
	}
	if fn2.callCount() != 2 {
		t.Fatalf("expected 2 sends, got %d", fn2.callCount())
	}
}

func TestWeeklyWindow(t *testing.T) {
	t.Parallel()
	svc, reg, _, fn := newTestEngine(t, testConfig())
	ctx := context.Background()

	day0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	r := musicCloud(domain.FrequencyWeekly, 14)
	r.RenewalDate = day0.AddDate(0, 0, 14)
	mustSchedule(t, reg, r)

	if res := svc.Tick(ctx, day0); res.Sent != 1 {
		t.Fatalf("day0: %+v", res)
	}

	// Shift the renewal date forward each day so offset 14 keeps matching;
	// the weekly window must still suppress through D+6.
	for d := 1; d <= 6; d++ {
		r.RenewalDate = day0.AddDate(0, 0, 14+d)
		mustSchedule(t, reg, r)
		if res := svc.Tick(ctx, day0.AddDate(0, 0, d)); res.Suppressed != 1 {
			t.Fatalf("D+%d must suppress: %+v", d, res)
		}
	}

	r.RenewalDate = day0.AddDate(0, 0, 21)
	mustSchedule(t, reg, r)
	if res := svc.Tick(ctx, day0.AddDate(0, 0, 7)); res.Sent != 1 {
		t.Fatalf("D+7 must send: %+v", res)
	}
	if fn.callCount() != 2 {
		t.Fatalf("expected 2 sends, got %d", fn.callCount())
	}
}

func TestFailedAttemptRetriesNextTick(t *testing.T) {
	t.Parallel()
	svc, reg, st, fn := newTestEngine(t, testConfig())
	ctx := context.Background()

	mustSchedule(t, reg, musicCloud(domain.FrequencyOnce, 7))
	fn.failNext = []error{notify.TerminalError(errors.New("mailbox unavailable"))}

	now := time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)
	if res := svc.Tick(ctx, now); res.Failed != 1 {
		t.Fatalf("failing tick: %+v", res)
	}

	entries, err := st.QueryLog(ctx, "sub-music")
	if err != nil {
		t.Fatalf("QueryLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != domain.OutcomeFailed {
		t.Fatalf("expected one failed entry, got %+v", entries)
	}

	// Later the same day the failure does not suppress; this attempt succeeds.
	if res := svc.Tick(ctx, now.Add(2 * time.Hour)); res.Sent != 1 {
		t.Fatalf("retry tick: %+v", res)
	}
	entries, _ = st.QueryLog(ctx, "sub-music")
	if len(entries) != 2 || entries[1].Outcome != domain.OutcomeSent {
		t.Fatalf("expected failed then sent, got %+v", entries)
	}
}

func TestInTickRetryOnRetryableFailure(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.RetryMax = 2
	svc, reg, _, fn := newTestEngine(t, cfg)
	ctx := context.Background()

	mustSchedule(t, reg, musicCloud(domain.FrequencyOnce, 7))
	fn.failNext = []error{notify.RetryableError(errors.New("smtp 421"))}

	res := svc.Tick(ctx, time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC))
	if res.Sent != 1 || res.Failed != 0 {
		t.Fatalf("expected in-tick retry to succeed: %+v", res)
	}
	if fn.callCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", fn.callCount())
	}
}

func TestTerminalFailureNotRetriedInTick(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.RetryMax = 3
	svc, reg, _, fn := newTestEngine(t, cfg)
	ctx := context.Background()

	mustSchedule(t, reg, musicCloud(domain.FrequencyOnce, 7))
	fn.failNext = []error{notify.TerminalError(errors.New("550 no such user"))}

	res := svc.Tick(ctx, time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC))
	if res.Failed != 1 {
		t.Fatalf("expected failed: %+v", res)
	}
	if fn.callCount() != 1 {
		t.Fatalf("terminal failure must not retry, got %d attempts", fn.callCount())
	}
}

func TestCancelledReminderNotNotified(t *testing.T) {
	t.Parallel()
	svc, reg, _, fn := newTestEngine(t, testConfig())
	ctx := context.Background()

	mustSchedule(t, reg, musicCloud(domain.FrequencyOnce, 7))
	if err := reg.Cancel(ctx, "user-1", "sub-music"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	res := svc.Tick(ctx, time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC))
	if res.Evaluated != 0 || fn.callCount() != 0 {
		t.Fatalf("cancelled reminder was processed: %+v calls=%d", res, fn.callCount())
	}
}

func TestPanicIsolatedToOneReminder(t *testing.T) {
	t.Parallel()
	svc, reg, _, fn := newTestEngine(t, testConfig())
	ctx := context.Background()

	bad := musicCloud(domain.FrequencyOnce, 7)
	bad.SubscriptionID = "sub-bad"
	bad.ContactEmail = "boom@example.com"
	mustSchedule(t, reg, bad)
	mustSchedule(t, reg, musicCloud(domain.FrequencyOnce, 7))
	fn.panicOn = "boom@example.com"

	res := svc.Tick(ctx, time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC))
	if res.Errors != 1 {
		t.Fatalf("expected 1 batch item error: %+v", res)
	}
	if res.Sent != 1 {
		t.Fatalf("healthy reminder must still send: %+v", res)
	}
}

func TestSweepPrunesOldEntries(t *testing.T) {
	t.Parallel()
	svc, _, st, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	now := time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)

	old := domain.LogEntry{SubscriptionID: "sub-music", UserID: "user-1", OffsetDays: 7, SentAt: now.AddDate(0, 0, -61), Outcome: domain.OutcomeSent}
	recent := domain.LogEntry{SubscriptionID: "sub-music", UserID: "user-1", OffsetDays: 3, SentAt: now.AddDate(0, 0, -59), Outcome: domain.OutcomeFailed}
	for _, e := range []domain.LogEntry{old, recent} {
		if err := st.AppendLog(ctx, e); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}

	removed, err := svc.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	entries, _ := st.QueryLog(ctx, "sub-music")
	if len(entries) != 1 || entries[0].OffsetDays != 3 {
		t.Fatalf("unexpected surviving entries: %+v", entries)
	}

	stats := svc.Snapshot()
	if stats.LastSweepRemoved != 1 || !stats.LastSweep.Equal(now) {
		t.Fatalf("sweep stats not recorded: %+v", stats)
	}
}

func TestSnapshotCounters(t *testing.T) {
	t.Parallel()
	svc, reg, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	mustSchedule(t, reg, musicCloud(domain.FrequencyOnce, 7))
	now := time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)
	svc.Tick(ctx, now)
	svc.Tick(ctx, now.Add(time.Hour))

	st := svc.Snapshot()
	if st.Ticks != 2 || st.Sent != 1 || st.Suppressed != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if !st.LastTick.Equal(now.Add(time.Hour)) {
		t.Fatalf("LastTick = %v", st.LastTick)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.TickInterval = time.Hour
	svc, _, _, _ := newTestEngine(t, cfg)

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Idempotent start.
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	// Stop after stop is a no-op.
	svc.Stop(stopCtx)
}

func TestTickPublishesEvents(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	reg := registry.New(st, logx.Nop())
	bus := eventbus.New()
	svc := New(testConfig(), reg, st, &fakeNotifier{}, logx.Nop(), bus)

	events, unsub := bus.Subscribe(16)
	defer unsub()

	ctx := context.Background()
	mustSchedule(t, reg, musicCloud(domain.FrequencyOnce, 7))
	svc.Tick(ctx, time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC))

	var types []string
	for {
		select {
		case e := <-events:
			types = append(types, e.Type)
			continue
		default:
		}
		break
	}
	want := []string{EventReminderSent, EventTickComplete}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}

func TestApplyWhileTicking(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.TickInterval = 2 * time.Millisecond
	cfg.SweepInterval = 3 * time.Millisecond
	svc, reg, _, _ := newTestEngine(t, cfg)

	mustSchedule(t, reg, musicCloud(domain.FrequencyDaily, 7))

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Alternate the tick cadence while jobs are firing. Cadence changes
	// restart the cron driver, which must not block against a running tick.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 25; i++ {
			next := cfg
			if i%2 == 0 {
				next.TickInterval = 3 * time.Millisecond
			}
			svc.Apply(next)
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Apply blocked against a running tick")
	}

	// Let the re-installed driver fire on the final cadence.
	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		svc.Stop(stopCtx)
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop blocked after cadence changes")
	}

	// The service must still answer; a wedged mutex would hang here.
	if st := svc.Snapshot(); st.Ticks == 0 {
		t.Fatalf("expected at least one tick, got %+v", st)
	}
}
