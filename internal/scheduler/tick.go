package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"subwatch/internal/domain"
	"subwatch/internal/notify"
	"subwatch/pkg/logx"
)

type itemResult int

const (
	resultSkipped itemResult = iota
	resultSent
	resultFailed
	resultSuppressed
	resultExpired
	resultError
)

// Tick runs one evaluation pass over a snapshot of the registry. It is safe
// to call concurrently with schedule/cancel/update calls; reminders
// cancelled after the snapshot complete their processing for this tick.
func (s *Service) Tick(ctx context.Context, now time.Time) TickResult {
	start := time.Now()

	s.mu.Lock()
	cfg := s.cfg
	loc := s.loc
	limiter := s.limiter
	s.mu.Unlock()

	snap := s.reg.SnapshotActive()
	res := TickResult{Evaluated: len(snap)}
	if len(snap) == 0 {
		s.recordTick(now, time.Since(start), res)
		return res
	}

	workers := cfg.Workers
	if workers > len(snap) {
		workers = len(snap)
	}

	var (
		resMu   sync.Mutex
		expired []string
	)
	jobs := make(chan domain.ScheduledReminder)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for r := range jobs {
				out := s.safeProcess(ctx, cfg, loc, limiter, r, now)
				resMu.Lock()
				switch out {
				case resultSent:
					res.Sent++
				case resultFailed:
					res.Failed++
				case resultSuppressed:
					res.Suppressed++
				case resultExpired:
					res.Expired++
					expired = append(expired, r.SubscriptionID)
				case resultError:
					res.Errors++
				}
				resMu.Unlock()
			}
		}()
	}
	for _, r := range snap {
		jobs <- r
	}
	close(jobs)
	wg.Wait()

	// Reminders flagged expired are removed after the loop, never mid-iteration.
	for _, sub := range expired {
		if err := s.reg.Remove(ctx, sub); err != nil {
			s.log.Warn("expired reminder removal failed", logx.String("subscription", sub), logx.Err(err))
		}
	}

	dur := time.Since(start)
	s.recordTick(now, dur, res)
	s.publish(EventTickComplete, res)
	s.log.Info("tick complete",
		logx.Int("evaluated", res.Evaluated),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Int("suppressed", res.Suppressed),
		logx.Int("expired", res.Expired),
		logx.Int("errors", res.Errors),
		logx.Duration("dur", dur))
	return res
}

// safeProcess isolates one reminder: a panic or unexpected error is counted
// and logged without aborting the batch.
func (s *Service) safeProcess(ctx context.Context, cfg Config, loc *time.Location, limiter *rate.Limiter, r domain.ScheduledReminder, now time.Time) (out itemResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic while processing reminder",
				logx.String("subscription", r.SubscriptionID),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())))
			out = resultError
		}
	}()
	return s.processOne(ctx, cfg, loc, limiter, r, now)
}

func (s *Service) processOne(ctx context.Context, cfg Config, loc *time.Location, limiter *rate.Limiter, r domain.ScheduledReminder, now time.Time) itemResult {
	ev := domain.Evaluate(r, now)
	if ev.Expired {
		s.log.Debug("reminder expired",
			logx.String("subscription", r.SubscriptionID),
			logx.Time("renewal", r.RenewalDate))
		s.publish(EventReminderExpired, ReminderEvent{
			SubscriptionID: r.SubscriptionID,
			UserID:         r.UserID,
		})
		return resultExpired
	}
	if !ev.Due {
		return resultSkipped
	}

	history, err := s.st.QueryLog(ctx, r.SubscriptionID)
	if err != nil {
		s.log.Warn("attempt log query failed",
			logx.String("subscription", r.SubscriptionID), logx.Err(err))
		return resultError
	}

	today := now.In(loc)
	if !domain.Allow(r.Frequency, ev.OffsetDays, history, today) {
		s.log.Debug("reminder suppressed",
			logx.String("subscription", r.SubscriptionID),
			logx.Int("offset", ev.OffsetDays),
			logx.String("frequency", string(r.Frequency)))
		return resultSuppressed
	}

	sendErr := s.deliver(ctx, cfg, limiter, r, ev.OffsetDays)

	entry := domain.LogEntry{
		SubscriptionID: r.SubscriptionID,
		UserID:         r.UserID,
		OffsetDays:     ev.OffsetDays,
		SentAt:         now,
		Outcome:        domain.OutcomeSent,
	}
	if sendErr != nil {
		entry.Outcome = domain.OutcomeFailed
	}
	if err := s.st.AppendLog(ctx, entry); err != nil {
		// The attempt happened but we cannot record it; next tick may resend.
		s.log.Error("attempt log append failed",
			logx.String("subscription", r.SubscriptionID), logx.Err(err))
	}

	evt := ReminderEvent{
		SubscriptionID: r.SubscriptionID,
		UserID:         r.UserID,
		OffsetDays:     ev.OffsetDays,
	}
	if sendErr != nil {
		s.log.Warn("reminder send failed",
			logx.String("subscription", r.SubscriptionID),
			logx.String("user", r.UserID),
			logx.Int("offset", ev.OffsetDays),
			logx.Err(sendErr))
		s.publish(EventReminderFailed, evt)
		return resultFailed
	}
	s.log.Info("reminder sent",
		logx.String("subscription", r.SubscriptionID),
		logx.String("user", r.UserID),
		logx.Int("offset", ev.OffsetDays))
	s.publish(EventReminderSent, evt)
	return resultSent
}

// deliver calls the Notifier with a per-attempt timeout, retrying retryable
// failures with exponential backoff. Terminal failures return immediately.
func (s *Service) deliver(ctx context.Context, cfg Config, limiter *rate.Limiter, r domain.ScheduledReminder, offsetDays int) error {
	payload := notify.Payload{
		DisplayName:      r.DisplayName,
		SubscriptionName: r.SubscriptionName,
		AmountMinor:      r.AmountMinor,
		Currency:         r.Currency,
		RenewalDate:      r.RenewalDate,
		DaysUntilRenewal: offsetDays,
	}
	if cfg.BaseURL != "" {
		payload.ManageURL = fmt.Sprintf("%s/subscriptions/%s", cfg.BaseURL, r.SubscriptionID)
		payload.CancelURL = fmt.Sprintf("%s/subscriptions/%s/cancel", cfg.BaseURL, r.SubscriptionID)
	}

	var err error
	maxAttempts := 1 + cfg.RetryMax
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if limiter != nil {
			if werr := limiter.Wait(ctx); werr != nil {
				return notify.RetryableError(werr)
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.NotifyTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.NotifyTimeout)
		}
		err = s.notifier.SendReminder(attemptCtx, r.ContactEmail, payload)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if !notify.IsRetryable(err) || attempt >= maxAttempts {
			return err
		}

		delay := backoffDelay(cfg, attempt)
		s.log.Debug("send retry scheduled",
			logx.String("subscription", r.SubscriptionID),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return notify.RetryableError(ctx.Err())
		case <-tmr.C:
		}
	}
	return err
}

func backoffDelay(cfg Config, retry int) time.Duration {
	// retry starts at 1 (first retry)
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// jitter [1-j, 1+j]
	if j := cfg.RetryJitter; j > 0 {
		r := (rand.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func (s *Service) recordTick(now time.Time, dur time.Duration, res TickResult) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Ticks++
	s.stats.Sent += uint64(res.Sent)
	s.stats.Failed += uint64(res.Failed)
	s.stats.Suppressed += uint64(res.Suppressed)
	s.stats.Expired += uint64(res.Expired)
	s.stats.LastTick = now
	s.stats.LastTickDuration = dur
	s.stats.LastTickResult = res
}
