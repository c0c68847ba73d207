package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"subwatch/internal/eventbus"
	"subwatch/internal/notify"
	"subwatch/internal/registry"
	"subwatch/internal/store"
	"subwatch/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log      logx.Logger
	cfg      Config
	loc      *time.Location
	reg      *registry.Registry
	st       store.Store
	notifier notify.Notifier
	bus      eventbus.Bus

	limiter *rate.Limiter

	c          *cron.Cron
	runCtx     context.Context
	runCancel  context.CancelFunc
	tickState  *runState
	sweepState *runState

	statsMu sync.Mutex
	stats   Stats
}

func New(cfg Config, reg *registry.Registry, st store.Store, notifier notify.Notifier, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:        log,
		reg:        reg,
		st:         st,
		notifier:   notifier,
		bus:        bus,
		tickState:  &runState{},
		sweepState: &runState{},
	}
	s.applyLocked(cfg)
	return s
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.applyLocked(cfg)
	// The driver restarts when tick cadence or timezone changed.
	restart := s.c != nil &&
		(prev.TickInterval != s.cfg.TickInterval ||
			prev.SweepInterval != s.cfg.SweepInterval ||
			strings.TrimSpace(prev.Timezone) != strings.TrimSpace(s.cfg.Timezone))
	if !restart {
		s.mu.Unlock()
		return
	}
	old := s.c
	s.c = nil
	s.mu.Unlock()

	// Wait for in-flight jobs with the mutex released: Tick and Sweep
	// re-acquire it, so waiting under the lock would deadlock.
	<-old.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || s.runCtx == nil {
		// Stopped or started again while we were waiting.
		return
	}
	s.c = cron.New(cron.WithLocation(s.loc))
	if err := s.registerSchedulesLocked(); err != nil {
		s.log.Error("scheduler restart failed", logx.Err(err))
		s.c = nil
		return
	}
	s.c.Start()
	s.log.Info("scheduler restarted",
		logx.Duration("tick", s.cfg.TickInterval),
		logx.Duration("sweep", s.cfg.SweepInterval),
		logx.String("tz", s.loc.String()))
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg.withDefaults()
	s.loc = s.loadLocationLocked()
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
}

// Start registers the tick and sweep schedules and begins ticking. It is a
// no-op if the service is disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// runCtx covers the window where Apply is restarting the driver and
	// s.c is momentarily nil.
	if s.c != nil || s.runCtx != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithLocation(s.loc))
	if err := s.registerSchedulesLocked(); err != nil {
		s.runCancel()
		s.c = nil
		return err
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.TickInterval),
		logx.Duration("sweep", s.cfg.SweepInterval),
		logx.Int("workers", s.cfg.Workers),
		logx.String("tz", s.loc.String()))
	return nil
}

// Stop halts the driver. An in-flight tick completes its processing; the
// ctx bounds how long Stop waits for it.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if c == nil {
		// Not running, or caught mid-restart; cancel so a pending restart
		// sees the stop and doesn't re-install the driver.
		if cancel != nil {
			cancel()
		}
		return
	}
	start := time.Now()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) registerSchedulesLocked() error {
	runCtx := s.runCtx
	tickSpec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	_, err := s.c.AddFunc(tickSpec, func() {
		// Skip if the previous tick is still running (slow Notifier).
		if !s.tickState.tryAcquire() {
			s.log.Warn("tick skipped, previous run still in progress")
			return
		}
		defer s.tickState.release()
		s.Tick(runCtx, time.Now())
	})
	if err != nil {
		return err
	}

	sweepSpec := fmt.Sprintf("@every %s", s.cfg.SweepInterval)
	_, err = s.c.AddFunc(sweepSpec, func() {
		if !s.sweepState.tryAcquire() {
			return
		}
		defer s.sweepState.release()
		if _, err := s.Sweep(runCtx, time.Now()); err != nil {
			s.log.Warn("retention sweep failed", logx.Err(err))
		}
	})
	return err
}

// Sweep prunes log entries older than the retention period. It runs on its
// own schedule, independent of the reminder tick.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	retention := s.cfg.RetentionDays
	s.mu.Unlock()

	cutoff := now.AddDate(0, 0, -retention)
	removed, err := s.st.PruneLog(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.statsMu.Lock()
	s.stats.LastSweep = now
	s.stats.LastSweepRemoved = removed
	s.statsMu.Unlock()

	if removed > 0 {
		s.log.Info("retention sweep", logx.Int64("removed", removed), logx.Time("cutoff", cutoff))
	} else {
		s.log.Debug("retention sweep, nothing to prune", logx.Time("cutoff", cutoff))
	}
	return removed, nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
