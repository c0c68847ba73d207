package app

import (
	"fmt"
	"strings"
	"time"

	"subwatch/internal/config"
	"subwatch/internal/notify"
	"subwatch/internal/observability/pprof"
	"subwatch/internal/scheduler"
	"subwatch/internal/store"
	"subwatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler

	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", s.TickInterval, time.Hour)
	if err != nil {
		return scheduler.Config{}, err
	}
	sweep, err := config.ParseDurationOrDefault("scheduler.sweep_interval", s.SweepInterval, 24*time.Hour)
	if err != nil {
		return scheduler.Config{}, err
	}
	notifyTimeout, err := config.ParseDurationOrDefault("scheduler.notify_timeout", s.NotifyTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("scheduler.retry_base", s.RetryBase, 500*time.Millisecond)
	if err != nil {
		return scheduler.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("scheduler.retry_max_delay", s.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}

	if s.RetentionDays < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.retention_days must be >= 0")
	}
	if s.Workers < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.workers must be >= 0")
	}
	// An explicit retry_max of 0 disables in-tick retries; only an absent
	// field falls back to the default.
	retryMax := 2
	if s.RetryMax != nil {
		if *s.RetryMax < 0 {
			return scheduler.Config{}, fmt.Errorf("scheduler.retry_max must be >= 0")
		}
		retryMax = *s.RetryMax
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	return scheduler.Config{
		Enabled:       s.Enabled,
		TickInterval:  tick,
		SweepInterval: sweep,
		RetentionDays: s.RetentionDays,
		Workers:       s.Workers,
		NotifyTimeout: notifyTimeout,
		RatePerSec:    s.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		RetryJitter:   s.RetryJitter,
		Timezone:      s.Timezone,
		BaseURL:       s.BaseURL,
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	if p == nil {
		return pprof.Config{}, nil
	}
	readTO, err := config.ParseDurationField("pprof.read_timeout", p.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	writeTO, err := config.ParseDurationField("pprof.write_timeout", p.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idleTO, err := config.ParseDurationField("pprof.idle_timeout", p.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       p.Enabled,
		Addr:          p.Addr,
		Token:         p.Token,
		AllowInsecure: p.AllowInsecure,
		ReadTimeout:   readTO,
		WriteTimeout:  writeTO,
		IdleTimeout:   idleTO,
	}, nil
}

func mapSMTPConfig(c *config.SMTPConfig) notify.SMTPConfig {
	return notify.SMTPConfig{
		Addr:     c.Addr,
		From:     c.From,
		Username: c.Username,
		Password: c.Password,
		StartTLS: c.StartTLS,
	}
}

func buildNotifier(cfg *config.Config, log logx.Logger) (notify.Notifier, error) {
	if cfg.SMTP == nil {
		log.Info("smtp not configured; reminders will be logged, not delivered")
		return notify.NewLog(log.With(logx.String("comp", "notify"))), nil
	}
	return notify.NewSMTP(mapSMTPConfig(cfg.SMTP), log.With(logx.String("comp", "notify")))
}

func smtpEqual(a, b *config.SMTPConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
