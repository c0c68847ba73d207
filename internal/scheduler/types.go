package scheduler

import (
	"sync"
	"time"
)

// Config controls the scheduler service.
type Config struct {
	Enabled bool

	TickInterval  time.Duration // default 1h
	SweepInterval time.Duration // default 24h
	RetentionDays int           // default 60

	Workers       int           // bounded concurrency within a tick, default 4
	NotifyTimeout time.Duration // per-send bound, default 30s
	RatePerSec    int           // notifier rate limit, default 5

	RetryMax      int           // in-tick retries for retryable failures, default 2
	RetryBase     time.Duration // default 500ms
	RetryMaxDelay time.Duration // default 10s
	RetryJitter   float64       // 0.2 = 20%

	Timezone string // IANA TZ for calendar-day dedup; empty means Local

	// BaseURL is the public app URL used to build manage/cancel links in
	// notification content. Links are omitted when empty.
	BaseURL string
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 24 * time.Hour
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 60
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 30 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	return c
}

// TickResult summarizes one evaluation pass.
type TickResult struct {
	Evaluated  int
	Sent       int
	Failed     int
	Suppressed int
	Expired    int
	Errors     int // batch item failures (store errors, panics)
}

// Stats is the operational snapshot exposed for health checks. Operators
// watch the sent/failed ratio to judge delivery health.
type Stats struct {
	Enabled       bool
	TickInterval  time.Duration
	SweepInterval time.Duration
	RetentionDays int
	Workers       int

	Ticks            uint64
	Sent             uint64
	Failed           uint64
	Suppressed       uint64
	Expired          uint64
	LastTick         time.Time
	LastTickDuration time.Duration
	LastTickResult   TickResult

	LastSweep        time.Time
	LastSweepRemoved int64
}

type runState struct {
	mu      sync.Mutex
	running bool
}

func (st *runState) tryAcquire() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running {
		return false
	}
	st.running = true
	return true
}

func (st *runState) release() {
	st.mu.Lock()
	st.running = false
	st.mu.Unlock()
}
