package config

// Config is the root configuration for the subwatch daemon.
//
// Files may be YAML or JSON; both are decoded strictly (unknown fields are
// rejected). All duration fields are Go duration strings (e.g. "30s", "1h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	SMTP      *SMTPConfig     `json:"smtp,omitempty"`
	Pprof     *PprofConfig    `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"` // trace|debug|info|warn|error
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./subwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the reminder tick loop and the retention sweep.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1h"
//   - sweep_interval: "24h"
//   - retention_days: 60
//   - workers: 4
//   - notify_timeout: "30s"
//   - rate_per_sec: 5
//   - retry_max: 2 (set to 0 explicitly to disable in-tick retries)
type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	TickInterval  string `json:"tick_interval,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`

	Workers       int    `json:"workers,omitempty"`
	NotifyTimeout string `json:"notify_timeout,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`

	// RetryMax is a pointer so an explicit 0 is distinguishable from unset.
	RetryMax      *int    `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	RetryJitter   float64 `json:"retry_jitter,omitempty"`

	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Europe/Berlin"
	BaseURL  string `json:"base_url,omitempty"`
}

// PprofConfig controls the optional pprof HTTP listener.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SMTPConfig controls the outbound mail transport.
type SMTPConfig struct {
	Addr     string `json:"addr"` // host:port
	From     string `json:"from"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	StartTLS bool   `json:"starttls,omitempty"`
}
