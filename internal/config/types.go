package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted fields fall back to the defaults documented per section.
type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Retry        RetryConfig        `json:"retry"`
	Publisher    PublisherConfig    `json:"publisher"`
	Media        MediaConfig        `json:"media"`
	Telegram     TelegramConfig     `json:"telegram"`
	Notify       NotifyConfig       `json:"notify"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the post store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/autopost.db }
//	storage: { driver: postgres, dsn: "postgres://u:p@localhost/autopost?sslmode=disable" }
type StorageConfig struct {
	Driver       string `json:"driver"` // memory | file | sqlite | postgres
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"` // never logged
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// OrchestratorConfig controls dispatch timing.
//
// Defaults:
//   - tick_interval: "5s"
//   - publish_timeout: "3m"
//   - min_post_interval: "0s" (no pacing)
//   - interval_jitter: 0.1
//   - retention: "0s" (keep finished posts forever)
//   - shutdown_timeout: "30s"
type OrchestratorConfig struct {
	TickInterval    string   `json:"tick_interval,omitempty"`
	PublishTimeout  string   `json:"publish_timeout,omitempty"`
	MinPostInterval string   `json:"min_post_interval,omitempty"`
	IntervalJitter  *float64 `json:"interval_jitter,omitempty"`
	Retention       string   `json:"retention,omitempty"`
	ShutdownTimeout string   `json:"shutdown_timeout,omitempty"`
}

// RetryConfig holds the backoff constants of the retry policy.
//
// Defaults: base "1m", max_delay "30m", max_attempts 3,
// rate_limited_delay "30m", rate_limited_max_attempts 6.
type RetryConfig struct {
	Base                   string `json:"base,omitempty"`
	MaxDelay               string `json:"max_delay,omitempty"`
	MaxAttempts            int    `json:"max_attempts,omitempty"`
	RateLimitedDelay       string `json:"rate_limited_delay,omitempty"`
	RateLimitedMaxAttempts int    `json:"rate_limited_max_attempts,omitempty"`
}

// PublisherConfig selects the browser-automation adapter.
type PublisherConfig struct {
	Driver        string   `json:"driver"` // dryrun | exec
	Command       string   `json:"command,omitempty"`
	Args          []string `json:"args,omitempty"`
	Dir           string   `json:"dir,omitempty"`
	Env           []string `json:"env,omitempty"`
	HealthTimeout string   `json:"health_timeout,omitempty"`
}

// MediaConfig bounds post attachments. allowed_kinds are MIME top-level
// types ("image", "video"); empty allows any file.
type MediaConfig struct {
	MaxFiles     int      `json:"max_files,omitempty"`
	MaxBytes     int64    `json:"max_bytes,omitempty"`
	AllowedKinds []string `json:"allowed_kinds,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"` // never logged; AUTOPOST_TELEGRAM_TOKEN overrides
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	NotifyChat   int64   `json:"notify_chat,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// NotifyConfig forwards lifecycle events to telegram.notify_chat.
type NotifyConfig struct {
	Enabled    bool     `json:"enabled"`
	RatePerSec float64  `json:"rate_per_sec,omitempty"` // default 1
	Burst      int      `json:"burst,omitempty"`        // default 3
	Events     []string `json:"events,omitempty"`       // published | failed | auth_required | paused
}
