package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate rejects configs that would fail at wiring time, so a bad hot
// reload is refused instead of half-applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required when storage.driver=%s", cfg.Storage.Driver))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required when storage.driver=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	check("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if cfg.Storage.MaxOpenConns < 0 {
		errs = append(errs, errors.New("storage.max_open_conns must be >= 0"))
	}

	o := cfg.Orchestrator
	check("orchestrator.tick_interval", o.TickInterval)
	check("orchestrator.publish_timeout", o.PublishTimeout)
	check("orchestrator.min_post_interval", o.MinPostInterval)
	check("orchestrator.retention", o.Retention)
	check("orchestrator.shutdown_timeout", o.ShutdownTimeout)
	if o.IntervalJitter != nil && (*o.IntervalJitter < 0 || *o.IntervalJitter >= 1) {
		errs = append(errs, errors.New("orchestrator.interval_jitter must be in [0, 1)"))
	}

	r := cfg.Retry
	check("retry.base", r.Base)
	check("retry.max_delay", r.MaxDelay)
	check("retry.rate_limited_delay", r.RateLimitedDelay)
	if r.MaxAttempts < 0 || r.RateLimitedMaxAttempts < 0 {
		errs = append(errs, errors.New("retry attempt ceilings must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Publisher.Driver)) {
	case "", "dryrun", "dry-run":
	case "exec":
		if strings.TrimSpace(cfg.Publisher.Command) == "" {
			errs = append(errs, errors.New("publisher.command is required when publisher.driver=exec"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown publisher.driver: %s", cfg.Publisher.Driver))
	}
	check("publisher.health_timeout", cfg.Publisher.HealthTimeout)

	if cfg.Media.MaxFiles < 0 || cfg.Media.MaxBytes < 0 {
		errs = append(errs, errors.New("media limits must be >= 0"))
	}
	for _, k := range cfg.Media.AllowedKinds {
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "image", "video", "audio", "application":
		default:
			errs = append(errs, fmt.Errorf("media.allowed_kinds: unknown kind %q", k))
		}
	}

	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if cfg.Telegram.Enabled {
		if len(cfg.Telegram.OwnerUserIDs) == 0 {
			errs = append(errs, errors.New("telegram.owner_user_ids is required when telegram.enabled"))
		}
	}
	if cfg.Notify.Enabled && cfg.Telegram.NotifyChat == 0 {
		errs = append(errs, errors.New("telegram.notify_chat is required when notify.enabled"))
	}
	if cfg.Notify.RatePerSec < 0 || cfg.Notify.Burst < 0 {
		errs = append(errs, errors.New("notify rate and burst must be >= 0"))
	}
	for _, e := range cfg.Notify.Events {
		switch e {
		case "published", "failed", "auth_required", "paused":
		default:
			errs = append(errs, fmt.Errorf("notify.events: unknown event %q", e))
		}
	}
	return errors.Join(errs...)
}
