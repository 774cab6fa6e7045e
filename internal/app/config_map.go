package app

import (
	"errors"
	"os"
	"strings"
	"time"

	"autopost/internal/config"
	"autopost/internal/notify"
	"autopost/internal/orchestrator"
	"autopost/internal/post"
	"autopost/internal/publish"
	"autopost/internal/retry"
	"autopost/internal/storage"
	kit "autopost/internal/transport"
	telegram "autopost/internal/transport/telegram/adapter"
	logx "autopost/pkg/logx"
)

// EnvTelegramToken overrides telegram.token when set.
const EnvTelegramToken = "AUTOPOST_TELEGRAM_TOKEN"

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

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
	}, nil
}

func mapPublishConfig(cfg *config.Config) (publish.Config, error) {
	pc := cfg.Publisher
	health, err := config.ParseDurationField("publisher.health_timeout", pc.HealthTimeout)
	if err != nil {
		return publish.Config{}, err
	}
	return publish.Config{
		Driver: pc.Driver,
		Exec: publish.ExecConfig{
			Command:       pc.Command,
			Args:          pc.Args,
			Dir:           pc.Dir,
			Env:           pc.Env,
			HealthTimeout: health,
		},
	}, nil
}

func mapRetryPolicy(cfg *config.Config) (retry.Policy, error) {
	r := cfg.Retry
	def := retry.Default()
	var err error
	p := retry.Policy{MaxAttempts: r.MaxAttempts, RateLimitedMaxAttempts: r.RateLimitedMaxAttempts}
	if p.Base, err = config.ParseDurationOrDefault("retry.base", r.Base, def.Base); err != nil {
		return retry.Policy{}, err
	}
	if p.MaxDelay, err = config.ParseDurationOrDefault("retry.max_delay", r.MaxDelay, def.MaxDelay); err != nil {
		return retry.Policy{}, err
	}
	if p.RateLimitedDelay, err = config.ParseDurationOrDefault("retry.rate_limited_delay", r.RateLimitedDelay, def.RateLimitedDelay); err != nil {
		return retry.Policy{}, err
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.RateLimitedMaxAttempts == 0 {
		p.RateLimitedMaxAttempts = def.RateLimitedMaxAttempts
	}
	return p, nil
}

func mapOrchestratorConfig(cfg *config.Config) (orchestrator.Config, error) {
	o := cfg.Orchestrator
	var (
		out orchestrator.Config
		err error
	)
	if out.TickInterval, err = config.ParseDurationOrDefault("orchestrator.tick_interval", o.TickInterval, orchestrator.DefaultTickInterval); err != nil {
		return out, err
	}
	if out.PublishTimeout, err = config.ParseDurationOrDefault("orchestrator.publish_timeout", o.PublishTimeout, orchestrator.DefaultPublishTimeout); err != nil {
		return out, err
	}
	if out.MinPostInterval, err = config.ParseDurationField("orchestrator.min_post_interval", o.MinPostInterval); err != nil {
		return out, err
	}
	if out.Retention, err = config.ParseDurationField("orchestrator.retention", o.Retention); err != nil {
		return out, err
	}
	out.IntervalJitter = orchestrator.DefaultIntervalJitter
	if o.IntervalJitter != nil {
		out.IntervalJitter = *o.IntervalJitter
	}
	if out.Retry, err = mapRetryPolicy(cfg); err != nil {
		return out, err
	}
	out.Media = post.MediaRules{
		MaxFiles:     cfg.Media.MaxFiles,
		MaxBytes:     cfg.Media.MaxBytes,
		AllowedKinds: cfg.Media.AllowedKinds,
	}
	return out, nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("orchestrator.shutdown_timeout", cfg.Orchestrator.ShutdownTimeout, 30*time.Second)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func telegramToken(cfg *config.Config) string {
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		return v
	}
	return strings.TrimSpace(cfg.Telegram.Token)
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: telegramToken(cfg), PollTimeout: poll}, nil
}

func mapNotifyConfig(cfg *config.Config) notify.Config {
	n := cfg.Notify
	return notify.Config{
		Enabled:    n.Enabled,
		Target:     kit.ChatTarget{ChatID: cfg.Telegram.NotifyChat},
		RatePerSec: n.RatePerSec,
		Burst:      n.Burst,
		Classes:    n.Events,
	}
}

// validate runs config.Validate plus the checks that need the environment or
// the mapping functions.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Telegram.Enabled && telegramToken(cfg) == "" {
		return errors.New("telegram.token (or " + EnvTelegramToken + ") is required when telegram.enabled")
	}
	if _, err := mapOrchestratorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err := mapPublishConfig(cfg)
	return err
}
