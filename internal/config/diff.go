package config

import (
	"reflect"
	"strings"

	logx "autopost/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// fields for logging. Tokens and DSNs are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Orchestrator, newCfg.Orchestrator) {
		o := newCfg.Orchestrator
		changed = append(changed, "orchestrator")
		attrs = append(attrs,
			logx.String("orchestrator.tick_interval", o.TickInterval),
			logx.String("orchestrator.publish_timeout", o.PublishTimeout),
			logx.String("orchestrator.min_post_interval", o.MinPostInterval),
			logx.String("orchestrator.retention", o.Retention),
		)
	}
	if oldCfg.Retry != newCfg.Retry {
		r := newCfg.Retry
		changed = append(changed, "retry")
		attrs = append(attrs,
			logx.String("retry.base", r.Base),
			logx.String("retry.max_delay", r.MaxDelay),
			logx.Int("retry.max_attempts", r.MaxAttempts),
			logx.String("retry.rate_limited_delay", r.RateLimitedDelay),
			logx.Int("retry.rate_limited_max_attempts", r.RateLimitedMaxAttempts),
		)
	}
	if !reflect.DeepEqual(oldCfg.Publisher, newCfg.Publisher) {
		changed = append(changed, "publisher")
		attrs = append(attrs,
			logx.String("publisher.driver", newCfg.Publisher.Driver),
			logx.String("publisher.command", newCfg.Publisher.Command),
		)
	}
	if !reflect.DeepEqual(oldCfg.Media, newCfg.Media) {
		changed = append(changed, "media")
		attrs = append(attrs,
			logx.Int("media.max_files", newCfg.Media.MaxFiles),
			logx.Int64("media.max_bytes", newCfg.Media.MaxBytes),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		t := newCfg.Telegram
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", t.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(t.Token) != ""),
			logx.Int("telegram.owner_count", len(t.OwnerUserIDs)),
			logx.Bool("telegram.notify_chat_set", t.NotifyChat != 0),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newCfg.Notify.Enabled),
			logx.Any("notify.events", newCfg.Notify.Events),
		)
	}
	return changed, attrs
}

// RestartRequired reports sections that changed but are only read at startup.
// Owner ids and the notify chat apply live.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Publisher, newCfg.Publisher) {
		out = append(out, "publisher")
	}
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled || ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout {
		out = append(out, "telegram")
	}
	return out
}
