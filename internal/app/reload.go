package app

import (
	"context"
	"strings"

	"autopost/internal/config"
	logx "autopost/pkg/logx"
)

// reloadLoop applies committed config changes to the running components.
// Storage, publisher and telegram are only read at startup.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if stale := config.RestartRequired(prev, next); len(stale) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(stale, ",")))
	}

	a.logs.Apply(mapLogConfig(next))

	if oc, err := mapOrchestratorConfig(next); err != nil {
		a.log.Warn("invalid orchestrator config; keeping previous", logx.Err(err))
	} else {
		a.orch.SetConfig(oc)
	}

	if a.router != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}
	if a.notif != nil {
		a.notif.Apply(mapNotifyConfig(next))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
