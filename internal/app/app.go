// Package app wires configuration, storage, the publish port, the
// orchestrator and the chat surface into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"autopost/internal/config"
	"autopost/internal/eventbus"
	"autopost/internal/importer"
	"autopost/internal/notify"
	"autopost/internal/orchestrator"
	"autopost/internal/publish"
	"autopost/internal/runtime/supervisor"
	"autopost/internal/storage"
	kit "autopost/internal/transport"
	telegram "autopost/internal/transport/telegram/adapter"
	"autopost/internal/transport/telegram/router"
	logx "autopost/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	orch  *orchestrator.Service

	// nil when telegram is disabled
	adapter *telegram.Adapter
	router  *router.Router
	notif   *notify.Service

	updates chan kit.Update
	closed  bool
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New(), updates: make(chan kit.Update, 256)}
	if err := a.build(cfg, root); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, root logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, root)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.log.Info("storage opened", logx.String("driver", storageDriver(sc.Driver)))

	pc, err := mapPublishConfig(cfg)
	if err != nil {
		return err
	}
	port, err := publish.Open(pc, root)
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}

	oc, err := mapOrchestratorConfig(cfg)
	if err != nil {
		return err
	}
	a.orch, err = orchestrator.New(oc, orchestrator.Deps{Store: a.store, Port: port, Bus: a.bus, Log: root})
	if err != nil {
		return err
	}

	if !cfg.Telegram.Enabled {
		return nil
	}
	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return err
	}
	a.adapter, err = telegram.New(tc, root)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	a.router = router.New(a.orch, a.adapter, cfg.Telegram.OwnerUserIDs, root)
	a.notif = notify.New(mapNotifyConfig(cfg), a.adapter, a.bus, root)
	return nil
}

func storageDriver(d string) string {
	if d == "" {
		return "memory"
	}
	return d
}

// Orchestrator exposes the command surface for in-process callers.
func (a *App) Orchestrator() *orchestrator.Service { return a.orch }

// Bus is the event bus components publish on.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Import loads a CSV of posts through the orchestrator.
func (a *App) Import(ctx context.Context, path string, opt importer.Options) (importer.Result, error) {
	im := importer.New(a.orch, a.bus, a.log)
	return im.ImportFile(orchestrator.WithActor(ctx, "import"), path, opt)
}

// ImportOnly loads path without starting the dispatcher, then releases the
// store and log sinks. Posts already due stay where they are. The app cannot
// be started afterwards.
func (a *App) ImportOnly(ctx context.Context, path string, opt importer.Options) (importer.Result, error) {
	if a.sup != nil || a.closed {
		return importer.Result{}, errors.New("app already started")
	}
	defer a.close(StopImportDone)
	if err := a.orch.Recover(ctx); err != nil {
		return importer.Result{}, err
	}
	return a.Import(ctx, path, opt)
}

func (a *App) close(reason StopReason) {
	a.closed = true
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("stopped", logx.String("reason", string(reason)))
	_ = a.logs.Close()
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error recorded by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	if a.closed {
		return errors.New("app is closed")
	}
	a.sup = supervisor.New(ctx, a.log)
	run := a.sup.Context()

	if err := a.orch.Start(run); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("orchestrator: %w", err)
	}
	if a.adapter != nil {
		if err := a.adapter.Start(run, a.updates); err != nil {
			a.sup.Cancel()
			return fmt.Errorf("telegram: %w", err)
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
		a.notif.Start(run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Bool("telegram", a.adapter != nil))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// The orchestrator gets the whole shutdown budget for its in-flight attempt
	// before anything else is cancelled.
	var errs []error
	budget := shutdownTimeout(a.cfgm.Get())
	a.step(ctx, "orchestrator", budget+5*time.Second, func(c context.Context) error {
		oc, cancel := context.WithTimeout(c, budget)
		defer cancel()
		return a.orch.Stop(oc)
	}, &errs)

	a.sup.Cancel()
	if a.notif != nil {
		a.step(ctx, "notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil }, &errs)
	}
	if a.adapter != nil {
		a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop, &errs)
	}
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait, &errs)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() }, &errs)

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// step runs fn with an upper bound derived from max and ctx's deadline. A step
// that overruns is logged and abandoned.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error, errs *[]error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		max = time.Millisecond
	}
	sctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			*errs = append(*errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		*errs = append(*errs, fmt.Errorf("%s: %w", name, sctx.Err()))
	}
}
