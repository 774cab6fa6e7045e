// Package orchestrator owns the post lifecycle: it accepts user commands,
// finds due posts on a fixed tick and publishes them one at a time through
// the publish port, applying the retry policy on failure.
package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"

	"autopost/internal/eventbus"
	"autopost/internal/post"
	"autopost/internal/publish"
	"autopost/internal/retry"
	"autopost/internal/runtime/supervisor"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

const (
	DefaultTickInterval   = 5 * time.Second
	DefaultPublishTimeout = 3 * time.Minute
	DefaultIntervalJitter = 0.1
)

// Config holds the hot-reloadable settings.
type Config struct {
	TickInterval    time.Duration
	PublishTimeout  time.Duration
	MinPostInterval time.Duration // 0 disables pacing
	IntervalJitter  float64
	Retention       time.Duration // 0 keeps finished posts forever
	Retry           retry.Policy
	Media           post.MediaRules
}

func (c Config) normalize() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.IntervalJitter < 0 || c.IntervalJitter >= 1 {
		c.IntervalJitter = DefaultIntervalJitter
	}
	return c
}

// Deps are the collaborators. Store and Port are required.
type Deps struct {
	Store storage.Store
	Port  publish.Port
	Bus   eventbus.Bus
	Log   logx.Logger
	// Now and NewID default to time.Now and a 21-char nanoid. Times from Now
	// are converted to UTC before they reach a post.
	Now   func() time.Time
	NewID func() (string, error)
	Rand  *rand.Rand
}

type Service struct {
	log   logx.Logger
	store storage.Store
	port  publish.Port
	bus   eventbus.Bus
	now   func() time.Time
	newID func() (string, error)
	pacer *pacer

	cfgMu sync.RWMutex
	cfg   Config

	// mu serializes every mutation (commands, claim, finalize). It is never
	// held while the port is called.
	mu            sync.Mutex
	inFlight      string
	inFlightSince time.Time
	inFlightDone  chan struct{}
	attemptCancel context.CancelFunc
	paused        bool
	authRequired  bool
	stopping      bool
	unsaved       []*post.Post
	lastCreated   time.Time
	lastTick      time.Time

	// tickMu keeps ticks from overlapping.
	tickMu sync.Mutex

	runMu     sync.Mutex
	sup       *supervisor.Supervisor
	cron      *cron.Cron
	tickEntry cron.EntryID
	kickCh    chan struct{}
}

func New(cfg Config, d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if d.Port == nil {
		return nil, errors.New("orchestrator: publish port is required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	clock := d.Now
	d.Now = func() time.Time { return clock().UTC() }
	if d.NewID == nil {
		d.NewID = func() (string, error) { return gonanoid.New() }
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	cfg = cfg.normalize()
	s := &Service{
		log:    d.Log.With(logx.String("comp", "orchestrator")),
		store:  d.Store,
		port:   d.Port,
		bus:    d.Bus,
		now:    d.Now,
		newID:  d.NewID,
		pacer:  newPacer(d.Rand),
		cfg:    cfg,
		kickCh: make(chan struct{}, 1),
	}
	s.pacer.configure(s.now(), cfg.MinPostInterval, cfg.IntervalJitter)
	return s, nil
}

func (s *Service) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// SetConfig applies a reloaded configuration. In-flight attempts keep the
// timeout they started with.
func (s *Service) SetConfig(cfg Config) {
	cfg = cfg.normalize()
	s.cfgMu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.cfgMu.Unlock()

	s.pacer.configure(s.now(), cfg.MinPostInterval, cfg.IntervalJitter)
	if old.TickInterval != cfg.TickInterval || old.Retention != cfg.Retention {
		s.runMu.Lock()
		if s.cron != nil {
			s.restartCronLocked()
		}
		s.runMu.Unlock()
	}
	s.log.Info("config applied",
		logx.Duration("tick", cfg.TickInterval),
		logx.Duration("publish_timeout", cfg.PublishTimeout),
		logx.Duration("min_post_interval", cfg.MinPostInterval),
		logx.Int("max_attempts", cfg.Retry.MaxAttempts),
	)
}

// Bus returns the event bus the service publishes on.
func (s *Service) Bus() eventbus.Bus { return s.bus }

// Start recovers interrupted attempts, then runs the tick loop until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.sup != nil {
		return errors.New("orchestrator already started")
	}
	if err := s.Recover(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()

	s.sup = supervisor.New(ctx, s.log)
	s.sup.GoRestart("orchestrator.tick", s.loop, supervisor.WithRestartBackoff(time.Second, time.Minute))
	s.restartCronLocked()
	s.Kick()
	s.log.Info("orchestrator started", logx.Duration("tick", s.config().TickInterval))
	return nil
}

func (s *Service) restartCronLocked() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	cfg := s.config()
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.log})))
	s.tickEntry = c.Schedule(cron.Every(cfg.TickInterval), cron.FuncJob(s.Kick))
	if cfg.Retention > 0 {
		_, err := c.AddFunc("@daily", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := s.Purge(WithActor(ctx, "retention"), s.now().Add(-cfg.Retention)); err != nil {
				s.log.Warn("retention purge failed", logx.Err(err))
			}
		})
		if err != nil {
			s.log.Warn("retention schedule rejected", logx.Err(err))
		}
	}
	c.Start()
	s.cron = c
}

// Kick requests a tick as soon as the loop is free. Extra kicks coalesce.
func (s *Service) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kickCh:
			if _, err := s.Tick(ctx); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Warn("tick failed", logx.Err(err))
			}
		}
	}
}

// Stop refuses new dispatch, waits for the in-flight attempt until ctx
// expires, then cancels it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	done := s.inFlightDone
	s.mu.Unlock()

	s.runMu.Lock()
	c, sup := s.cron, s.sup
	s.cron, s.sup = nil, nil
	s.runMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}

	var err error
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			s.log.Warn("shutdown deadline reached; cancelling in-flight publish")
			s.mu.Lock()
			cancel := s.attemptCancel
			s.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			err = ctx.Err()
		}
	}
	if sup != nil {
		// Give the cancelled attempt a moment to write its outcome.
		wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = sup.Stop(wctx)
		wcancel()
	}
	s.log.Info("orchestrator stopped")
	return err
}

type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
