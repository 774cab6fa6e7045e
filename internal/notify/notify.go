// Package notify forwards orchestrator events to a chat as short messages.
package notify

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"autopost/internal/eventbus"
	"autopost/internal/post"
	"autopost/internal/runtime/supervisor"
	kit "autopost/internal/transport"
	logx "autopost/pkg/logx"
)

// Event classes selectable in configuration.
const (
	ClassPublished    = "published"
	ClassFailed       = "failed"
	ClassAuthRequired = "auth_required"
	ClassPaused       = "paused"
)

var DefaultClasses = []string{ClassPublished, ClassFailed, ClassAuthRequired}

type Config struct {
	Enabled    bool
	Target     kit.ChatTarget
	RatePerSec float64
	Burst      int
	// Classes selects what is forwarded; empty means DefaultClasses.
	Classes   []string
	QueueSize int
	RetryMax  int
	RetryBase time.Duration
}

func (c Config) normalize() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.Burst <= 0 {
		c.Burst = 3
	}
	if len(c.Classes) == 0 {
		c.Classes = DefaultClasses
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = 2
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	return c
}

// Sender is the part of a transport adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Message is a rendered notification.
type Message struct {
	Text    string
	Silent  bool
	Buttons [][]kit.Button
}

type Service struct {
	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	runMu sync.Mutex
	sup   *supervisor.Supervisor

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.normalize()
	return &Service{
		log:     log.With(logx.String("comp", "notify")),
		sender:  sender,
		bus:     bus,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

// Apply swaps target, classes and rate without restarting.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalize()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.Burst)
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Stats are counters since start.
type Stats struct {
	Sent, Dropped, Failed uint64
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Dropped: s.dropped.Load(), Failed: s.failed.Load()}
}

// Start subscribes to the bus and delivers messages until Stop.
func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.sup != nil || s.sender == nil || s.bus == nil {
		return
	}
	cfg := s.config()
	events, unsubscribe := s.bus.Subscribe(64,
		post.EventStatus, post.EventAuthRequired, post.EventSessionOK, post.EventPaused, post.EventResumed)
	queue := make(chan Message, cfg.QueueSize)
	s.sup = supervisor.New(ctx, s.log)

	s.sup.Go0("notify.consume", func(c context.Context) {
		defer unsubscribe()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				cfg := s.config()
				if !cfg.Enabled {
					continue
				}
				m, ok := Render(e, cfg.Classes)
				if !ok {
					continue
				}
				select {
				case queue <- m:
				default:
					s.dropped.Add(1)
					s.log.Warn("notification dropped (queue full)", logx.Int("cap", cap(queue)))
				}
			}
		}
	})
	s.sup.Go0("notify.send", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case m := <-queue:
				s.deliver(c, m)
			}
		}
	})
	s.log.Info("notifier started", logx.Int64("chat_id", cfg.Target.ChatID))
}

func (s *Service) Stop(ctx context.Context) {
	s.runMu.Lock()
	sup := s.sup
	s.sup = nil
	s.runMu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("notifier stop timed out", logx.Err(err))
	}
	st := s.Stats()
	s.log.Info("notifier stopped", logx.Uint64("sent", st.Sent), logx.Uint64("dropped", st.Dropped), logx.Uint64("failed", st.Failed))
}

func (s *Service) deliver(ctx context.Context, m Message) {
	cfg := s.config()
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Silent: m.Silent, Buttons: m.Buttons}
	delay := cfg.RetryBase
	var err error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if err = lim.Wait(ctx); err != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err = s.sender.SendText(sctx, cfg.Target, m.Text, opt)
		cancel()
		if err == nil {
			s.sent.Add(1)
			return
		}
		s.log.Debug("notification send failed", logx.Int("attempt", attempt+1), logx.Err(err))
		if attempt == cfg.RetryMax {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
	s.failed.Add(1)
	s.log.Warn("notification lost", logx.Err(err))
}

// Render turns a bus event into a message when its class is selected.
func Render(e eventbus.Event, classes []string) (Message, bool) {
	on := func(c string) bool { return slices.Contains(classes, c) }
	switch e.Type {
	case post.EventStatus:
		ev, ok := e.Data.(post.Event)
		if !ok {
			return Message{}, false
		}
		switch {
		case ev.To == post.StatusPublished && on(ClassPublished):
			return publishedMessage(ev), true
		case ev.To == post.StatusFailed && ev.Final && on(ClassFailed):
			return failedMessage(ev), true
		}
	case post.EventAuthRequired:
		if on(ClassAuthRequired) {
			return Message{Text: "🔐 <b>Login required</b>\nPublishing is on hold until the browser session is signed in again."}, true
		}
	case post.EventSessionOK:
		if on(ClassAuthRequired) {
			return Message{Text: "🔓 Session restored, publishing resumes.", Silent: true}, true
		}
	case post.EventPaused:
		if on(ClassPaused) {
			return Message{Text: "⏸ Dispatch paused.", Silent: true}, true
		}
	case post.EventResumed:
		if on(ClassPaused) {
			return Message{Text: "▶️ Dispatch resumed.", Silent: true}, true
		}
	}
	return Message{}, false
}
