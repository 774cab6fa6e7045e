package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"autopost/internal/eventbus"
	"autopost/internal/post"
	"autopost/internal/publish"
	"autopost/internal/retry"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakePort returns queued results in order; an empty queue means success.
type fakePort struct {
	mu      sync.Mutex
	healthy bool
	results []error
	calls   int
	posted  []publish.Content

	// block, when set, holds Publish until closed. started receives one
	// value per call that reached Publish.
	block     chan struct{}
	started   chan string
	ignoreCtx bool
	panicWith any
	hook      func(publish.Content)

	active    atomic.Int32
	maxActive atomic.Int32
}

func newPort() *fakePort { return &fakePort{healthy: true} }

func (f *fakePort) setHealthy(v bool) {
	f.mu.Lock()
	f.healthy = v
	f.mu.Unlock()
}

func (f *fakePort) fail(errs ...error) {
	f.mu.Lock()
	f.results = append(f.results, errs...)
	f.mu.Unlock()
}

func (f *fakePort) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePort) IsSessionHealthy(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakePort) Publish(ctx context.Context, c publish.Content) (publish.Ref, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.posted = append(f.posted, c)
	var err error
	if len(f.results) > 0 {
		err = f.results[0]
		f.results = f.results[1:]
	}
	block, started, ignore, pan, hook := f.block, f.started, f.ignoreCtx, f.panicWith, f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(c)
	}

	if started != nil {
		started <- c.PostID
	}
	if pan != nil {
		panic(pan)
	}
	if block != nil {
		if ignore {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return "", publish.Fail(publish.KindTransientNetwork, ctx.Err())
			}
		}
	}
	if err != nil {
		return "", err
	}
	return publish.Ref(fmt.Sprintf("https://social.test/post/%d", call)), nil
}

// checkingStore wraps a store and records invariant violations on every write.
type checkingStore struct {
	storage.Store

	mu         sync.Mutex
	status     map[string]post.Status
	attempts   map[string]int
	publishing int
	maxPub     int
	claims     int
	violations []string
}

func newCheckingStore() *checkingStore {
	return &checkingStore{
		Store:    storage.NewMemory(),
		status:   map[string]post.Status{},
		attempts: map[string]int{},
	}
}

func (c *checkingStore) Put(ctx context.Context, p *post.Post) error {
	c.mu.Lock()
	prev, seen := c.status[p.ID]
	if seen && prev == post.StatusPublishing {
		c.publishing--
	}
	if p.Status == post.StatusPublishing {
		c.publishing++
		if prev != post.StatusPublishing {
			c.claims++
			if p.Attempts != c.attempts[p.ID]+1 {
				c.violations = append(c.violations, fmt.Sprintf("%s: claim moved attempts %d -> %d", p.ID, c.attempts[p.ID], p.Attempts))
			}
		}
	} else if p.Attempts != c.attempts[p.ID] {
		c.violations = append(c.violations, fmt.Sprintf("%s: attempts changed outside a claim (%d -> %d)", p.ID, c.attempts[p.ID], p.Attempts))
	}
	if c.publishing > c.maxPub {
		c.maxPub = c.publishing
	}
	if (p.Status == post.StatusScheduled) != (p.ScheduledAt != nil) {
		c.violations = append(c.violations, p.ID+": scheduledAt/status mismatch")
	}
	if (p.Status == post.StatusPublished) != (p.PublishedAt != nil) {
		c.violations = append(c.violations, p.ID+": publishedAt/status mismatch")
	}
	if p.Status == post.StatusFailed && p.LastError == nil {
		c.violations = append(c.violations, p.ID+": failed without lastError")
	}
	c.status[p.ID] = p.Status
	c.attempts[p.ID] = p.Attempts
	c.mu.Unlock()
	return c.Store.Put(ctx, p)
}

// flakyStore fails Put while broken is set.
type flakyStore struct {
	storage.Store
	broken atomic.Bool
}

func (f *flakyStore) Put(ctx context.Context, p *post.Post) error {
	if f.broken.Load() {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, p)
}

type harness struct {
	svc   *Service
	clock *fakeClock
	port  *fakePort
	store storage.Store
	bus   eventbus.Bus
}

func testConfig() Config {
	return Config{
		TickInterval:   time.Second,
		PublishTimeout: 5 * time.Second,
		Retry: retry.Policy{
			Base:                   time.Minute,
			MaxDelay:               30 * time.Minute,
			MaxAttempts:            3,
			RateLimitedDelay:       30 * time.Minute,
			RateLimitedMaxAttempts: 6,
		},
	}
}

func newHarness(t *testing.T, cfg Config, store storage.Store) *harness {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	h := &harness{clock: newClock(), port: newPort(), store: store, bus: eventbus.New()}
	svc, err := New(cfg, Deps{
		Store: store,
		Port:  h.port,
		Bus:   h.bus,
		Log:   logx.Nop(),
		Now:   h.clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.svc = svc
	return h
}

func (h *harness) tick(t *testing.T) bool {
	t.Helper()
	ok, err := h.svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return ok
}

func (h *harness) get(t *testing.T, id string) *post.Post {
	t.Helper()
	p, err := h.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return p
}

func (h *harness) create(t *testing.T, content string) *post.Post {
	t.Helper()
	p, err := h.svc.Create(context.Background(), content, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

// claimHookStore runs onClaim once, from inside the write that moves a post
// to publishing.
type claimHookStore struct {
	storage.Store
	once    sync.Once
	onClaim func()
}

func (s *claimHookStore) Put(ctx context.Context, p *post.Post) error {
	if p.Status == post.StatusPublishing && s.onClaim != nil {
		s.once.Do(s.onClaim)
	}
	return s.Store.Put(ctx, p)
}
