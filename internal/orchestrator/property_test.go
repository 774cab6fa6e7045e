package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"autopost/internal/post"
	"autopost/internal/publish"
	"autopost/internal/storage"
)

// chaosPort fails about half of the attempts with a random kind.
type chaosPort struct {
	mu  sync.Mutex
	rng *rand.Rand
	fakePort
}

func (c *chaosPort) Publish(ctx context.Context, content publish.Content) (publish.Ref, error) {
	c.mu.Lock()
	roll := c.rng.Intn(len(publish.Kinds) * 2)
	c.mu.Unlock()
	if roll < len(publish.Kinds) {
		c.fakePort.fail(publish.Fail(publish.Kinds[roll], errors.New("chaos")))
	}
	time.Sleep(50 * time.Microsecond)
	return c.fakePort.Publish(ctx, content)
}

func TestConcurrentCommandsKeepOnePublishing(t *testing.T) {
	t.Parallel()
	store := newCheckingStore()
	port := &chaosPort{rng: rand.New(rand.NewSource(7)), fakePort: fakePort{healthy: true}}
	clock := newClock()
	svc, err := New(testConfig(), Deps{Store: store, Port: port, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var (
		idsMu sync.Mutex
		ids   []string
	)
	pick := func(rng *rand.Rand) string {
		idsMu.Lock()
		defer idsMu.Unlock()
		if len(ids) == 0 {
			return ""
		}
		return ids[rng.Intn(len(ids))]
	}

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range 150 {
				switch rng.Intn(7) {
				case 0:
					p, err := svc.Create(ctx, "post", nil)
					if err != nil {
						t.Errorf("Create: %v", err)
						return
					}
					idsMu.Lock()
					ids = append(ids, p.ID)
					idsMu.Unlock()
				case 1:
					_, _ = svc.PublishNow(ctx, pick(rng))
				case 2:
					_, _ = svc.Schedule(ctx, pick(rng), clock.Now())
				case 3:
					_, _ = svc.Cancel(ctx, pick(rng))
				case 4:
					_, _ = svc.Retry(ctx, pick(rng))
				case 5:
					clock.Advance(time.Duration(rng.Intn(5)) * time.Minute)
				default:
					_, _ = svc.Tick(ctx)
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()
	// Drain whatever is still due.
	for i := 0; i < 1000; i++ {
		ok, err := svc.Tick(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
	}

	if m := port.maxActive.Load(); m > 1 {
		t.Fatalf("port saw %d concurrent publishes", m)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.maxPub > 1 {
		t.Fatalf("%d posts were publishing at once", store.maxPub)
	}
	if store.publishing != 0 {
		t.Fatalf("%d posts left publishing", store.publishing)
	}
	for _, v := range store.violations {
		t.Error(v)
	}

	all, err := store.List(ctx, storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, p := range all {
		total += p.Attempts
		if p.Status == post.StatusPublishing {
			t.Fatalf("%s stuck in publishing", p.ID)
		}
	}
	if total != store.claims {
		t.Fatalf("attempts sum %d != claims %d", total, store.claims)
	}
}
