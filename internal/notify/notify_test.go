package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"autopost/internal/eventbus"
	"autopost/internal/post"
	kit "autopost/internal/transport"
	logx "autopost/pkg/logx"
)

func statusEvent(ev post.Event) eventbus.Event {
	return eventbus.Event{Type: post.EventStatus, Time: time.Now(), Data: ev}
}

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		e       eventbus.Event
		classes []string
		want    string // substring, "" = not rendered
	}{
		{"published", statusEvent(post.Event{PostID: "p1", To: post.StatusPublished, Excerpt: "a <b>"}), DefaultClasses, "a &lt;b&gt;"},
		{"published off", statusEvent(post.Event{PostID: "p1", To: post.StatusPublished}), []string{ClassFailed}, ""},
		{"retrying failure", statusEvent(post.Event{PostID: "p2", To: post.StatusFailed}), DefaultClasses, ""},
		{"final failure", statusEvent(post.Event{PostID: "p2", To: post.StatusFailed, Final: true, Attempts: 3, Error: "timeout"}), DefaultClasses, "3 attempts"},
		{"queued", statusEvent(post.Event{PostID: "p3", To: post.StatusQueued}), DefaultClasses, ""},
		{"auth", eventbus.Event{Type: post.EventAuthRequired}, DefaultClasses, "Login required"},
		{"paused off by default", eventbus.Event{Type: post.EventPaused}, DefaultClasses, ""},
		{"paused", eventbus.Event{Type: post.EventPaused}, []string{ClassPaused}, "paused"},
		{"bad payload", eventbus.Event{Type: post.EventStatus, Data: "x"}, DefaultClasses, ""},
	}
	for _, tt := range tests {
		m, ok := Render(tt.e, tt.classes)
		if tt.want == "" {
			if ok {
				t.Fatalf("%s: rendered %q", tt.name, m.Text)
			}
			continue
		}
		if !ok || !strings.Contains(m.Text, tt.want) {
			t.Fatalf("%s: got %q, %v", tt.name, m.Text, ok)
		}
	}
}

func TestFailedMessageOffersRetry(t *testing.T) {
	t.Parallel()
	m := failedMessage(post.Event{PostID: "abc", Final: true})
	if len(m.Buttons) != 1 || m.Buttons[0][0].Data != "post:retry:abc" {
		t.Fatalf("buttons = %+v", m.Buttons)
	}
}

type fakeSender struct {
	mu    sync.Mutex
	fails int
	calls int
	got   []string
	to    []kit.ChatTarget
	ch    chan struct{}
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("flood wait")
	}
	f.got = append(f.got, text)
	f.to = append(f.to, to)
	f.ch <- struct{}{}
	return kit.MessageRef{}, nil
}

func TestServiceDelivers(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{fails: 1, ch: make(chan struct{}, 4)}
	target := kit.ChatTarget{ChatID: 555}
	s := New(Config{Enabled: true, Target: target, RatePerSec: 100, RetryBase: time.Millisecond}, sender, bus, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	bus.Publish(statusEvent(post.Event{PostID: "q", To: post.StatusQueued}))
	bus.Publish(statusEvent(post.Event{PostID: "p", To: post.StatusPublished}))

	select {
	case <-sender.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.got) != 1 || !strings.Contains(sender.got[0], "<code>p</code>") {
		t.Fatalf("got %q", sender.got)
	}
	if sender.calls != 2 {
		t.Fatalf("calls = %d, want a retry", sender.calls)
	}
	if sender.to[0] != target {
		t.Fatalf("target = %+v", sender.to[0])
	}
}

func TestDisabledServiceIsSilent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{ch: make(chan struct{}, 1)}
	s := New(Config{Enabled: false}, sender, bus, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	bus.Publish(eventbus.Event{Type: post.EventAuthRequired})
	select {
	case <-sender.ch:
		t.Fatal("disabled notifier sent a message")
	case <-time.After(50 * time.Millisecond):
	}

	s.Apply(Config{Enabled: true, RatePerSec: 100})
	bus.Publish(eventbus.Event{Type: post.EventAuthRequired})
	select {
	case <-sender.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("re-enabled notifier did not send")
	}
	s.Stop(ctx)
}
