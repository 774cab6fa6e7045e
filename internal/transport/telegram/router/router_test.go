package router

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"autopost/internal/orchestrator"
	"autopost/internal/post"
	"autopost/internal/publish"
	"autopost/internal/storage"
	kit "autopost/internal/transport"
	logx "autopost/pkg/logx"
)

type sent struct {
	to      kit.ChatTarget
	text    string
	buttons [][]kit.Button
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	edits   []sent
	answers []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := sent{to: to, text: text}
	if opt != nil {
		s.buttons = opt.Buttons
	}
	f.sent = append(f.sent, s)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := sent{to: kit.ChatTarget{ChatID: ref.ChatID}, text: text}
	if opt != nil {
		s.buttons = opt.Buttons
	}
	f.edits = append(f.edits, s)
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	f.answers = append(f.answers, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

const owner = 42

type fixture struct {
	r   *Router
	ad  *fakeAdapter
	svc *orchestrator.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc, err := orchestrator.New(orchestrator.Config{}, orchestrator.Deps{
		Store: storage.NewMemory(),
		Port:  publish.NewDryRun(logx.Nop()),
	})
	if err != nil {
		t.Fatal(err)
	}
	ad := &fakeAdapter{}
	return &fixture{r: New(svc, ad, []int64{owner}, logx.Nop()), ad: ad, svc: svc}
}

func (f *fixture) send(t *testing.T, from int64, text string) string {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 7, FromID: from, Text: text}}
	if job := f.r.prepare(context.Background(), up); job != nil {
		job()
	}
	return f.ad.last()
}

func (f *fixture) press(t *testing.T, from int64, data string) string {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", ChatID: 7, FromID: from, Data: data}}
	if job := f.r.prepare(context.Background(), up); job != nil {
		job()
	}
	f.ad.mu.Lock()
	defer f.ad.mu.Unlock()
	if len(f.ad.answers) == 0 {
		return ""
	}
	return f.ad.answers[len(f.ad.answers)-1]
}

func (f *fixture) only(t *testing.T) *post.Post {
	t.Helper()
	posts, err := f.svc.List(context.Background(), storage.Filter{})
	if err != nil || len(posts) != 1 {
		t.Fatalf("posts = %v, %v", posts, err)
	}
	return posts[0]
}

func TestNonOwnerRejected(t *testing.T) {
	f := newFixture(t)
	if got := f.send(t, 99, "/draft hi"); got != "unauthorized" {
		t.Fatalf("reply = %q", got)
	}
	posts, _ := f.svc.List(context.Background(), storage.Filter{})
	if len(posts) != 0 {
		t.Fatal("non-owner created a post")
	}
	if got := f.press(t, 99, "post:cancel:x"); got != "forbidden" {
		t.Fatalf("answer = %q", got)
	}
}

func TestDraftScheduleCancel(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	a, c := filepath.Join(dir, "a b.png"), filepath.Join(dir, "c.jpg")
	for _, p := range []string{a, c} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	got := f.send(t, owner, "/draft@autopost_bot Hello <world>\nsecond line --media \""+a+"\","+c)
	if !strings.Contains(got, "draft") {
		t.Fatalf("reply = %q", got)
	}
	p := f.only(t)
	if p.Content != "Hello <world>\nsecond line" {
		t.Fatalf("content = %q", p.Content)
	}
	if len(p.Media) != 2 || p.Media[0] != a || p.Media[1] != c {
		t.Fatalf("media = %q", p.Media)
	}

	got = f.send(t, owner, "/schedule "+p.ID+" +2h")
	if !strings.Contains(got, "scheduled") {
		t.Fatalf("reply = %q", got)
	}
	p = f.only(t)
	if p.Status != post.StatusScheduled || time.Until(*p.ScheduledAt) < time.Hour {
		t.Fatalf("status=%s at=%v", p.Status, p.ScheduledAt)
	}

	if got := f.send(t, owner, "/get "+p.ID); !strings.Contains(got, "Hello &lt;world&gt;") {
		t.Fatalf("get = %q", got)
	}
	if got := f.press(t, owner, "post:cancel:"+p.ID); got != "cancelled" {
		t.Fatalf("answer = %q", got)
	}
	if got := f.send(t, owner, "/cancel "+p.ID); !strings.Contains(got, "cannot cancel") {
		t.Fatalf("reply = %q", got)
	}
}

func TestPostQueues(t *testing.T) {
	f := newFixture(t)
	if got := f.send(t, owner, "/post ship it"); !strings.Contains(got, "queued") {
		t.Fatalf("reply = %q", got)
	}
	if p := f.only(t); p.Status != post.StatusQueued {
		t.Fatalf("status = %s", p.Status)
	}
	if got := f.send(t, owner, "/list queued"); !strings.Contains(got, "ship it") {
		t.Fatalf("list = %q", got)
	}
	if got := f.send(t, owner, "/list bogus"); !strings.Contains(got, "unknown status") {
		t.Fatalf("list = %q", got)
	}
}

func TestErrorsAndUsage(t *testing.T) {
	f := newFixture(t)
	if got := f.send(t, owner, "/now missing"); !strings.Contains(got, "post not found") {
		t.Fatalf("reply = %q", got)
	}
	if got := f.send(t, owner, "/post"); !strings.Contains(got, "usage") {
		t.Fatalf("reply = %q", got)
	}
	if got := f.send(t, owner, "/schedule x tomorrow"); !strings.Contains(got, "expected RFC3339") {
		t.Fatalf("reply = %q", got)
	}
	if got := f.send(t, owner, "/frobnicate"); !strings.Contains(got, "unknown command") {
		t.Fatalf("reply = %q", got)
	}
	before := len(f.ad.sent)
	f.send(t, owner, "just chatting")
	if len(f.ad.sent) != before {
		t.Fatal("plain text answered")
	}
	if got := f.press(t, owner, "post:retry:missing"); got != "post not found" {
		t.Fatalf("answer = %q", got)
	}
}

func TestStatusPauseResume(t *testing.T) {
	f := newFixture(t)
	f.send(t, owner, "/pause")
	if got := f.send(t, owner, "/status"); !strings.Contains(got, "paused") {
		t.Fatalf("status = %q", got)
	}
	f.send(t, owner, "/resume")
	if got := f.send(t, owner, "/status"); !strings.Contains(got, "running") {
		t.Fatalf("status = %q", got)
	}
	if got := f.send(t, owner, "/help"); !strings.Contains(got, "/schedule") {
		t.Fatalf("help = %q", got)
	}
	if len(f.r.Commands()) != 13 {
		t.Fatalf("commands = %d", len(f.r.Commands()))
	}
}

func TestPostButtons(t *testing.T) {
	if b := PostButtons("x", post.StatusFailed); len(b) != 1 || b[0][0].Data != "post:retry:x" || len(b[0]) != 2 {
		t.Fatalf("failed buttons = %+v", b)
	}
	if b := PostButtons("x", post.StatusPublished); b != nil {
		t.Fatalf("published buttons = %+v", b)
	}
	if b := PostButtons("x", post.StatusPublishing); b != nil {
		t.Fatalf("publishing buttons = %+v", b)
	}
}

func TestListPaging(t *testing.T) {
	f := newFixture(t)
	for i := range 7 {
		f.send(t, owner, "/draft note "+strconv.Itoa(i))
	}
	f.send(t, owner, "/list draft --limit 3")
	f.ad.mu.Lock()
	first := f.ad.sent[len(f.ad.sent)-1]
	f.ad.mu.Unlock()
	if !strings.Contains(first.text, "page 1/3") {
		t.Fatalf("list = %q", first.text)
	}
	if len(first.buttons) != 1 || len(first.buttons[0]) != 1 || first.buttons[0][0].Data != "list:page:1.3.0" {
		t.Fatalf("buttons = %+v", first.buttons)
	}

	if got := f.press(t, owner, first.buttons[0][0].Data); got != "" {
		t.Fatalf("answer = %q", got)
	}
	f.ad.mu.Lock()
	edit := f.ad.edits[len(f.ad.edits)-1]
	f.ad.mu.Unlock()
	if !strings.Contains(edit.text, "page 2/3") || len(edit.buttons[0]) != 2 {
		t.Fatalf("edit = %q %+v", edit.text, edit.buttons)
	}

	if got := f.press(t, owner, "list:page:zz"); !strings.Contains(got, "out of date") {
		t.Fatalf("answer = %q", got)
	}
}

func TestListQueryEncoding(t *testing.T) {
	q := listQuery{statuses: []post.Status{post.StatusFailed, post.StatusDraft}, page: 2, size: 10}
	got, err := decodeListQuery(q.encode())
	if err != nil || got.page != 2 || got.size != 10 || len(got.statuses) != 2 || got.statuses[0] != post.StatusFailed {
		t.Fatalf("round trip = %+v, %v", got, err)
	}
	for _, bad := range []string{"", "1.2", "-1.2.", "1.0.", "1.2.9"} {
		if _, err := decodeListQuery(bad); err == nil {
			t.Fatalf("%q decoded", bad)
		}
	}
}
