package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"autopost/internal/post"
	logx "autopost/pkg/logx"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func tp(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

func samplePosts() []*post.Post {
	return []*post.Post{
		{
			ID: "published", Content: "Hello", Media: []string{"/tmp/a.png", "/tmp/b.jpg"},
			Status: post.StatusPublished, Attempts: 2, RetryFrom: 0,
			LastError:    &post.ErrorInfo{Kind: "transient-network", Message: "reset", At: t0.Add(time.Minute)},
			PublishedRef: "https://example.test/1",
			CreatedAt:    t0, UpdatedAt: t0.Add(3 * time.Minute), PublishedAt: tp(3 * time.Minute),
			History: []post.HistoryEntry{
				{At: t0, Status: post.StatusQueued},
				{At: t0.Add(time.Second), Status: post.StatusPublishing},
				{At: t0.Add(time.Minute), Status: post.StatusFailed, Note: "reset"},
				{At: t0.Add(3 * time.Minute), Status: post.StatusPublished},
			},
		},
		{ID: "queued", Content: "q", Status: post.StatusQueued, CreatedAt: t0.Add(2 * time.Minute), UpdatedAt: t0.Add(2 * time.Minute),
			History: []post.HistoryEntry{{At: t0, Status: post.StatusQueued}}},
		{ID: "due", Content: "d", Status: post.StatusScheduled, ScheduledAt: tp(time.Minute), CreatedAt: t0.Add(5 * time.Minute), UpdatedAt: t0,
			History: []post.HistoryEntry{{At: t0, Status: post.StatusScheduled}}},
		{ID: "later", Content: "l", Status: post.StatusScheduled, ScheduledAt: tp(time.Hour), CreatedAt: t0, UpdatedAt: t0,
			History: []post.HistoryEntry{{At: t0, Status: post.StatusScheduled}}},
		{ID: "draft", Content: "draft", Status: post.StatusDraft, CreatedAt: t0.Add(time.Second), UpdatedAt: t0.Add(time.Second)},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func ids(ps []*post.Post) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// exerciseStore runs the common contract against a fresh store.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for _, p := range samplePosts() {
		if err := s.Put(ctx, p); err != nil {
			t.Fatalf("Put %s: %v", p.ID, err)
		}
	}

	for _, want := range samplePosts() {
		got, err := s.Get(ctx, want.ID)
		if err != nil {
			t.Fatalf("Get %s: %v", want.ID, err)
		}
		if mustJSON(t, got) != mustJSON(t, want) {
			t.Fatalf("round trip %s:\n got %s\nwant %s", want.ID, mustJSON(t, got), mustJSON(t, want))
		}
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: err = %v", err)
	}

	due, err := s.Due(ctx, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids(due), []string{"due", "queued"}; !equalIDs(got, want) {
		t.Fatalf("Due = %v, want %v", got, want)
	}

	list, err := s.List(ctx, Filter{Statuses: []post.Status{post.StatusScheduled, post.StatusDraft}})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids(list), []string{"draft", "due", "later"}; !equalIDs(got, want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	all, err := s.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("List limit: got %d", len(all))
	}

	// Updates replace the record.
	p, _ := s.Get(ctx, "due")
	if err := p.Transition(post.StatusPublishing, t0.Add(10*time.Minute), "", nil); err != nil {
		t.Fatal(err)
	}
	p.Attempts++
	if err := s.Put(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "due")
	if got.Status != post.StatusPublishing || got.ScheduledAt != nil || got.Attempts != 1 || len(got.History) != 2 {
		t.Fatalf("update not persisted: %+v", got)
	}

	if err := s.Delete(ctx, "draft"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "draft"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: err = %v", err)
	}
	if err := s.AppendAudit(ctx, AuditEntry{Actor: "test", Action: "create", PostID: "queued", OK: true}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()
	p := &post.Post{ID: "x", Status: post.StatusDraft, Media: []string{"a"}}
	_ = s.Put(ctx, p)
	p.Media[0] = "mutated"
	got, _ := s.Get(ctx, "x")
	got.Status = post.StatusQueued
	again, _ := s.Get(ctx, "x")
	if again.Media[0] != "a" || again.Status != post.StatusDraft {
		t.Fatalf("store shares memory with callers: %+v", again)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state", "autopost.json")
	cfg := Config{Driver: "file", Path: path}

	s, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	ctx := context.Background()
	if _, err := s2.Get(ctx, "draft"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted post came back: %v", err)
	}
	got, err := s2.Get(ctx, "published")
	if err != nil {
		t.Fatal(err)
	}
	if mustJSON(t, got) != mustJSON(t, samplePosts()[0]) {
		t.Fatalf("reopen changed post: %s", mustJSON(t, got))
	}
	p, _ := s2.Get(ctx, "due")
	if p.Status != post.StatusPublishing {
		t.Fatalf("journaled update lost: %s", p.Status)
	}
}

func TestFileStoreSkipsTornJournalLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "db.json")
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, samplePosts()[1]); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	f, err := os.OpenFile(filepath.Join(dir, "db.posts.journal.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"op":"put","id":"half`)
	_ = f.Close()

	s2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if _, err := s2.Get(ctx, "queued"); err != nil {
		t.Fatalf("intact record lost: %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "autopost.db")
	s, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
	_ = s.Close()

	s2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.Get(context.Background(), "published")
	if err != nil {
		t.Fatal(err)
	}
	if mustJSON(t, got) != mustJSON(t, samplePosts()[0]) {
		t.Fatalf("reopen changed post: %s", mustJSON(t, got))
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("AUTOPOST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUTOPOST_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	for _, p := range samplePosts() {
		_ = s.Delete(ctx, p.ID)
	}
	exerciseStore(t, s)
}

func TestRebind(t *testing.T) {
	t.Parallel()
	s := &sqlStore{numbered: true}
	if got := s.rebind(`a = ? AND b IN (?,?)`); got != `a = $1 AND b IN ($2,$3)` {
		t.Fatalf("rebind = %q", got)
	}
	s.numbered = false
	if got := s.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("rebind = %q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "floppy"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file without path should fail")
	}
}

func TestSQLiteStoreNormalizesZones(t *testing.T) {
	t.Parallel()
	s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "zones.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	cest := time.FixedZone("CEST", 2*60*60)
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, cest)
	in := &post.Post{
		ID: "zoned", Content: "z", Status: post.StatusFailed, Attempts: 1,
		LastError: &post.ErrorInfo{Kind: "transient-network", Message: "reset", At: at},
		CreatedAt: at, UpdatedAt: at,
		History: []post.HistoryEntry{{At: at, Status: post.StatusDraft}, {At: at, Status: post.StatusFailed}},
	}
	if err := s.Put(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(context.Background(), "zoned")
	if err != nil {
		t.Fatal(err)
	}
	times := []time.Time{got.CreatedAt, got.UpdatedAt, got.LastError.At}
	for _, h := range got.History {
		times = append(times, h.At)
	}
	for i, ts := range times {
		if ts.Location() != time.UTC || !ts.Equal(at) {
			t.Fatalf("time %d = %v, want %v in UTC", i, ts, at.UTC())
		}
	}
}
