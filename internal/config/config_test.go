package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	logx "autopost/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/autopost.db
orchestrator:
  tick_interval: 2s
  publish_timeout: 90s
  min_post_interval: 15m
  interval_jitter: 0.1
retry:
  base: 30s
  max_attempts: 4
publisher:
  driver: exec
  command: node
  args: [helper.js]
media:
  max_files: 4
  allowed_kinds: [image, video]
telegram:
  enabled: true
  owner_user_ids: [42]
  notify_chat: -100123
notify:
  enabled: true
  events: [published, failed]
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("autopost.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Retry.MaxAttempts != 4 || cfg.Telegram.NotifyChat != -100123 {
		t.Fatalf("unexpected decode: %+v", cfg)
	}
	if cfg.Orchestrator.IntervalJitter == nil || *cfg.Orchestrator.IntervalJitter != 0.1 {
		t.Fatalf("interval_jitter = %v", cfg.Orchestrator.IntervalJitter)
	}
	if !slices.Equal(cfg.Publisher.Args, []string{"helper.js"}) {
		t.Fatalf("args = %v", cfg.Publisher.Args)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.yaml", []byte("storage:\n  drvier: file\n")); err == nil {
		t.Fatal("unknown yaml key accepted")
	}
	if _, err := Decode("c.json", []byte(`{"logging":{"level":"info"}} {}`)); err == nil {
		t.Fatal("trailing json accepted")
	}
	cfg, err := Decode("c.yml", nil)
	if err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("zero config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	jitter := 1.5
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bad duration", Config{Orchestrator: OrchestratorConfig{TickInterval: "soon"}}, "orchestrator.tick_interval"},
		{"negative duration", Config{Retry: RetryConfig{Base: "-1s"}}, "retry.base"},
		{"jitter", Config{Orchestrator: OrchestratorConfig{IntervalJitter: &jitter}}, "interval_jitter"},
		{"sqlite path", Config{Storage: StorageConfig{Driver: "sqlite"}}, "storage.path"},
		{"postgres dsn", Config{Storage: StorageConfig{Driver: "postgres"}}, "storage.dsn"},
		{"unknown driver", Config{Storage: StorageConfig{Driver: "floppy"}}, "storage.driver"},
		{"exec command", Config{Publisher: PublisherConfig{Driver: "exec"}}, "publisher.command"},
		{"owners", Config{Telegram: TelegramConfig{Enabled: true}}, "owner_user_ids"},
		{"notify chat", Config{Notify: NotifyConfig{Enabled: true}}, "notify_chat"},
		{"media kind", Config{Media: MediaConfig{AllowedKinds: []string{"gif"}}}, "allowed_kinds"},
		{"notify event", Config{Notify: NotifyConfig{Events: []string{"everything"}}}, "notify.events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "1m", 5*time.Second)
	if err != nil || d != time.Minute {
		t.Fatalf("1m: %v %v", d, err)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "old-secret"}, Storage: StorageConfig{Driver: "postgres", DSN: "postgres://u:pw@h/db"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "new-secret"}, Storage: StorageConfig{Driver: "postgres", DSN: "postgres://u:pw2@h/db"}, Retry: RetryConfig{MaxAttempts: 5}}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if !slices.Equal(sections, []string{"storage", "retry", "telegram"}) {
		t.Fatalf("sections = %v", sections)
	}
	var buf strings.Builder
	logx.NewWriter(&buf, "debug").Info("diff", attrs...)
	out := buf.String()
	if strings.Contains(out, "secret") || strings.Contains(out, "pw2") {
		t.Fatalf("secret leaked into summary: %s", out)
	}
	if got := RestartRequired(oldCfg, newCfg); !slices.Equal(got, []string{"storage", "telegram"}) {
		t.Fatalf("RestartRequired = %v", got)
	}
	owners := &Config{Telegram: TelegramConfig{Token: "old-secret", OwnerUserIDs: []int64{7}}}
	if got := RestartRequired(oldCfg, owners); slices.Contains(got, "telegram") {
		t.Fatalf("owner change needs no restart: %v", got)
	}
}

func TestManagerWatchReloads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "autopost.yaml")
	if err := os.WriteFile(path, []byte("retry:\n  max_attempts: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path, logx.Nop())
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and never published.
	if err := os.WriteFile(path, []byte("retry:\n  max_attempts: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	select {
	case c := <-sub:
		t.Fatalf("invalid config published: %+v", c.Retry)
	default:
	}

	if err := os.WriteFile(path, []byte("retry:\n  max_attempts: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-sub:
		if c.Retry.MaxAttempts != 7 {
			t.Fatalf("published max_attempts = %d", c.Retry.MaxAttempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}
	if m.Get().Retry.MaxAttempts != 7 {
		t.Fatal("reload not committed")
	}
	cancel()
	<-done
}
