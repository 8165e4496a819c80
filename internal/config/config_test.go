package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  organizer_ids: [10, 20]
logging:
  level: debug
storage:
  driver: sqlite
  path: ./meetbot.db
dispatch:
  interval: 2s
scheduler:
  enabled: true
  timezone: UTC
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.IsOrganizer(20) || cfg.IsOrganizer(30) {
		t.Fatalf("organizers = %v", cfg.Telegram.OrganizerIDs)
	}
	if cfg.Dispatch.Interval != "2s" {
		t.Fatalf("interval = %q", cfg.Dispatch.Interval)
	}
	if cfg.Dispatch.QueueSize != DefaultQueueSize {
		t.Fatalf("queue size = %d", cfg.Dispatch.QueueSize)
	}
	if cfg.Conversation.Backend != "memory" || cfg.Conversation.TTL != "30m0s" {
		t.Fatalf("conversation = %+v", cfg.Conversation)
	}
	if cfg.Scheduler.ReminderSpec != "@every 1m" || cfg.I18n.DefaultLocale != "ru" {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Scheduler, cfg.I18n)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the config")
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("location = %v", cfg.Location())
	}
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":"x"},"pprof":{}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":"x"}}{}`))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("MEETBOT_TELEGRAM_TOKEN", "env-token")
	t.Setenv("MEETBOT_ORGANIZER_IDS", "7,8")
	t.Setenv("MEETBOT_STORAGE_DRIVER", "postgres")
	t.Setenv("MEETBOT_STORAGE_DSN", "postgres://bot@localhost/meetbot")

	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OrganizerIDs) != 2 || cfg.Telegram.OrganizerIDs[0] != 7 {
		t.Fatalf("organizers = %v", cfg.Telegram.OrganizerIDs)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestEnvRejectsBadList(t *testing.T) {
	t.Setenv("MEETBOT_ORGANIZER_IDS", "seven")
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("MEETBOT_TEST_DOTENV=yes\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEETBOT_TEST_DOTENV", "")
	os.Unsetenv("MEETBOT_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("MEETBOT_TEST_DOTENV"); got != "yes" {
		t.Fatalf("MEETBOT_TEST_DOTENV = %q", got)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: "t"}}
		applyDefaults(c)
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "token", mutate: func(c *Config) { c.Telegram.Token = " " }, want: "telegram.token"},
		{name: "level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "driver", mutate: func(c *Config) { c.Storage.Driver = "mysql" }, want: "storage.driver"},
		{name: "dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, want: "storage.dsn"},
		{name: "interval", mutate: func(c *Config) { c.Dispatch.Interval = "0s" }, want: "dispatch.interval"},
		{name: "duration", mutate: func(c *Config) { c.Conversation.TTL = "soon" }, want: "conversation.ttl"},
		{name: "backend", mutate: func(c *Config) { c.Conversation.Backend = "redis" }, want: "conversation.backend"},
		{name: "timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, want: "scheduler.timezone"},
		{name: "chat", mutate: func(c *Config) { c.Logging.Chat.Enabled = true }, want: "logging.chat.chat_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestReloadPublishesChangesOnly(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file must not publish")
	}

	updated := strings.Replace(sampleYAML, "interval: 2s", "interval: 3s", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.reload(context.Background()) {
		t.Fatal("changed file must publish")
	}
	select {
	case cfg := <-ch:
		if cfg.Dispatch.Interval != "3s" {
			t.Fatalf("interval = %q", cfg.Dispatch.Interval)
		}
	default:
		t.Fatal("no config published")
	}

	broken := strings.Replace(sampleYAML, "interval: 2s", "interval: -1s", 1)
	if err := os.WriteFile(path, []byte(broken), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(context.Background()) {
		t.Fatal("invalid config must not publish")
	}
	if m.Get().Dispatch.Interval != "3s" {
		t.Fatalf("committed interval = %q", m.Get().Dispatch.Interval)
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("unused.yaml")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("slow subscriber must receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after Unsubscribe")
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "old"}, Storage: StorageConfig{DSN: "postgres://secret"}}
	b := &Config{Telegram: TelegramConfig{Token: "new"}, Storage: StorageConfig{DSN: "postgres://other"}}
	sections, _ := SummarizeChange(a, b)
	if strings.Join(sections, ",") != "telegram,storage" {
		t.Fatalf("sections = %v", sections)
	}
	if got := RequiresRestart(a, b); len(got) != 2 {
		t.Fatalf("restart sections = %v", got)
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Second); d != time.Second {
		t.Fatalf("default = %v", d)
	}
}
