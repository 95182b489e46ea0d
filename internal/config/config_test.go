package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file: { enabled: false, path: ./pomotick.log }
  alerts: { enabled: false, min_level: warn, rate_per_sec: 1 }
timer:
  enabled: false
  tick_interval: 30s
  default_focus_minutes: 50
  default_break_minutes: 10
  store_timeout: 2s
  history_size: 20
storage: { driver: sqlite, path: ./data/pomotick.db, busy_timeout: 1s }
notifier:
  enabled: true
  workers: 2
  queue_size: 64
  rate_per_sec: 3
  retry_max: 2
  retry_base: 500ms
  log: true
  telegram: { enabled: true, token: "123:abc", chat_id: -100, thread_id: 7 }
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.TimerEnabled() {
		t.Fatalf("timer should be disabled")
	}
	if cfg.Timer.TickInterval != "30s" || cfg.Timer.DefaultFocusMinutes != 50 {
		t.Fatalf("timer = %+v", *cfg.Timer)
	}
	if cfg.Notifier.Telegram.ChatID != -100 || cfg.Notifier.Telegram.ThreadID != 7 {
		t.Fatalf("telegram = %+v", cfg.Notifier.Telegram)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDecodeJSONAndStrictness(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"minimal json", "c.json", `{"logging":{"level":"info"}}`, ""},
		{"unknown field", "c.json", `{"logging":{"level":"info"},"plugins":{}}`, "unknown field"},
		{"unknown nested yaml", "c.yml", "timer:\n  tick: 5s\n", "unknown field"},
		{"trailing data", "c.json", `{"logging":{}} {"logging":{}}`, "trailing data"},
		{"trailing garbage", "c.json", `{"logging":{}} ]`, "trailing data"},
		{"bad yaml", "c.yaml", "timer: [", "yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.file, []byte(tc.body))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
			if tc.wantErr == "trailing data" && !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.TimerEnabled() {
		t.Fatalf("timer disabled by default")
	}
	var empty Config
	if !empty.TimerEnabled() {
		t.Fatalf("omitted timer section should be enabled")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad interval", func(c *Config) { c.Timer.TickInterval = "soon" }, "timer.tick_interval"},
		{"sub-second interval", func(c *Config) { c.Timer.TickInterval = "200ms" }, ">= 1s"},
		{"negative focus", func(c *Config) { c.Timer.DefaultFocusMinutes = -1 }, "default_focus_minutes"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"telegram without token", func(c *Config) {
			c.Notifier.Telegram = NotifierTelegram{Enabled: true, ChatID: 1}
		}, "telegram.token"},
		{"alerts without telegram", func(c *Config) { c.Logging.Alerts.Enabled = true }, "logging.alerts"},
		{"negative retry", func(c *Config) { c.Notifier.RetryBase = "-1s" }, "notifier.retry_base"},
		{"debug addr without port", func(c *Config) {
			c.Debug = &DebugConfig{Enabled: true, Addr: "localhost"}
		}, "debug.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			err := Validate(cfg)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", " 750ms ", time.Second)
	if err != nil || d != 750*time.Millisecond {
		t.Fatalf("750ms: %v %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "abc", time.Second); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := Default()
	newCfg := Default()
	if changed, _ := SummarizeConfigChange(oldCfg, newCfg); len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}

	newCfg.Timer.TickInterval = "1m"
	newCfg.Notifier.Telegram.Token = "secret"
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "timer,notifier" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`{"logging":{"level":"info"},"timer":{"tick_interval":"10s"}}`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}

	m.SetValidator(func(_ context.Context, c *Config) error { return Validate(c) })
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)

	// rejected by the validator: the committed config must not change
	write(`{"logging":{"level":"loud"}}`)
	time.Sleep(600 * time.Millisecond)
	if m.Get().Logging.Level != "info" {
		t.Fatalf("invalid reload was committed")
	}

	write(`{"logging":{"level":"debug"},"timer":{"tick_interval":"20s"}}`)
	select {
	case got := <-ch:
		if got.Logging.Level != "debug" || got.Timer.TickInterval != "20s" {
			t.Fatalf("published = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("reload not committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not stop")
	}
}
