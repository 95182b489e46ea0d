package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	DefaultTickInterval = 10 * time.Second
	DefaultStoreTimeout = 5 * time.Second
	DefaultFocusMinutes = 25
	DefaultBreakMinutes = 5
	DefaultHistorySize  = 100
	DefaultStoragePath  = "./data/pomotick.db"
	DefaultBusyTimeout  = time.Second
)

var ErrInvalid = errors.New("invalid config")

// Default returns the configuration used when no config file exists.
func Default() *Config {
	on := true
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./pomotick.log"},
			Alerts:  LoggingAlerts{MinLevel: "warn", RatePerSec: 1},
		},
		Timer: &TimerConfig{
			Enabled:             &on,
			TickInterval:        DefaultTickInterval.String(),
			DefaultFocusMinutes: DefaultFocusMinutes,
			DefaultBreakMinutes: DefaultBreakMinutes,
			StoreTimeout:        DefaultStoreTimeout.String(),
			HistorySize:         DefaultHistorySize,
		},
		Storage: &StorageConfig{
			Driver:      "sqlite",
			Path:        DefaultStoragePath,
			BusyTimeout: DefaultBusyTimeout.String(),
		},
		Notifier: &NotifierConfig{
			Enabled:    true,
			Workers:    2,
			QueueSize:  256,
			RatePerSec: 3,
			RetryMax:   2,
			RetryBase:  "500ms",
			Log:        true,
		},
	}
}

// TimerEnabled reports whether the periodic tick pass should run.
func (c *Config) TimerEnabled() bool {
	if c == nil || c.Timer == nil || c.Timer.Enabled == nil {
		return true
	}
	return *c.Timer.Enabled
}

// Validate checks field ranges and duration syntax. It returns every problem
// joined together, each wrapped with ErrInvalid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		bad("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		bad("logging.file.path is required when logging.file.enabled=true")
	}
	if cfg.Logging.Alerts.RatePerSec < 0 {
		bad("logging.alerts.rate_per_sec must be >= 0")
	}

	if t := cfg.Timer; t != nil {
		dur("timer.tick_interval", t.TickInterval)
		dur("timer.store_timeout", t.StoreTimeout)
		if d, err := ParseDurationField("timer.tick_interval", t.TickInterval); err == nil && d > 0 && d < time.Second {
			bad("timer.tick_interval must be >= 1s")
		}
		if t.DefaultFocusMinutes < 0 {
			bad("timer.default_focus_minutes must be >= 0")
		}
		if t.DefaultBreakMinutes < 0 {
			bad("timer.default_break_minutes must be >= 0")
		}
		if t.HistorySize < 0 {
			bad("timer.history_size must be >= 0")
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				bad("storage.path is required when storage.driver=sqlite")
			}
		case "memory", "mem", "none":
		default:
			bad("storage.driver: unknown driver %q", s.Driver)
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			bad("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0")
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		if n.Telegram.Enabled {
			if strings.TrimSpace(n.Telegram.Token) == "" {
				bad("notifier.telegram.token is required when telegram is enabled")
			}
			if n.Telegram.ChatID == 0 {
				bad("notifier.telegram.chat_id is required when telegram is enabled")
			}
		}
	}
	if d := cfg.Debug; d != nil && d.Enabled && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			bad("debug.addr: %v", err)
		}
	}
	if cfg.Logging.Alerts.Enabled && (cfg.Notifier == nil || !cfg.Notifier.Telegram.Enabled) {
		bad("logging.alerts requires notifier.telegram.enabled=true")
	}

	return errors.Join(errs...)
}
