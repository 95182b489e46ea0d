package app

import (
	"fmt"
	"strings"

	"pomotick/internal/config"
	"pomotick/internal/notifier"
	"pomotick/internal/observability/debugsrv"
	"pomotick/internal/reconcile"
	"pomotick/internal/storage"
	"pomotick/internal/tasks"
	"pomotick/internal/timer"
	logx "pomotick/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    lc.Alerts.Enabled,
			MinLevel:   lc.Alerts.MinLevel,
			RatePerSec: lc.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: config.DefaultStoragePath, BusyTimeout: config.DefaultBusyTimeout}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "none", "memory", "mem":
		return storage.Config{Driver: driver}, nil
	case "", "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, config.DefaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTimerDefaults(cfg *config.Config) timer.Defaults {
	d := timer.DefaultDefaults()
	if cfg == nil || cfg.Timer == nil {
		return d
	}
	if cfg.Timer.DefaultFocusMinutes > 0 {
		d.FocusMinutes = cfg.Timer.DefaultFocusMinutes
	}
	if cfg.Timer.DefaultBreakMinutes > 0 {
		d.BreakMinutes = cfg.Timer.DefaultBreakMinutes
	}
	return d
}

func mapReconcileConfig(cfg *config.Config) (reconcile.Config, error) {
	out := reconcile.Config{
		Enabled:  cfg.TimerEnabled(),
		Defaults: mapTimerDefaults(cfg),
	}
	if cfg == nil || cfg.Timer == nil {
		return out, nil
	}
	var err error
	if out.Interval, err = config.ParseDurationOrDefault("timer.tick_interval", cfg.Timer.TickInterval, config.DefaultTickInterval); err != nil {
		return reconcile.Config{}, err
	}
	if out.StoreTimeout, err = config.ParseDurationOrDefault("timer.store_timeout", cfg.Timer.StoreTimeout, config.DefaultStoreTimeout); err != nil {
		return reconcile.Config{}, err
	}
	out.HistorySize = cfg.Timer.HistorySize
	return out, nil
}

func mapTasksConfig(cfg *config.Config) (tasks.Config, error) {
	rc, err := mapReconcileConfig(cfg)
	if err != nil {
		return tasks.Config{}, err
	}
	return tasks.Config{Defaults: rc.Defaults, StoreTimeout: rc.StoreTimeout}, nil
}

// mapNotifierConfig keeps the notifier enabled with only the log sink when
// the section is omitted.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg == nil || cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	nc := cfg.Notifier
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

// notifierSinks reports which sinks the config asks for. The log sink is on
// when the section is omitted.
func notifierSinks(cfg *config.Config) (logSink bool, tg notifier.TelegramConfig, tgOn bool) {
	if cfg == nil || cfg.Notifier == nil {
		return true, notifier.TelegramConfig{}, false
	}
	t := cfg.Notifier.Telegram
	return cfg.Notifier.Log, notifier.TelegramConfig{
		Token:    strings.TrimSpace(t.Token),
		ChatID:   t.ChatID,
		ThreadID: t.ThreadID,
	}, t.Enabled
}

// validate is installed as the hot-reload validator; it also runs at startup.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReconcileConfig(cfg); err != nil {
		return err
	}
	_, err := mapNotifierConfig(cfg)
	return err
}

func mapDebugConfig(cfg *config.Config) debugsrv.Config {
	if cfg == nil || cfg.Debug == nil {
		return debugsrv.Config{}
	}
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
	}
}
