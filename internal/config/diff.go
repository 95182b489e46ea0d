package config

import (
	"strings"

	logx "pomotick/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol.Level != nl.Level ||
		ol.Console != nl.Console ||
		ol.File.Enabled != nl.File.Enabled ||
		strings.TrimSpace(ol.File.Path) != strings.TrimSpace(nl.File.Path) ||
		ol.Alerts != nl.Alerts {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.alerts_enabled", nl.Alerts.Enabled),
		)
	}

	ot, nt := timerOrEmpty(oldCfg.Timer), timerOrEmpty(newCfg.Timer)
	if oldCfg.TimerEnabled() != newCfg.TimerEnabled() ||
		strings.TrimSpace(ot.TickInterval) != strings.TrimSpace(nt.TickInterval) ||
		strings.TrimSpace(ot.StoreTimeout) != strings.TrimSpace(nt.StoreTimeout) ||
		ot.DefaultFocusMinutes != nt.DefaultFocusMinutes ||
		ot.DefaultBreakMinutes != nt.DefaultBreakMinutes ||
		ot.HistorySize != nt.HistorySize {
		changed = append(changed, "timer")
		attrs = append(attrs,
			logx.Bool("timer.enabled", newCfg.TimerEnabled()),
			logx.String("timer.tick_interval", strings.TrimSpace(nt.TickInterval)),
			logx.Int("timer.default_focus_minutes", nt.DefaultFocusMinutes),
			logx.Int("timer.default_break_minutes", nt.DefaultBreakMinutes),
		)
	}

	// Storage is only read at startup; surface the change so the operator
	// knows a restart is needed.
	ost, nst := storageOrEmpty(oldCfg.Storage), storageOrEmpty(newCfg.Storage)
	if ost != nst {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nst.Driver),
			logx.String("storage.path", nst.Path),
			logx.Bool("storage.restart_required", true),
		)
	}

	on, nn := notifierOrEmpty(oldCfg.Notifier), notifierOrEmpty(newCfg.Notifier)
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.queue_size", nn.QueueSize),
			logx.Bool("notifier.log", nn.Log),
			logx.Bool("notifier.telegram_enabled", nn.Telegram.Enabled),
			logx.Bool("notifier.telegram_token_set", strings.TrimSpace(nn.Telegram.Token) != ""),
		)
	}

	od, nd := debugOrEmpty(oldCfg.Debug), debugOrEmpty(newCfg.Debug)
	if od != nd {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", nd.Addr),
			logx.Bool("debug.pprof", nd.Pprof),
			logx.Bool("debug.token_set", strings.TrimSpace(nd.Token) != ""),
		)
	}

	return changed, attrs
}

func timerOrEmpty(t *TimerConfig) TimerConfig {
	if t == nil {
		return TimerConfig{}
	}
	return *t
}

func storageOrEmpty(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func notifierOrEmpty(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func debugOrEmpty(d *DebugConfig) DebugConfig {
	if d == nil {
		return DebugConfig{}
	}
	return *d
}
