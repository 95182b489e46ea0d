package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Timer controls the reconciliation scheduler and the pomodoro defaults.
	// If omitted, the scheduler runs with defaults.
	Timer *TimerConfig `json:"timer,omitempty"`

	Storage  *StorageConfig  `json:"storage,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Debug    *DebugConfig    `json:"debug,omitempty"`
}

// TimerConfig controls the periodic tick pass.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default true)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - tick_interval: "10s"
//   - default_focus_minutes: 25
//   - default_break_minutes: 5
//   - store_timeout: "5s"
//   - history_size: 100
type TimerConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	TickInterval string `json:"tick_interval,omitempty"`

	DefaultFocusMinutes int `json:"default_focus_minutes,omitempty"`
	DefaultBreakMinutes int `json:"default_break_minutes,omitempty"`

	StoreTimeout string `json:"store_timeout,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true
// with only the log sink.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	// Log enables the log sink (one INFO line per notification).
	Log bool `json:"log"`

	Telegram NotifierTelegram `json:"telegram"`
}

type NotifierTelegram struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id"`
}

// StorageConfig controls the task store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pomotick.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the optional local HTTP endpoint (/healthz, /status
// and optionally /debug/pprof/). Disabled when omitted.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards WARN+ lines to the telegram notifier sink.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
