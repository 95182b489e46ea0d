package reconcile

import (
	"errors"
	"sync"
	"time"

	"pomotick/internal/timer"
)

// ErrStoreUnavailable aborts a pass. Nothing was written.
var ErrStoreUnavailable = errors.New("task store unavailable")

const (
	DefaultInterval     = 10 * time.Second
	DefaultStoreTimeout = 5 * time.Second
	DefaultHistorySize  = 100
)

// Config controls the reconcile service.
type Config struct {
	Enabled      bool
	Interval     time.Duration
	StoreTimeout time.Duration
	HistorySize  int
	Defaults     timer.Defaults
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Interval < time.Second {
		// cron.Every has second resolution
		c.Interval = time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.Defaults.FocusMinutes <= 0 || c.Defaults.BreakMinutes <= 0 {
		def := timer.DefaultDefaults()
		if c.Defaults.FocusMinutes <= 0 {
			c.Defaults.FocusMinutes = def.FocusMinutes
		}
		if c.Defaults.BreakMinutes <= 0 {
			c.Defaults.BreakMinutes = def.BreakMinutes
		}
	}
	return c
}

// Report summarizes one pass.
type Report struct {
	Started     time.Time            `json:"started"`
	Took        time.Duration        `json:"took_ns"`
	Fetched     int                  `json:"fetched"`
	Changed     int                  `json:"changed"`
	Saved       int                  `json:"saved"`
	Skipped     int                  `json:"skipped"`
	Conflicts   []string             `json:"conflicts,omitempty"`
	Transitions []timer.StatusChange `json:"transitions,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// runGate lets at most one pass run at a time.
type runGate struct {
	mu      sync.Mutex
	running bool
}

func (g *runGate) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return false
	}
	g.running = true
	return true
}

func (g *runGate) release() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

func (g *runGate) busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Snapshot is a diagnostics view of the service.
type Snapshot struct {
	Enabled        bool
	Started        bool
	InFlight       bool
	Interval       time.Duration
	StoreTimeout   time.Duration
	Next           time.Time
	Prev           time.Time
	Runs           uint64
	Failures       uint64
	OverlapSkipped uint64
	LastError      string
	History        []Report
}
