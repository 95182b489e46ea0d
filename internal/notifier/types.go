package notifier

import (
	"context"
	"time"

	"pomotick/internal/timer"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Message is one notification. Change is set for status-change messages.
type Message struct {
	Text     string
	Priority int
	Change   *timer.StatusChange
}

// Sink delivers messages somewhere. Send must honour ctx.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type HistoryItem struct {
	At    time.Time
	Sink  string
	Text  string
	Error string
}

type Snapshot struct {
	Enabled  bool
	QueueLen int
	QueueCap int
	Sent     uint64
	Failed   uint64
	Dropped  uint64
	Sinks    []string
	History  []HistoryItem
}
