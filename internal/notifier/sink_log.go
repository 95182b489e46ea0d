package notifier

import (
	"context"

	logx "pomotick/pkg/logx"
)

// LogSink writes every message as a structured log line.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.String("comp", "notifier.log"))}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(_ context.Context, m Message) error {
	fields := []logx.Field{logx.Int("priority", m.Priority)}
	if c := m.Change; c != nil {
		fields = append(fields,
			logx.String("task", c.TaskID),
			logx.String("from", string(c.OldStatus)),
			logx.String("to", string(c.NewStatus)),
			logx.String("source", string(c.Source)),
		)
	}
	l.log.Info(m.Text, fields...)
	return nil
}
