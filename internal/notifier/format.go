package notifier

import (
	"fmt"
	"strings"
	"time"

	"pomotick/internal/timer"
)

const (
	priorityInfo  = 5
	priorityWarn  = 7
	priorityAlert = 9
)

// MessageFor renders a status change.
func MessageFor(c timer.StatusChange) Message {
	name := strings.TrimSpace(c.Title)
	if name == "" {
		name = c.TaskID
	}
	elapsed := (time.Duration(c.Elapsed) * time.Second).String()

	var text string
	prio := priorityInfo
	switch {
	case c.NewStatus == timer.StatusOverdue:
		prio = priorityWarn
		text = fmt.Sprintf("%s is OVERDUE after %s of work", name, elapsed)
	case c.Source == timer.SourceTick && c.NewStatus == timer.StatusInPause:
		text = fmt.Sprintf("Focus window over for %s. Take a break (%s worked so far)", name, elapsed)
	case c.Source == timer.SourceTick && c.NewStatus == timer.StatusInProgress:
		text = fmt.Sprintf("Break over, back to %s", name)
	default:
		text = fmt.Sprintf("%s: %s -> %s (%s)", name, c.OldStatus, c.NewStatus, elapsed)
	}
	cp := c
	return Message{Text: text, Priority: prio, Change: &cp}
}

func prefixForPriority(p int) string {
	switch {
	case p >= priorityAlert:
		return "🚨 "
	case p >= priorityWarn:
		return "⚠️ "
	case p >= priorityInfo:
		return "ℹ️ "
	default:
		return ""
	}
}
