package timer

import (
	"strings"
	"time"
)

type Status string

const (
	StatusTodo        Status = "TODO"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusInPause     Status = "IN_PAUSE"
	StatusDone        Status = "DONE"
	StatusCancelled   Status = "CANCELLED"
	StatusOverdue     Status = "OVERDUE"
	StatusAuthPending Status = "AUTH_PENDING"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusTodo, StatusInProgress, StatusInPause,
	StatusDone, StatusCancelled, StatusOverdue, StatusAuthPending,
}

// ActiveStatuses are the statuses the reconciler fetches.
var ActiveStatuses = []Status{StatusTodo, StatusInProgress, StatusInPause}

// IsTerminal reports whether the engine must leave a task alone.
// AUTH_PENDING belongs to an external workflow and counts as terminal here.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusCancelled, StatusOverdue, StatusAuthPending:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus accepts any case and '-' or ' ' as separators.
func ParseStatus(raw string) (Status, bool) {
	r := strings.NewReplacer("-", "_", " ", "_")
	s := Status(strings.ToUpper(r.Replace(strings.TrimSpace(raw))))
	return s, s.Valid()
}

// State is the timer-relevant snapshot of one task.
//
// MainElapsedSeconds covers completed running intervals only; the open
// interval (MainStartedAt..now) is added by Elapsed.
type State struct {
	ID     string
	Title  string
	Status Status

	MainStartedAt      *time.Time
	MainElapsedSeconds int64

	PomodoroMinutes      *int
	PomodoroBreakMinutes *int
	PomodoroUntil        *time.Time

	ExecutionTimeMinutes *int
	ExtraTimeMinutes     int

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy; pointer fields never alias the receiver.
func (s State) Clone() State {
	cp := s
	cp.MainStartedAt = cloneTime(s.MainStartedAt)
	cp.PomodoroUntil = cloneTime(s.PomodoroUntil)
	cp.PomodoroMinutes = cloneInt(s.PomodoroMinutes)
	cp.PomodoroBreakMinutes = cloneInt(s.PomodoroBreakMinutes)
	cp.ExecutionTimeMinutes = cloneInt(s.ExecutionTimeMinutes)
	return cp
}

// Equal compares the timer-relevant fields. Bookkeeping fields (Version,
// CreatedAt, UpdatedAt) are ignored.
func (s State) Equal(o State) bool {
	return s.ID == o.ID &&
		s.Title == o.Title &&
		s.Status == o.Status &&
		s.MainElapsedSeconds == o.MainElapsedSeconds &&
		s.ExtraTimeMinutes == o.ExtraTimeMinutes &&
		timeEq(s.MainStartedAt, o.MainStartedAt) &&
		timeEq(s.PomodoroUntil, o.PomodoroUntil) &&
		intEq(s.PomodoroMinutes, o.PomodoroMinutes) &&
		intEq(s.PomodoroBreakMinutes, o.PomodoroBreakMinutes) &&
		intEq(s.ExecutionTimeMinutes, o.ExecutionTimeMinutes)
}

// Running reports whether the task is accruing time right now.
func (s State) Running() bool {
	return s.Status == StatusInProgress && s.MainStartedAt != nil
}

// TargetSeconds is the overdue threshold, 0 when no target is set.
func (s State) TargetSeconds() int64 {
	if s.ExecutionTimeMinutes == nil || *s.ExecutionTimeMinutes <= 0 {
		return 0
	}
	total := int64(*s.ExecutionTimeMinutes) + int64(max(0, s.ExtraTimeMinutes))
	return total * 60
}

// Defaults are the pomodoro lengths used when a task in automatic cycling has
// no explicit value.
type Defaults struct {
	FocusMinutes int
	BreakMinutes int
}

func DefaultDefaults() Defaults {
	return Defaults{FocusMinutes: 25, BreakMinutes: 5}
}

func (d Defaults) withFallback() Defaults {
	if d.FocusMinutes <= 0 {
		d.FocusMinutes = 25
	}
	if d.BreakMinutes <= 0 {
		d.BreakMinutes = 5
	}
	return d
}

func (d Defaults) focus(s State) time.Duration {
	d = d.withFallback()
	m := d.FocusMinutes
	if s.PomodoroMinutes != nil && *s.PomodoroMinutes > 0 {
		m = *s.PomodoroMinutes
	}
	return time.Duration(m) * time.Minute
}

func (d Defaults) brk(s State) time.Duration {
	d = d.withFallback()
	m := d.BreakMinutes
	if s.PomodoroBreakMinutes != nil && *s.PomodoroBreakMinutes > 0 {
		m = *s.PomodoroBreakMinutes
	}
	return time.Duration(m) * time.Minute
}

// Source says which path produced a status change.
type Source string

const (
	SourceTick   Source = "tick"
	SourceManual Source = "manual"
)

// StatusChange is published after a status transition has been persisted.
type StatusChange struct {
	TaskID    string    `json:"task_id"`
	Title     string    `json:"title,omitempty"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	At        time.Time `json:"at"`
	Source    Source    `json:"source"`
	Elapsed   int64     `json:"elapsed_seconds"`
}

// Ptr is a small helper for optional fields.
func Ptr[T any](v T) *T { return &v }

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func timeEq(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func intEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
