package timer

import "time"

// Engine applies the periodic transition rules. The zero value uses 25/5
// minute defaults.
type Engine struct {
	Defaults Defaults
}

func NewEngine(d Defaults) Engine {
	return Engine{Defaults: d.withFallback()}
}

// Tick computes the next state of one task at now.
//
// Steps run in a fixed order and each sees the result of the previous one:
// accrue, focus-window completion, break-window completion, overdue check.
// A task can therefore go focus -> break -> OVERDUE in a single call.
//
// Tick is idempotent: Tick(Tick(s, t), t) reports changed=false. Terminal and
// inconsistent states are returned as-is.
func (e Engine) Tick(s State, now time.Time) (State, bool) {
	if s.Status.IsTerminal() || Inspect(s) != nil {
		return s, false
	}
	out := s.Clone()

	changed := accrue(&out, now)
	if e.completeFocus(&out, now) {
		changed = true
	}
	if e.completeBreak(&out, now) {
		changed = true
	}
	if checkOverdue(&out, now) {
		changed = true
	}
	return out, changed
}

func (e Engine) completeFocus(s *State, now time.Time) bool {
	if s.Status != StatusInProgress || s.PomodoroUntil == nil || now.Before(*s.PomodoroUntil) {
		return false
	}
	stopClock(s, now)
	s.Status = StatusInPause
	until := now.Add(e.Defaults.brk(*s))
	s.PomodoroUntil = &until
	return true
}

func (e Engine) completeBreak(s *State, now time.Time) bool {
	if s.Status != StatusInPause || s.PomodoroUntil == nil || now.Before(*s.PomodoroUntil) {
		return false
	}
	s.Status = StatusInProgress
	start := now
	s.MainStartedAt = &start
	until := now.Add(e.Defaults.focus(*s))
	s.PomodoroUntil = &until
	return true
}

// checkOverdue flips a running or paused task whose total elapsed time
// reached its target. Shared by Tick and the manual transitions. A TODO task
// is not evaluated until it is started again.
func checkOverdue(s *State, now time.Time) bool {
	target := s.TargetSeconds()
	if target <= 0 || (s.Status != StatusInProgress && s.Status != StatusInPause) {
		return false
	}
	if Elapsed(*s, now) < target {
		return false
	}
	stopClock(s, now)
	s.PomodoroUntil = nil
	s.Status = StatusOverdue
	return true
}
