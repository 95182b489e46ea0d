package timer

import "time"

// Accrue folds the open running interval into MainElapsedSeconds.
//
// Only whole seconds are moved; MainStartedAt advances by exactly the amount
// accrued, so a second call with the same instant is a no-op and the
// sub-second remainder stays in the open interval. While a focus window is
// active the interval is cut at PomodoroUntil: time past the end of the
// window is not focus time.
//
// Accrue never changes Status. It is the only place elapsed time grows.
func Accrue(s State, now time.Time) (State, bool) {
	out := s.Clone()
	changed := accrue(&out, now)
	return out, changed
}

func accrue(s *State, now time.Time) bool {
	if !s.Running() {
		return false
	}
	end := now
	if s.PomodoroUntil != nil && s.PomodoroUntil.Before(end) {
		end = *s.PomodoroUntil
	}
	delta := int64(end.Sub(*s.MainStartedAt) / time.Second)
	if delta < 1 {
		return false
	}
	s.MainElapsedSeconds += delta
	base := s.MainStartedAt.Add(time.Duration(delta) * time.Second)
	s.MainStartedAt = &base
	return true
}

// stopClock accrues and closes the open interval.
func stopClock(s *State, now time.Time) bool {
	changed := accrue(s, now)
	if s.MainStartedAt != nil {
		s.MainStartedAt = nil
		changed = true
	}
	return changed
}

// Elapsed is the total active time at now: completed intervals plus the
// whole seconds of the open one.
func Elapsed(s State, now time.Time) int64 {
	a, _ := Accrue(s, now)
	return a.MainElapsedSeconds
}

// Remaining is the time left before the task turns OVERDUE. ok is false when
// the task has no target.
func Remaining(s State, now time.Time) (left time.Duration, ok bool) {
	target := s.TargetSeconds()
	if target <= 0 {
		return 0, false
	}
	rest := target - Elapsed(s, now)
	if rest < 0 {
		rest = 0
	}
	return time.Duration(rest) * time.Second, true
}
