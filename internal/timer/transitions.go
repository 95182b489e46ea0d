package timer

import "time"

// Action is one manual request. Minutes is used by EventExtend only.
type Action struct {
	Event   Event
	Minutes int
}

// Apply runs a manual action against s.
//
// The open interval is always accrued first, so no running time is lost
// across a manual change, and the overdue check runs last, the same way a
// tick would run it. On error s is returned unchanged.
func (e Engine) Apply(s State, a Action, now time.Time) (State, error) {
	if a.Event == EventExtend && a.Minutes <= 0 {
		return s, ErrInvalidExtension
	}
	next, err := NextStatus(s.Status, a.Event)
	if err != nil {
		return s, err
	}

	out := s.Clone()
	accrue(&out, now)

	switch a.Event {
	case EventStart, EventResume:
		out.Status = next
		start := now
		out.MainStartedAt = &start
		out.PomodoroUntil = nil
		if out.PomodoroMinutes != nil && *out.PomodoroMinutes > 0 {
			until := now.Add(e.Defaults.focus(out))
			out.PomodoroUntil = &until
		}
	case EventExtend:
		out.ExtraTimeMinutes += a.Minutes
		if next != out.Status {
			stopClock(&out, now)
			out.PomodoroUntil = nil
			out.Status = next
		}
	default:
		stopClock(&out, now)
		out.PomodoroUntil = nil
		out.Status = next
	}

	checkOverdue(&out, now)
	return out, nil
}

func (e Engine) Start(s State, now time.Time) (State, error) {
	return e.Apply(s, Action{Event: EventStart}, now)
}

func (e Engine) Pause(s State, now time.Time) (State, error) {
	return e.Apply(s, Action{Event: EventPause}, now)
}

func (e Engine) Resume(s State, now time.Time) (State, error) {
	return e.Apply(s, Action{Event: EventResume}, now)
}

func (e Engine) Finish(s State, now time.Time) (State, error) {
	return e.Apply(s, Action{Event: EventFinish}, now)
}

func (e Engine) Cancel(s State, now time.Time) (State, error) {
	return e.Apply(s, Action{Event: EventCancel}, now)
}

func (e Engine) Restart(s State, now time.Time) (State, error) {
	return e.Apply(s, Action{Event: EventRestart}, now)
}

// Extend raises the overdue target by minutes. An OVERDUE task comes back
// paused and waits for a manual resume.
func (e Engine) Extend(s State, minutes int, now time.Time) (State, error) {
	return e.Apply(s, Action{Event: EventExtend, Minutes: minutes}, now)
}
