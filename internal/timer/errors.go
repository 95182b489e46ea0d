package timer

import (
	"errors"
	"fmt"
)

var (
	// ErrInconsistent marks a contradictory field combination. The engine
	// leaves such tasks untouched; callers log it as a warning.
	ErrInconsistent = errors.New("task timer state inconsistent")

	ErrTransitionNotAllowed = errors.New("transition not allowed")
	ErrInvalidExtension     = errors.New("extension minutes must be > 0")
)

type transitionError struct {
	event  Event
	status Status
}

func (e transitionError) Error() string {
	return fmt.Sprintf("the action %q is not allowed while the task is %s", string(e.event), e.status)
}

func (e transitionError) Unwrap() error { return ErrTransitionNotAllowed }

// Allowed lists the actions the task's status does accept.
func (e transitionError) Allowed() []Event { return Allowed(e.status) }

// Inspect reports field combinations that violate the data model invariants.
// It never repairs anything.
func Inspect(s State) error {
	switch {
	case s.Status == StatusInProgress && s.MainStartedAt == nil:
		return fmt.Errorf("%w: %s without main_started_at", ErrInconsistent, s.Status)
	case s.Status != StatusInProgress && s.MainStartedAt != nil:
		return fmt.Errorf("%w: main_started_at set while %s", ErrInconsistent, s.Status)
	case s.MainElapsedSeconds < 0:
		return fmt.Errorf("%w: negative main_elapsed_seconds %d", ErrInconsistent, s.MainElapsedSeconds)
	case s.Status.IsTerminal() && s.PomodoroUntil != nil:
		return fmt.Errorf("%w: pomodoro_until set while %s", ErrInconsistent, s.Status)
	case !s.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInconsistent, string(s.Status))
	}
	return nil
}
