package timer

import (
	"errors"
	"slices"
	"testing"
)

func TestNextStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from Status
		ev   Event
		want Status
	}{
		{StatusTodo, EventStart, StatusInProgress},
		{StatusTodo, EventCancel, StatusCancelled},
		{StatusInProgress, EventPause, StatusInPause},
		{StatusInProgress, EventFinish, StatusDone},
		{StatusInProgress, EventExtend, StatusInProgress},
		{StatusInPause, EventResume, StatusInProgress},
		{StatusInPause, EventExtend, StatusInPause},
		{StatusOverdue, EventExtend, StatusInPause},
		{StatusOverdue, EventRestart, StatusTodo},
		{StatusDone, EventRestart, StatusTodo},
		{StatusCancelled, EventRestart, StatusTodo},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			t.Parallel()
			got, err := NextStatus(tt.from, tt.ev)
			if err != nil {
				t.Fatalf("NextStatus error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("NextStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAllowed(t *testing.T) {
	t.Parallel()
	if got := Allowed(StatusTodo); !slices.Equal(got, []Event{EventStart, EventCancel}) {
		t.Fatalf("Allowed(TODO) = %v", got)
	}
	if got := Allowed(StatusAuthPending); len(got) != 0 {
		t.Fatalf("Allowed(AUTH_PENDING) = %v, want none", got)
	}
	if got := Allowed(StatusDone); !slices.Equal(got, []Event{EventRestart}) {
		t.Fatalf("Allowed(DONE) = %v", got)
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()
	bad := []State{
		{Status: StatusInProgress},
		{Status: StatusTodo, MainStartedAt: Ptr(t0)},
		{Status: StatusInPause, MainElapsedSeconds: -1},
		{Status: StatusDone, PomodoroUntil: Ptr(t0)},
		{Status: Status("LOST")},
	}
	for _, s := range bad {
		if err := Inspect(s); err == nil {
			t.Fatalf("Inspect(%+v) = nil, want error", s)
		}
	}
	if err := Inspect(running("ok")); err != nil {
		t.Fatalf("Inspect(running) = %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	if s, ok := ParseStatus(" in-progress "); !ok || s != StatusInProgress {
		t.Fatalf("ParseStatus = %s, %v", s, ok)
	}
	if _, ok := ParseStatus("paused"); ok {
		t.Fatal("ParseStatus accepted an unknown status")
	}
}

func TestTransitionErrorListsAllowed(t *testing.T) {
	t.Parallel()
	_, err := NextStatus(StatusInPause, EventPause)
	var te interface{ Allowed() []Event }
	if !errors.As(err, &te) {
		t.Fatalf("err %v does not expose Allowed", err)
	}
	if got := te.Allowed(); !slices.Equal(got, []Event{EventResume, EventFinish, EventCancel, EventExtend}) {
		t.Fatalf("Allowed = %v", got)
	}
}
