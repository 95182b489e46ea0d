package timer

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Event names a manual action on a task.
type Event string

const (
	EventStart   Event = evStart
	EventPause   Event = evPause
	EventResume  Event = evResume
	EventFinish  Event = evFinish
	EventCancel  Event = evCancel
	EventRestart Event = evRestart
	EventExtend  Event = evExtend
)

// Events lists the manual actions in the order the CLI shows them.
var Events = []Event{EventStart, EventPause, EventResume, EventFinish, EventCancel, EventRestart, EventExtend}

// machine states and events; statekit wants untyped names.
const (
	evStart   = "start"
	evPause   = "pause"
	evResume  = "resume"
	evFinish  = "finish"
	evCancel  = "cancel"
	evRestart = "restart"
	evExtend  = "extend"

	stTodo       = "TODO"
	stInProgress = "IN_PROGRESS"
	stInPause    = "IN_PAUSE"
	stDone       = "DONE"
	stCancelled  = "CANCELLED"
	stOverdue    = "OVERDUE"
)

type machineContext struct {
	From Status
}

// NextStatus reports where ev takes a task in status from.
//
// Extending a running or paused task keeps its status; statekit has no
// notion of an accepted self-transition, so that case is answered here.
// AUTH_PENDING belongs to another workflow and accepts no manual action.
func NextStatus(from Status, ev Event) (Status, error) {
	if ev == EventExtend && (from == StatusInProgress || from == StatusInPause) {
		return from, nil
	}
	if from == StatusAuthPending || !from.Valid() {
		return from, transitionError{event: ev, status: from}
	}

	interp, err := newInterpreter(from)
	if err != nil {
		return from, err
	}
	interp.Send(statekit.Event{Type: statekit.EventType(ev)})
	after := Status(interp.State().Value)
	if after == from {
		return from, transitionError{event: ev, status: from}
	}
	return after, nil
}

// Allowed lists the events accepted in status s.
func Allowed(s Status) []Event {
	var out []Event
	for _, ev := range Events {
		if _, err := NextStatus(s, ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

func newInterpreter(from Status) (*statekit.Interpreter[machineContext], error) {
	builder := statekit.NewMachine[machineContext]("task-timer").
		WithInitial(statekit.StateID(from)).
		WithContext(machineContext{From: from})

	builder.State(stTodo).
		On(evStart).Target(stInProgress).
		On(evCancel).Target(stCancelled).
		Done()

	builder.State(stInProgress).
		On(evPause).Target(stInPause).
		On(evFinish).Target(stDone).
		On(evCancel).Target(stCancelled).
		Done()

	builder.State(stInPause).
		On(evResume).Target(stInProgress).
		On(evFinish).Target(stDone).
		On(evCancel).Target(stCancelled).
		Done()

	builder.State(stOverdue).
		On(evFinish).Target(stDone).
		On(evCancel).Target(stCancelled).
		On(evRestart).Target(stTodo).
		On(evExtend).Target(stInPause).
		Done()

	builder.State(stDone).
		On(evRestart).Target(stTodo).
		Done()

	builder.State(stCancelled).
		On(evRestart).Target(stTodo).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build task state machine: %w", err)
	}
	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return interp, nil
}
