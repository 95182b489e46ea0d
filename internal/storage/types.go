package storage

import (
	"context"
	"errors"
	"time"

	"pomotick/internal/timer"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("task not found")
	// ErrConflict means the stored version moved since the caller read it.
	ErrConflict = errors.New("task version conflict")
)

// Config configures storage.
//
// Driver values: "sqlite" (default) or "memory". "none" disables storage,
// which the timer cannot run without.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence contract used by the reconciler and the manual
// transition service. Returned states are copies owned by the caller.
type Store interface {
	// FetchActive returns every task in TODO, IN_PROGRESS or IN_PAUSE.
	FetchActive(ctx context.Context) ([]timer.State, error)
	// SaveAll writes each state guarded by its Version. Stale rows are
	// reported in SaveResult.Conflicts and skipped; the rest are saved.
	SaveAll(ctx context.Context, states []timer.State) (SaveResult, error)

	Get(ctx context.Context, id string) (timer.State, error)
	Create(ctx context.Context, s timer.State) (timer.State, error)
	// Update writes s if the stored version still equals s.Version and
	// returns the state with the bumped version.
	Update(ctx context.Context, s timer.State) (timer.State, error)
	List(ctx context.Context, f ListFilter) ([]timer.State, error)

	AppendTransition(ctx context.Context, r TransitionRecord) error
	Transitions(ctx context.Context, taskID string, limit int) ([]TransitionRecord, error)

	Close() error
}

// SaveResult splits a batch by outcome. Conflicts lost the version check;
// Failed rows hit any other error and were rolled back on their own.
type SaveResult struct {
	Saved     []timer.State
	Conflicts []string
	Failed    map[string]error
}

func (r *SaveResult) fail(id string, err error) {
	if r.Failed == nil {
		r.Failed = map[string]error{}
	}
	r.Failed[id] = err
}

// ListFilter selects tasks. Empty Statuses means all; Limit <= 0 means no
// limit.
type ListFilter struct {
	Statuses []timer.Status
	Limit    int
}

func (f ListFilter) match(s timer.State) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if st == s.Status {
			return true
		}
	}
	return false
}

// TransitionRecord is one persisted status change.
type TransitionRecord struct {
	ID             string
	TaskID         string
	From           timer.Status
	To             timer.Status
	Source         timer.Source
	At             time.Time
	ElapsedSeconds int64
}

// RecordFor builds the history row of a published status change.
func RecordFor(c timer.StatusChange) TransitionRecord {
	return TransitionRecord{
		TaskID:         c.TaskID,
		From:           c.OldStatus,
		To:             c.NewStatus,
		Source:         c.Source,
		At:             c.At,
		ElapsedSeconds: c.Elapsed,
	}
}
