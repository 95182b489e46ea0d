package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pomotick/internal/timer"
)

type memoryStore struct {
	mu          sync.Mutex
	tasks       map[string]timer.State
	transitions []TransitionRecord
	closed      bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{tasks: map[string]timer.State{}}
}

func (m *memoryStore) FetchActive(ctx context.Context) ([]timer.State, error) {
	return m.List(ctx, ListFilter{Statuses: timer.ActiveStatuses})
}

func (m *memoryStore) SaveAll(ctx context.Context, states []timer.State) (SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return SaveResult{}, ErrDisabled
	}
	// the batch is applied under one lock, so only check before writing
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	var res SaveResult
	now := time.Now()
	for _, s := range states {
		saved, err := m.updateLocked(s, now)
		switch {
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
			res.Conflicts = append(res.Conflicts, s.ID)
		case err != nil:
			res.fail(s.ID, err)
		default:
			res.Saved = append(res.Saved, saved)
		}
	}
	return res, nil
}

func (m *memoryStore) Get(_ context.Context, id string) (timer.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return timer.State{}, ErrDisabled
	}
	s, ok := m.tasks[id]
	if !ok {
		return timer.State{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memoryStore) Create(_ context.Context, s timer.State) (timer.State, error) {
	if s.ID == "" {
		return timer.State{}, errors.New("task id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return timer.State{}, ErrDisabled
	}
	if _, ok := m.tasks[s.ID]; ok {
		return timer.State{}, errors.New("task already exists: " + s.ID)
	}
	now := time.Now()
	s = s.Clone()
	s.Version = 1
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.tasks[s.ID] = s
	return s.Clone(), nil
}

func (m *memoryStore) Update(_ context.Context, s timer.State) (timer.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return timer.State{}, ErrDisabled
	}
	return m.updateLocked(s, time.Now())
}

func (m *memoryStore) updateLocked(s timer.State, now time.Time) (timer.State, error) {
	cur, ok := m.tasks[s.ID]
	if !ok {
		return timer.State{}, ErrNotFound
	}
	if cur.Version != s.Version {
		return timer.State{}, ErrConflict
	}
	s = s.Clone()
	s.Version = cur.Version + 1
	s.CreatedAt = cur.CreatedAt
	s.UpdatedAt = now
	m.tasks[s.ID] = s
	return s.Clone(), nil
}

func (m *memoryStore) List(_ context.Context, f ListFilter) ([]timer.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDisabled
	}
	out := make([]timer.State, 0, len(m.tasks))
	for _, s := range m.tasks {
		if f.match(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memoryStore) AppendTransition(_ context.Context, r TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	m.transitions = append(m.transitions, r)
	return nil
}

// Transitions returns the newest records first.
func (m *memoryStore) Transitions(_ context.Context, taskID string, limit int) ([]TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDisabled
	}
	var out []TransitionRecord
	for i := len(m.transitions) - 1; i >= 0; i-- {
		r := m.transitions[i]
		if r.TaskID != taskID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
