package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/google/uuid"

	"pomotick/internal/clock"
	"pomotick/internal/eventbus"
	"pomotick/internal/storage"
	"pomotick/internal/timer"
	logx "pomotick/pkg/logx"
)

type Service struct {
	store storage.Store
	clock clock.Clock
	bus   eventbus.Bus
	log   logx.Logger

	mu     sync.RWMutex
	cfg    Config
	engine timer.Engine
}

func NewService(cfg Config, store storage.Store, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	cfg = cfg.withDefaults()
	return &Service{
		store:  store,
		clock:  clk,
		bus:    bus,
		log:    log,
		cfg:    cfg,
		engine: timer.NewEngine(cfg.Defaults),
	}
}

// Apply swaps defaults, timeouts and retry settings for later calls.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.engine = timer.NewEngine(cfg.Defaults)
	s.mu.Unlock()
}

func (s *Service) settings() (Config, timer.Engine) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.engine
}

// Create stores a new TODO task with a fresh id.
func (s *Service) Create(ctx context.Context, in NewTask) (timer.State, error) {
	if err := in.validate(); err != nil {
		return timer.State{}, err
	}
	cfg, _ := s.settings()
	st := timer.State{
		ID:                   uuid.NewString(),
		Title:                strings.TrimSpace(in.Title),
		Status:               timer.StatusTodo,
		PomodoroMinutes:      in.PomodoroMinutes,
		PomodoroBreakMinutes: in.PomodoroBreakMinutes,
		ExecutionTimeMinutes: in.ExecutionTimeMinutes,
		CreatedAt:            s.clock.Now(),
	}
	out, err := withTimeout(ctx, cfg.StoreTimeout, func(ctx context.Context) (timer.State, error) {
		return s.store.Create(ctx, st)
	})
	if err != nil {
		return timer.State{}, fmt.Errorf("create task: %w", err)
	}
	s.log.Info("task created", logx.String("task", out.ID), logx.String("title", out.Title))
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (timer.State, error) {
	if strings.TrimSpace(id) == "" {
		return timer.State{}, invalid("task id is required")
	}
	cfg, _ := s.settings()
	return withTimeout(ctx, cfg.StoreTimeout, func(ctx context.Context) (timer.State, error) {
		return s.store.Get(ctx, id)
	})
}

func (s *Service) List(ctx context.Context, f storage.ListFilter) ([]timer.State, error) {
	cfg, _ := s.settings()
	return withTimeout(ctx, cfg.StoreTimeout, func(ctx context.Context) ([]timer.State, error) {
		return s.store.List(ctx, f)
	})
}

// Transitions returns the newest status changes of a task first.
func (s *Service) Transitions(ctx context.Context, id string, limit int) ([]storage.TransitionRecord, error) {
	cfg, _ := s.settings()
	return withTimeout(ctx, cfg.StoreTimeout, func(ctx context.Context) ([]storage.TransitionRecord, error) {
		return s.store.Transitions(ctx, id, limit)
	})
}

func (s *Service) Start(ctx context.Context, id string) (timer.State, error) {
	return s.Do(ctx, id, timer.Action{Event: timer.EventStart})
}

func (s *Service) Pause(ctx context.Context, id string) (timer.State, error) {
	return s.Do(ctx, id, timer.Action{Event: timer.EventPause})
}

func (s *Service) Resume(ctx context.Context, id string) (timer.State, error) {
	return s.Do(ctx, id, timer.Action{Event: timer.EventResume})
}

func (s *Service) Finish(ctx context.Context, id string) (timer.State, error) {
	return s.Do(ctx, id, timer.Action{Event: timer.EventFinish})
}

func (s *Service) Cancel(ctx context.Context, id string) (timer.State, error) {
	return s.Do(ctx, id, timer.Action{Event: timer.EventCancel})
}

func (s *Service) Restart(ctx context.Context, id string) (timer.State, error) {
	return s.Do(ctx, id, timer.Action{Event: timer.EventRestart})
}

// Extend adds minutes to the task's target. From OVERDUE the task moves to
// IN_PAUSE so it can be resumed.
func (s *Service) Extend(ctx context.Context, id string, minutes int) (timer.State, error) {
	if minutes <= 0 {
		return timer.State{}, invalid("extension must be a positive number of minutes")
	}
	return s.Do(ctx, id, timer.Action{Event: timer.EventExtend, Minutes: minutes})
}

// Do runs one manual action with optimistic-concurrency retries.
//
// Only version conflicts are retried; each attempt re-reads the task and
// re-evaluates the transition at the current time, so a retry may be
// rejected if the task moved meanwhile. A persisted status change is
// recorded and published; the returned state is what was written.
func (s *Service) Do(ctx context.Context, id string, a timer.Action) (timer.State, error) {
	if strings.TrimSpace(id) == "" {
		return timer.State{}, invalid("task id is required")
	}
	cfg, eng := s.settings()

	var (
		permanent error
		conflicts int
		before    timer.State
		at        time.Time
	)
	r := retry.New[timer.State](retry.Config{
		MaxAttempts:   cfg.RetryAttempts,
		InitialDelay:  cfg.RetryDelay,
		BackoffPolicy: retry.BackoffExponential,
	})
	out, err := r.Do(ctx, func(ctx context.Context) (timer.State, error) {
		cur, err := withTimeout(ctx, cfg.StoreTimeout, func(ctx context.Context) (timer.State, error) {
			return s.store.Get(ctx, id)
		})
		if err != nil {
			permanent = err
			return timer.State{}, nil
		}
		now := s.clock.Now()
		next, err := eng.Apply(cur, a, now)
		if err != nil {
			permanent = err
			return timer.State{}, nil
		}
		saved, err := withTimeout(ctx, cfg.StoreTimeout, func(ctx context.Context) (timer.State, error) {
			return s.store.Update(ctx, next)
		})
		if errors.Is(err, storage.ErrConflict) {
			conflicts++
			s.log.Debug("version conflict; retrying", logx.String("task", id), logx.Int("attempt", conflicts))
			return timer.State{}, err
		}
		if err != nil {
			permanent = err
			return timer.State{}, nil
		}
		before, at = cur, now
		return saved, nil
	})
	if permanent != nil {
		return timer.State{}, fmt.Errorf("%s task %s: %w", a.Event, id, permanent)
	}
	if err != nil {
		if conflicts > 0 && ctx.Err() == nil {
			return timer.State{}, fmt.Errorf("%s task %s: %w after %d attempts", a.Event, id, ErrConflict, conflicts)
		}
		return timer.State{}, fmt.Errorf("%s task %s: %w", a.Event, id, err)
	}

	if out.Status != before.Status {
		s.record(ctx, cfg.StoreTimeout, timer.StatusChange{
			TaskID:    out.ID,
			Title:     out.Title,
			OldStatus: before.Status,
			NewStatus: out.Status,
			At:        at,
			Source:    timer.SourceManual,
			Elapsed:   out.MainElapsedSeconds,
		})
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, storeTimeout time.Duration, c timer.StatusChange) {
	_, err := withTimeout(ctx, storeTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.AppendTransition(ctx, storage.RecordFor(c))
	})
	if err != nil {
		s.log.Warn("transition history append failed", logx.String("task", c.TaskID), logx.Err(err))
	}
	s.log.Info("task status changed",
		logx.String("task", c.TaskID),
		logx.String("from", string(c.OldStatus)),
		logx.String("to", string(c.NewStatus)),
		logx.String("source", string(c.Source)),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeStatusChanged, Time: c.At, Data: c})
	}
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	t := timeout.New[T](timeout.Config{DefaultTimeout: d})
	return t.Execute(ctx, d, fn)
}
