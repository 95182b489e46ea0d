package tasks

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pomotick/internal/clock"
	"pomotick/internal/eventbus"
	"pomotick/internal/storage"
	"pomotick/internal/timer"
	logx "pomotick/pkg/logx"
)

var t0 = time.Date(2024, 6, 14, 9, 0, 0, 0, time.UTC)

// racyStore makes the first n Updates lose against a concurrent writer.
type racyStore struct {
	storage.Store
	lose    atomic.Int32
	updates atomic.Int32
	// interfere runs before a losing Update returns; it may write the task.
	interfere func(ctx context.Context, s timer.State)
}

func (r *racyStore) Update(ctx context.Context, s timer.State) (timer.State, error) {
	r.updates.Add(1)
	if r.lose.Add(-1) >= 0 {
		if r.interfere != nil {
			r.interfere(ctx, s)
		}
		return timer.State{}, storage.ErrConflict
	}
	return r.Store.Update(ctx, s)
}

func newTestService(st storage.Store, clk clock.Clock, bus eventbus.Bus) *Service {
	return NewService(Config{
		StoreTimeout:  time.Second,
		RetryAttempts: 5,
		RetryDelay:    time.Millisecond,
	}, st, clk, bus, logx.Nop())
}

func TestCreateValidates(t *testing.T) {
	t.Parallel()

	svc := newTestService(storage.NewMemory(), clock.NewManual(t0), nil)
	cases := []struct {
		name string
		in   NewTask
	}{
		{"empty title", NewTask{Title: "  "}},
		{"long title", NewTask{Title: strings.Repeat("x", 201)}},
		{"zero pomodoro", NewTask{Title: "a", PomodoroMinutes: timer.Ptr(0)}},
		{"break without pomodoro", NewTask{Title: "a", PomodoroBreakMinutes: timer.Ptr(5)}},
		{"zero execution", NewTask{Title: "a", ExecutionTimeMinutes: timer.Ptr(0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := svc.Create(context.Background(), tc.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	svc := newTestService(storage.NewMemory(), clock.NewManual(t0), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, NewTask{Title: " write report ", PomodoroMinutes: timer.Ptr(25)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Status != timer.StatusTodo || created.Title != "write report" {
		t.Fatalf("created = %+v", created)
	}
	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != created.Version {
		t.Fatalf("version = %d, want %d", got.Version, created.Version)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestManualLifecyclePublishesChanges(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	clk := clock.NewManual(t0)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	svc := newTestService(st, clk, bus)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{Title: "t", ExecutionTimeMinutes: timer.Ptr(60)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Start(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(90 * time.Second)
	paused, err := svc.Pause(ctx, task.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	// the open interval is accrued before the transition
	if paused.MainElapsedSeconds != 90 || paused.MainStartedAt != nil {
		t.Fatalf("paused = elapsed %d started %v", paused.MainElapsedSeconds, paused.MainStartedAt)
	}
	clk.Advance(time.Hour)
	if _, err := svc.Resume(ctx, task.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	clk.Advance(30 * time.Second)
	done, err := svc.Finish(ctx, task.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != timer.StatusDone || done.MainElapsedSeconds != 120 {
		t.Fatalf("done = %s elapsed %d", done.Status, done.MainElapsedSeconds)
	}

	want := []timer.Status{timer.StatusInProgress, timer.StatusInPause, timer.StatusInProgress, timer.StatusDone}
	for i, w := range want {
		select {
		case e := <-ch:
			c, ok := e.Data.(timer.StatusChange)
			if !ok || e.Type != eventbus.TypeStatusChanged {
				t.Fatalf("event %d = %+v", i, e)
			}
			if c.NewStatus != w || c.Source != timer.SourceManual {
				t.Fatalf("event %d = %+v, want %s", i, c, w)
			}
		default:
			t.Fatalf("missing event %d", i)
		}
	}

	hist, err := svc.Transitions(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
	if len(hist) != 4 || hist[0].To != timer.StatusDone {
		t.Fatalf("history = %+v", hist)
	}
}

func TestRejectedTransitionWritesNothing(t *testing.T) {
	t.Parallel()

	st := &racyStore{Store: storage.NewMemory()}
	svc := newTestService(st, clock.NewManual(t0), nil)
	ctx := context.Background()
	task, err := svc.Create(ctx, NewTask{Title: "t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Pause(ctx, task.ID); !errors.Is(err, timer.ErrTransitionNotAllowed) {
		t.Fatalf("err = %v, want ErrTransitionNotAllowed", err)
	}
	if _, err := svc.Extend(ctx, task.ID, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if n := st.updates.Load(); n != 0 {
		t.Fatalf("updates = %d, want 0", n)
	}
}

func TestConflictIsRetriedWithFreshState(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	clk := clock.NewManual(t0)
	st := &racyStore{Store: mem}
	svc := newTestService(st, clk, nil)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{Title: "t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Start(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(40 * time.Second)

	// A tick lands between our read and our write: it accrues the running
	// interval and bumps the version.
	st.lose.Store(1)
	st.interfere = func(ctx context.Context, _ timer.State) {
		cur, err := mem.Get(ctx, task.ID)
		if err != nil {
			t.Errorf("interfere get: %v", err)
			return
		}
		ticked, _ := timer.Accrue(cur, clk.Now())
		if _, err := mem.Update(ctx, ticked); err != nil {
			t.Errorf("interfere update: %v", err)
		}
	}

	paused, err := svc.Pause(ctx, task.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := st.updates.Load(); got != 3 {
		// start + losing pause + winning pause
		t.Fatalf("updates = %d, want 3", got)
	}
	if paused.Status != timer.StatusInPause || paused.MainElapsedSeconds != 40 {
		t.Fatalf("paused = %s elapsed %d, want IN_PAUSE 40", paused.Status, paused.MainElapsedSeconds)
	}
}

func TestConflictGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	st := &racyStore{Store: storage.NewMemory()}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	svc := newTestService(st, clock.NewManual(t0), bus)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{Title: "t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	st.lose.Store(100)
	if _, err := svc.Start(ctx, task.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if got := st.updates.Load(); got != 5 {
		t.Fatalf("updates = %d, want 5 attempts", got)
	}
	select {
	case e := <-ch:
		t.Fatalf("event published for a lost write: %+v", e)
	default:
	}
	cur, _ := svc.Get(ctx, task.ID)
	if cur.Status != timer.StatusTodo {
		t.Fatalf("status = %s, want TODO", cur.Status)
	}
}

func TestExtendFromOverdue(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0)
	svc := newTestService(storage.NewMemory(), clk, nil)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{Title: "t", ExecutionTimeMinutes: timer.Ptr(1)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Start(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(61 * time.Second)
	paused, err := svc.Pause(ctx, task.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	// pausing past the target lands in OVERDUE
	if paused.Status != timer.StatusOverdue {
		t.Fatalf("status = %s, want OVERDUE", paused.Status)
	}
	ext, err := svc.Extend(ctx, task.ID, 5)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if ext.Status != timer.StatusInPause || ext.ExtraTimeMinutes != 5 {
		t.Fatalf("extended = %s extra %d", ext.Status, ext.ExtraTimeMinutes)
	}
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	svc := newTestService(storage.NewMemory(), clock.NewManual(t0), nil)
	ctx := context.Background()
	a, _ := svc.Create(ctx, NewTask{Title: "a"})
	_, _ = svc.Create(ctx, NewTask{Title: "b"})
	if _, err := svc.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	todo, err := svc.List(ctx, storage.ListFilter{Statuses: []timer.Status{timer.StatusTodo}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(todo) != 1 || todo[0].Title != "b" {
		t.Fatalf("todo = %+v", todo)
	}
	all, _ := svc.List(ctx, storage.ListFilter{})
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
}
