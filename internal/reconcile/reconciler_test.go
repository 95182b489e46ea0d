package reconcile

import (
	"context"
	"errors"
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

// flakyStore wraps a real store and can fail or interfere on demand.
type flakyStore struct {
	storage.Store
	fetchErr   error
	saveErr    error
	saveCalls  atomic.Int32
	beforeSave func()

	// failIDs rows are reported as failed instead of written.
	failIDs map[string]bool
	// lateErr is returned after the batch has been written.
	lateErr error
}

func (f *flakyStore) FetchActive(ctx context.Context) ([]timer.State, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.Store.FetchActive(ctx)
}

func (f *flakyStore) SaveAll(ctx context.Context, states []timer.State) (storage.SaveResult, error) {
	f.saveCalls.Add(1)
	if f.beforeSave != nil {
		f.beforeSave()
	}
	if f.saveErr != nil {
		return storage.SaveResult{}, f.saveErr
	}
	keep := make([]timer.State, 0, len(states))
	failed := map[string]error{}
	for _, s := range states {
		if f.failIDs[s.ID] {
			failed[s.ID] = errors.New("constraint failed")
			continue
		}
		keep = append(keep, s)
	}
	res, err := f.Store.SaveAll(ctx, keep)
	if err != nil {
		return res, err
	}
	if len(failed) > 0 {
		res.Failed = failed
	}
	return res, f.lateErr
}

func seed(t *testing.T, st storage.Store, states ...timer.State) {
	t.Helper()
	for _, s := range states {
		if _, err := st.Create(context.Background(), s); err != nil {
			t.Fatalf("seed %s: %v", s.ID, err)
		}
	}
}

func newTestReconciler(st storage.Store, clk clock.Clock, bus eventbus.Bus) *Reconciler {
	return NewReconciler(Config{Enabled: true, StoreTimeout: time.Second}, st, clk, bus, logx.Nop())
}

func TestRunFetchFailureWritesNothing(t *testing.T) {
	t.Parallel()
	fs := &flakyStore{Store: storage.NewMemory(), fetchErr: errors.New("db down")}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	r := newTestReconciler(fs, clock.NewManual(t0), bus)
	rep, err := r.Run(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if rep.Error == "" {
		t.Fatal("report carries no error")
	}
	if fs.saveCalls.Load() != 0 {
		t.Fatal("SaveAll called after a failed fetch")
	}
	select {
	case e := <-ch:
		t.Fatalf("event published after failed fetch: %+v", e)
	default:
	}
}

func TestRunSavesOnlyChangedTasks(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	seed(t, mem,
		timer.State{ID: "running", Status: timer.StatusInProgress, MainStartedAt: timer.Ptr(t0)},
		timer.State{ID: "paused", Status: timer.StatusInPause, MainElapsedSeconds: 30},
		timer.State{ID: "todo", Status: timer.StatusTodo},
		timer.State{ID: "done", Status: timer.StatusDone, MainElapsedSeconds: 99},
	)
	fs := &flakyStore{Store: mem}
	clk := clock.NewManual(t0.Add(15 * time.Second))

	r := newTestReconciler(fs, clk, nil)
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Fetched != 3 || rep.Changed != 1 || rep.Saved != 1 {
		t.Fatalf("report = %+v", rep)
	}
	got, _ := mem.Get(context.Background(), "running")
	if got.MainElapsedSeconds != 15 || got.Version != 2 {
		t.Fatalf("running task = %+v", got)
	}
	if paused, _ := mem.Get(context.Background(), "paused"); paused.Version != 1 {
		t.Fatalf("unchanged task was rewritten: version %d", paused.Version)
	}

	// same instant again: nothing to do, nothing written
	rep, err = r.Run(context.Background())
	if err != nil || rep.Changed != 0 {
		t.Fatalf("second pass: %+v, %v", rep, err)
	}
	if fs.saveCalls.Load() != 1 {
		t.Fatalf("SaveAll calls = %d, want 1", fs.saveCalls.Load())
	}
}

func TestRunPublishesPersistedTransitions(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	seed(t, mem, timer.State{
		ID: "p", Title: "focus", Status: timer.StatusInProgress, MainStartedAt: timer.Ptr(t0),
		PomodoroMinutes: timer.Ptr(1), PomodoroBreakMinutes: timer.Ptr(1), PomodoroUntil: timer.Ptr(t0.Add(time.Minute)),
	})
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	r := newTestReconciler(mem, clock.NewManual(t0.Add(61*time.Second)), bus)
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Transitions) != 1 {
		t.Fatalf("transitions = %+v", rep.Transitions)
	}

	select {
	case e := <-ch:
		c, ok := e.Data.(timer.StatusChange)
		if e.Type != eventbus.TypeStatusChanged || !ok {
			t.Fatalf("unexpected event %+v", e)
		}
		if c.OldStatus != timer.StatusInProgress || c.NewStatus != timer.StatusInPause || c.Source != timer.SourceTick {
			t.Fatalf("change = %+v", c)
		}
		if c.Title != "focus" || c.Elapsed != 60 {
			t.Fatalf("change = %+v", c)
		}
	default:
		t.Fatal("no status change published")
	}

	hist, err := mem.Transitions(context.Background(), "p", 0)
	if err != nil || len(hist) != 1 || hist[0].To != timer.StatusInPause {
		t.Fatalf("history = %+v, %v", hist, err)
	}
}

func TestRunConflictDropsStaleWrite(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	seed(t, mem, timer.State{ID: "c", Status: timer.StatusInProgress, MainStartedAt: timer.Ptr(t0), ExecutionTimeMinutes: timer.Ptr(1)})

	fs := &flakyStore{Store: mem}
	// a manual pause lands between fetch and save
	fs.beforeSave = func() {
		cur, _ := mem.Get(context.Background(), "c")
		paused, err := timer.NewEngine(timer.DefaultDefaults()).Pause(cur, t0.Add(30*time.Second))
		if err != nil {
			t.Errorf("Pause: %v", err)
			return
		}
		if _, err := mem.Update(context.Background(), paused); err != nil {
			t.Errorf("Update: %v", err)
		}
	}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	r := newTestReconciler(fs, clock.NewManual(t0.Add(90*time.Second)), bus)
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Saved != 0 || len(rep.Conflicts) != 1 || rep.Conflicts[0] != "c" {
		t.Fatalf("report = %+v", rep)
	}
	select {
	case e := <-ch:
		t.Fatalf("conflicting change was published: %+v", e)
	default:
	}

	got, _ := mem.Get(context.Background(), "c")
	if got.Status != timer.StatusInPause || got.MainElapsedSeconds != 30 {
		t.Fatalf("manual pause overwritten: %+v", got)
	}

	// next pass recomputes from fresh state
	fs.beforeSave = nil
	rep, err = r.Run(context.Background())
	if err != nil || rep.Changed != 0 {
		t.Fatalf("follow-up pass: %+v, %v", rep, err)
	}
}

func TestRunSkipsPanickingAndInconsistentTasks(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	seed(t, mem,
		timer.State{ID: "boom", Status: timer.StatusInProgress, MainStartedAt: timer.Ptr(t0)},
		timer.State{ID: "ok", Status: timer.StatusInProgress, MainStartedAt: timer.Ptr(t0)},
		timer.State{ID: "broken", Status: timer.StatusInProgress},
	)
	r := newTestReconciler(mem, clock.NewManual(t0.Add(5*time.Second)), nil)
	eng := timer.NewEngine(timer.DefaultDefaults())
	r.tickFn = func(s timer.State, now time.Time) (timer.State, bool) {
		if s.ID == "boom" {
			panic("bad task")
		}
		return eng.Tick(s, now)
	}

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Skipped != 2 || rep.Saved != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if ok, _ := mem.Get(context.Background(), "ok"); ok.MainElapsedSeconds != 5 {
		t.Fatalf("healthy task not advanced: %+v", ok)
	}
	if broken, _ := mem.Get(context.Background(), "broken"); broken.Version != 1 {
		t.Fatalf("inconsistent task was written: %+v", broken)
	}
}

func TestRunSaveFailure(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	seed(t, mem, timer.State{ID: "s", Status: timer.StatusInProgress, MainStartedAt: timer.Ptr(t0)})
	fs := &flakyStore{Store: mem, saveErr: errors.New("disk full")}

	r := newTestReconciler(fs, clock.NewManual(t0.Add(time.Minute)), nil)
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if got, _ := mem.Get(context.Background(), "s"); got.MainElapsedSeconds != 0 {
		t.Fatalf("state written despite failure: %+v", got)
	}
}

func focusTask(id string) timer.State {
	return timer.State{
		ID: id, Title: id, Status: timer.StatusInProgress, MainStartedAt: timer.Ptr(t0),
		PomodoroMinutes: timer.Ptr(1), PomodoroBreakMinutes: timer.Ptr(1), PomodoroUntil: timer.Ptr(t0.Add(time.Minute)),
	}
}

func drain(ch <-chan eventbus.Event) map[string]bool {
	got := map[string]bool{}
	for {
		select {
		case e := <-ch:
			if c, ok := e.Data.(timer.StatusChange); ok {
				got[c.TaskID] = true
			}
		default:
			return got
		}
	}
}

func TestRunFailedRowDoesNotBlockBatch(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	seed(t, mem, focusTask("a"), focusTask("bad"), focusTask("c"))
	fs := &flakyStore{Store: mem, failIDs: map[string]bool{"bad": true}}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	r := newTestReconciler(fs, clock.NewManual(t0.Add(61*time.Second)), bus)
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Changed != 3 || rep.Saved != 2 || rep.Skipped != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if got := drain(ch); !got["a"] || !got["c"] || got["bad"] {
		t.Fatalf("published = %v, want a and c only", got)
	}
	for id, want := range map[string]timer.Status{"a": timer.StatusInPause, "bad": timer.StatusInProgress, "c": timer.StatusInPause} {
		if got, _ := mem.Get(context.Background(), id); got.Status != want {
			t.Fatalf("%s status = %s, want %s", id, got.Status, want)
		}
	}
}

func TestRunRecordsRowsWrittenBeforeSaveError(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	seed(t, mem, focusTask("a"))
	fs := &flakyStore{Store: mem, lateErr: errors.New("commit acknowledged late")}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	r := newTestReconciler(fs, clock.NewManual(t0.Add(61*time.Second)), bus)
	rep, err := r.Run(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if rep.Saved != 1 || len(rep.Transitions) != 1 || rep.Error == "" {
		t.Fatalf("report = %+v", rep)
	}
	if got := drain(ch); !got["a"] {
		t.Fatal("persisted change was not published")
	}
	if hist, _ := mem.Transitions(context.Background(), "a", 0); len(hist) != 1 {
		t.Fatalf("history = %+v", hist)
	}
}

func TestRunForgetsRecoveredInconsistentTask(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	seed(t, mem, timer.State{ID: "broken", Status: timer.StatusInProgress})
	r := newTestReconciler(mem, clock.NewManual(t0), nil)

	warned := func() int {
		r.warnMu.Lock()
		defer r.warnMu.Unlock()
		return len(r.lastWarned)
	}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if warned() != 1 {
		t.Fatalf("warned = %d, want 1", warned())
	}

	cur, _ := mem.Get(context.Background(), "broken")
	cur.Status = timer.StatusInPause
	if _, err := mem.Update(context.Background(), cur); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if warned() != 0 {
		t.Fatalf("warned = %d after recovery, want 0", warned())
	}
}
