package reconcile

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"

	"pomotick/internal/clock"
	"pomotick/internal/eventbus"
	"pomotick/internal/storage"
	"pomotick/internal/timer"
	logx "pomotick/pkg/logx"
)

// inconsistentWarnEvery throttles the warning for a task that stays
// inconsistent across passes.
const inconsistentWarnEvery = 10 * time.Minute

// Reconciler runs single passes. It is safe for concurrent use, but callers
// should not overlap passes; Service enforces that.
type Reconciler struct {
	store storage.Store
	clock clock.Clock
	bus   eventbus.Bus
	log   logx.Logger

	mu           sync.Mutex
	engine       timer.Engine
	storeTimeout time.Duration

	warnMu     sync.Mutex
	lastWarned map[string]time.Time

	// tickFn replaces engine.Tick in tests.
	tickFn func(timer.State, time.Time) (timer.State, bool)
}

func NewReconciler(cfg Config, store storage.Store, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	cfg = cfg.withDefaults()
	return &Reconciler{
		store:        store,
		clock:        clk,
		bus:          bus,
		log:          log,
		engine:       timer.NewEngine(cfg.Defaults),
		storeTimeout: cfg.StoreTimeout,
		lastWarned:   map[string]time.Time{},
	}
}

// Apply swaps the engine defaults and store timeout for the next pass.
func (r *Reconciler) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	r.engine = timer.NewEngine(cfg.Defaults)
	r.storeTimeout = cfg.StoreTimeout
	r.mu.Unlock()
}

func (r *Reconciler) settings() (timer.Engine, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine, r.storeTimeout
}

// Run performs one reconciliation pass.
//
// A failed fetch returns ErrStoreUnavailable and writes nothing. A failed
// batch write also returns ErrStoreUnavailable, but whatever the store did
// persist is still recorded and published. A task whose tick panics, whose
// state is inconsistent or whose row fails to save is skipped; the rest of
// the batch still goes through. Version conflicts are reported, not retried:
// the next pass recomputes from fresh state.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	rep := Report{Started: started}
	eng, storeTimeout := r.settings()

	states, err := withTimeout(ctx, storeTimeout, r.store.FetchActive)
	if err != nil {
		rep.Took = time.Since(started)
		rep.Error = err.Error()
		return rep, fmt.Errorf("%w: fetch: %v", ErrStoreUnavailable, err)
	}
	rep.Fetched = len(states)

	tick := r.tickFn
	if tick == nil {
		tick = eng.Tick
	}
	now := r.clock.Now()
	dirty := make([]timer.State, 0, len(states))
	changes := map[string]timer.StatusChange{}
	for _, s := range states {
		if err := timer.Inspect(s); err != nil {
			rep.Skipped++
			r.warnInconsistent(s, err)
			continue
		}
		r.forgetInconsistent(s.ID)
		next, changed, err := tickOne(tick, s, now)
		if err != nil {
			rep.Skipped++
			r.log.Error("tick failed; task skipped", logx.String("task", s.ID), logx.Err(err))
			continue
		}
		if !changed {
			continue
		}
		dirty = append(dirty, next)
		if next.Status != s.Status {
			changes[s.ID] = timer.StatusChange{
				TaskID:    s.ID,
				Title:     s.Title,
				OldStatus: s.Status,
				NewStatus: next.Status,
				At:        now,
				Source:    timer.SourceTick,
				Elapsed:   next.MainElapsedSeconds,
			}
		}
	}
	rep.Changed = len(dirty)
	if len(dirty) == 0 {
		rep.Took = time.Since(started)
		return rep, nil
	}

	// res is kept by the closure: the timeout wrapper drops the result of a
	// call that overran, even when rows were already written.
	var res storage.SaveResult
	_, saveErr := withTimeout(ctx, storeTimeout, func(ctx context.Context) (struct{}, error) {
		var err error
		res, err = r.store.SaveAll(ctx, dirty)
		return struct{}{}, err
	})
	if saveErr != nil && len(res.Saved) == 0 {
		rep.Took = time.Since(started)
		rep.Error = saveErr.Error()
		return rep, fmt.Errorf("%w: save: %v", ErrStoreUnavailable, saveErr)
	}
	rep.Saved = len(res.Saved)
	rep.Conflicts = res.Conflicts
	for _, id := range res.Conflicts {
		r.log.Debug("stale write dropped; next pass recomputes", logx.String("task", id))
	}
	for id, err := range res.Failed {
		rep.Skipped++
		r.log.Error("task save failed; task skipped", logx.String("task", id), logx.Err(err))
	}

	for _, saved := range res.Saved {
		c, ok := changes[saved.ID]
		if !ok {
			continue
		}
		rep.Transitions = append(rep.Transitions, c)
		r.record(ctx, storeTimeout, c)
	}
	rep.Took = time.Since(started)
	if saveErr != nil {
		rep.Error = saveErr.Error()
		return rep, fmt.Errorf("%w: save: %v", ErrStoreUnavailable, saveErr)
	}
	return rep, nil
}

// record persists and publishes one status change. Both are best effort:
// the state itself is already saved.
func (r *Reconciler) record(ctx context.Context, storeTimeout time.Duration, c timer.StatusChange) {
	_, err := withTimeout(ctx, storeTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.store.AppendTransition(ctx, storage.RecordFor(c))
	})
	if err != nil {
		r.log.Warn("transition history append failed", logx.String("task", c.TaskID), logx.Err(err))
	}
	r.log.Info("task status changed",
		logx.String("task", c.TaskID),
		logx.String("from", string(c.OldStatus)),
		logx.String("to", string(c.NewStatus)),
		logx.Int64("elapsed_s", c.Elapsed),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeStatusChanged, Time: c.At, Data: c})
	}
}

func (r *Reconciler) warnInconsistent(s timer.State, err error) {
	now := time.Now()
	r.warnMu.Lock()
	last, seen := r.lastWarned[s.ID]
	if seen && now.Sub(last) < inconsistentWarnEvery {
		r.warnMu.Unlock()
		return
	}
	r.lastWarned[s.ID] = now
	r.warnMu.Unlock()
	r.log.Warn("task left untouched", logx.String("task", s.ID), logx.Err(err))
}

// forgetInconsistent drops the throttle entry of a task that is consistent
// again, so the map only holds tasks that are currently broken.
func (r *Reconciler) forgetInconsistent(id string) {
	r.warnMu.Lock()
	delete(r.lastWarned, id)
	r.warnMu.Unlock()
}

// tickOne isolates a single task: a panic becomes an error for that task.
func tickOne(tick func(timer.State, time.Time) (timer.State, bool), s timer.State, now time.Time) (next timer.State, changed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	next, changed = tick(s, now)
	return next, changed, nil
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	t := timeout.New[T](timeout.Config{DefaultTimeout: d})
	return t.Execute(ctx, d, fn)
}
