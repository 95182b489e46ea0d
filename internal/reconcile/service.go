package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pomotick/internal/eventbus"
	logx "pomotick/pkg/logx"
)

// ErrBusy is returned by RunNow while another pass is in flight.
var ErrBusy = errors.New("reconcile pass already running")

// Service triggers Reconciler passes on a fixed interval.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus
	rec *Reconciler

	c       *cron.Cron
	entryID cron.EntryID

	gate runGate
	wg   sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc

	runs           atomic.Uint64
	failures       atomic.Uint64
	overlapSkipped atomic.Uint64

	hmu     sync.Mutex
	history []Report
	lastErr string
}

func NewService(cfg Config, rec *Reconciler, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log,
		bus: bus,
		rec: rec,
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply takes effect on the next pass. An interval change re-registers the
// cron entry in place.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.rec.Apply(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg.Interval
	s.cfg = cfg
	if s.c == nil || old == cfg.Interval {
		return
	}
	s.c.Remove(s.entryID)
	s.entryID = s.c.Schedule(cron.Every(cfg.Interval), cron.FuncJob(s.trigger))
	s.log.Info("tick interval changed", logx.Duration("from", old), logx.Duration("to", cfg.Interval))
}

// Start registers the interval and runs a first pass right away, so a
// restart catches up on whatever happened while the process was down.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	// Passes outlive the start context; Stop cancels them.
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.c = cron.New()
	s.entryID = s.c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(s.trigger))
	s.c.Start()
	go s.trigger()
	s.log.Info("service started", logx.Duration("interval", s.cfg.Interval), logx.Duration("store_timeout", s.cfg.StoreTimeout))
}

// Stop prevents new passes and waits for the one in flight, up to ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	// Once c and runCtx are cleared under mu, track refuses new passes, so
	// no wg.Add can race the Wait below.
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out; pass still in flight", logx.Err(ctx.Err()))
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// RunNow runs one pass synchronously unless one is already running. While
// the service is started, Stop waits for it like a scheduled pass.
func (s *Service) RunNow(ctx context.Context) (Report, error) {
	if !s.gate.tryAcquire() {
		return Report{}, ErrBusy
	}
	defer s.gate.release()
	if _, ok := s.track(); ok {
		defer s.wg.Done()
	}
	return s.runOnce(ctx)
}

func (s *Service) trigger() {
	if !s.gate.tryAcquire() {
		s.overlapSkipped.Add(1)
		s.log.Debug("previous pass still running; trigger skipped")
		return
	}
	defer s.gate.release()
	ctx, ok := s.track()
	if !ok {
		return
	}
	defer s.wg.Done()
	_, _ = s.runOnce(ctx)
}

// track registers a pass with wg while the service is started and returns
// the pass context. The caller must call wg.Done when ok.
func (s *Service) track() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil || s.runCtx == nil {
		return nil, false
	}
	s.wg.Add(1)
	return s.runCtx, true
}

func (s *Service) runOnce(ctx context.Context) (Report, error) {
	rep, err := s.rec.Run(ctx)
	s.runs.Add(1)
	if err != nil {
		s.failures.Add(1)
		s.log.Error("reconcile pass failed", logx.Err(err), logx.Duration("took", rep.Took))
	} else if rep.Changed > 0 || rep.Skipped > 0 || len(rep.Conflicts) > 0 {
		s.log.Debug("reconcile pass done",
			logx.Int("fetched", rep.Fetched),
			logx.Int("changed", rep.Changed),
			logx.Int("saved", rep.Saved),
			logx.Int("conflicts", len(rep.Conflicts)),
			logx.Int("skipped", rep.Skipped),
			logx.Duration("took", rep.Took),
		)
	}
	s.remember(rep)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTickCompleted, Time: rep.Started, Data: rep})
	}
	return rep, err
}

func (s *Service) remember(rep Report) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.lastErr = rep.Error
	s.history = append(s.history, rep)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	c := s.c
	id := s.entryID
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:        cfg.Enabled,
		Started:        c != nil,
		InFlight:       s.gate.busy(),
		Interval:       cfg.Interval,
		StoreTimeout:   cfg.StoreTimeout,
		Runs:           s.runs.Load(),
		Failures:       s.failures.Load(),
		OverlapSkipped: s.overlapSkipped.Load(),
	}
	if c != nil && id != 0 {
		e := c.Entry(id)
		snap.Next = e.Next
		snap.Prev = e.Prev
	}

	s.hmu.Lock()
	snap.LastError = s.lastErr
	snap.History = append([]Report(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
