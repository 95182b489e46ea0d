package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pomotick/internal/clock"
	"pomotick/internal/config"
	"pomotick/internal/notifier"
	"pomotick/internal/observability/debugsrv"
	"pomotick/internal/reconcile"
	"pomotick/internal/runtime/supervisor"
	"pomotick/internal/tasks"
	logx "pomotick/pkg/logx"
)

// App is the long-running daemon: the periodic tick pass, the notifier and
// config hot reload, all under one supervisor.
type App struct {
	cfgm      *config.ConfigManager
	watchable bool

	rt    *Runtime
	log   logx.Logger
	sup   *supervisor.Supervisor
	sched *reconcile.Service
	notif *notifier.Service
	dbg   *debugsrv.Service
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	clock clock.Clock
	sinks []notifier.Sink
}

// WithClock replaces the wall clock (tests).
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithSinks adds notifier sinks on top of the configured ones.
func WithSinks(s ...notifier.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// NewApp loads the config at cfgPath (defaults when the file is missing)
// and wires every component. Nothing runs until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm, found, err := LoadConfig(cfgPath, true)
	if err != nil {
		return nil, err
	}
	cfg := cfgm.Get()

	rt, err := Bootstrap(cfg, o.clock)
	if err != nil {
		return nil, err
	}
	log := rt.Log.With(logx.String("comp", "app"))
	if !found {
		log.Warn("config file not found; using defaults", logx.String("path", cfgPath))
	}

	rc, err := mapReconcileConfig(cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	sched := reconcile.NewService(rc, rt.Reconciler, rt.Log.With(logx.String("comp", "scheduler")), rt.Bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	sinks, err := buildSinks(cfg, rt)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	sinks = append(sinks, o.sinks...)
	notif := notifier.New(ncfg, rt.Log.With(logx.String("comp", "notifier")), rt.Bus, sinks...)

	a := &App{
		cfgm:      cfgm,
		watchable: found,
		rt:        rt,
		log:       log,
		sched:     sched,
		notif:     notif,
	}
	a.dbg = debugsrv.New(mapDebugConfig(cfg), rt.Log.With(logx.String("comp", "debug")), debugsrv.Probes{
		Healthy: a.healthy,
		Status:  func() any { return a.Status() },
	})
	return a, nil
}

// buildSinks creates the configured sinks. A telegram sink also becomes the
// alert forwarder of the logging service.
func buildSinks(cfg *config.Config, rt *Runtime) ([]notifier.Sink, error) {
	logOn, tg, tgOn := notifierSinks(cfg)
	var sinks []notifier.Sink
	if logOn {
		sinks = append(sinks, notifier.NewLogSink(rt.Log.With(logx.String("comp", "notify.log"))))
	}
	if tgOn {
		ts, err := notifier.NewTelegramSink(tg, rt.Log.With(logx.String("comp", "notify.telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		sinks = append(sinks, ts)
		rt.Logs.SetForwarder(ts)
		rt.Logs.Apply(mapLoggingConfig(cfg))
	}
	return sinks, nil
}

func (a *App) Tasks() *tasks.Service { return a.rt.Tasks }

func (a *App) Scheduler() *reconcile.Service { return a.sched }

func (a *App) Notifier() *notifier.Service { return a.notif }

// Debug returns the local HTTP debug server (idle unless debug.enabled).
func (a *App) Debug() *debugsrv.Service { return a.dbg }

// Status is the diagnostics view served on /status.
type Status struct {
	Scheduler  reconcile.Snapshot  `json:"scheduler"`
	Notifier   notifier.Snapshot   `json:"notifier"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
	Healthy    bool                `json:"healthy"`
}

func (a *App) Status() Status {
	st := Status{
		Scheduler: a.sched.Snapshot(),
		Notifier:  a.notif.Snapshot(),
		Healthy:   a.healthy(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.rt.Log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("timer disabled; tasks will only change on manual actions")
	}
	if a.dbg.Enabled() {
		a.dbg.Start(a.sup.Context())
	}

	if a.log.Enabled(logx.LevelDebug) {
		events, unsub := a.rt.Bus.Subscribe(128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// coalesce bursts
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})

	if a.watchable {
		a.sup.GoRestart("config.watch", a.cfgm.Watch,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return watchdogLoop(c, a.log.With(logx.String("comp", "systemd")), a.healthy)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Bool("timer", a.sched.Enabled()), logx.Bool("notifier", a.notif.Enabled()))
	return nil
}

// healthy reports whether the tick schedule is still firing.
func (a *App) healthy() bool {
	snap := a.sched.Snapshot()
	if !snap.Started || snap.Prev.IsZero() {
		return true
	}
	return time.Since(snap.Prev) < 3*snap.Interval+snap.StoreTimeout
}

// applyConfig fans a validated reload out to the live components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "logging":
			a.rt.Logs.Apply(mapLoggingConfig(newCfg))
		case "timer":
			a.applyTimer(ctx, newCfg)
		case "notifier":
			a.applyNotifier(ctx, oldCfg, newCfg)
		case "debug":
			a.dbg.Reconfigure(ctx, mapDebugConfig(newCfg))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyTimer(ctx context.Context, cfg *config.Config) {
	rc, err := mapReconcileConfig(cfg)
	if err != nil {
		a.log.Warn("invalid timer config; keeping previous", logx.Err(err))
		return
	}
	if tc, err := mapTasksConfig(cfg); err == nil {
		a.rt.Tasks.Apply(tc)
	}

	wasEnabled := a.sched.Enabled()
	a.sched.Apply(rc)
	switch {
	case wasEnabled && !rc.Enabled:
		a.log.Info("timer disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && rc.Enabled:
		a.log.Info("timer enabled via config")
		a.sched.Start(ctx)
	}
}

func (a *App) applyNotifier(ctx context.Context, oldCfg, newCfg *config.Config) {
	ncfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	oldLog, oldTG, oldOn := notifierSinks(oldCfg)
	newLog, newTG, newOn := notifierSinks(newCfg)
	if oldOn != newOn || oldTG != newTG || oldLog != newLog {
		a.log.Warn("notifier sinks changed; restart required for sink changes to take effect")
	}

	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.rt.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The scheduler goes first so its last pass can still reach the
	// notifier, which drains its queue before the supervisor is canceled.
	step("scheduler", 6*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("debug", 2*time.Second, func(c context.Context) error { a.dbg.Stop(c); return nil })
	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.rt.Close()
}
