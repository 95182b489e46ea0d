package app

import (
	"errors"
	"fmt"
	"io/fs"

	"pomotick/internal/clock"
	"pomotick/internal/config"
	"pomotick/internal/eventbus"
	"pomotick/internal/reconcile"
	"pomotick/internal/storage"
	"pomotick/internal/tasks"
	logx "pomotick/pkg/logx"
)

// LoadConfig reads path into a ConfigManager. A missing file is not an
// error when allowMissing is set: the defaults are committed instead and
// found is false.
func LoadConfig(path string, allowMissing bool) (cfgm *config.ConfigManager, found bool, err error) {
	cfgm = config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	switch {
	case err == nil:
		found = true
	case allowMissing && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
		cfgm.Commit(cfg)
	default:
		return nil, false, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, false, fmt.Errorf("config %s: %w", path, err)
	}
	return cfgm, found, nil
}

// Runtime holds the components shared by the daemon and one-shot commands:
// logging, the store, the event bus and the two services that mutate tasks.
type Runtime struct {
	Log   logx.Logger
	Logs  *logx.Service
	Bus   eventbus.Bus
	Store storage.Store

	Tasks      *tasks.Service
	Reconciler *reconcile.Reconciler
}

// Bootstrap builds a Runtime from cfg. Nothing is started.
func Bootstrap(cfg *config.Config, clk clock.Clock) (*Runtime, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		if errors.Is(err, storage.ErrDisabled) {
			return nil, fmt.Errorf("storage.driver=%s: a task store is required", sc.Driver)
		}
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rc, err := mapReconcileConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	tc, err := mapTasksConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	return &Runtime{
		Log:        log,
		Logs:       logSvc,
		Bus:        bus,
		Store:      store,
		Tasks:      tasks.NewService(tc, store, clk, bus, log.With(logx.String("comp", "tasks"))),
		Reconciler: reconcile.NewReconciler(rc, store, clk, bus, log.With(logx.String("comp", "reconcile"))),
	}, nil
}

// Close releases the store and flushes logging.
func (r *Runtime) Close() error {
	var err error
	if r.Store != nil {
		err = r.Store.Close()
	}
	if r.Logs != nil {
		_ = r.Logs.Close()
	}
	return err
}
