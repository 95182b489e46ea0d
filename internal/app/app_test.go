package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pomotick/internal/config"
	"pomotick/internal/notifier"
	"pomotick/internal/tasks"
	"pomotick/internal/timer"
)

type memSink struct {
	mu   sync.Mutex
	msgs []notifier.Message
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Send(_ context.Context, msg notifier.Message) error {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	return nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const testConfig = `
logging: { level: error, console: false }
timer: { enabled: true, tick_interval: 1h, store_timeout: 1s }
storage: { driver: memory }
notifier: { enabled: true, workers: 1, queue_size: 8, rate_per_sec: 100, retry_max: 0, retry_base: 10ms, log: false }
`

func TestAppManualTransitionReachesSink(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	a, err := NewApp(writeConfig(t, testConfig), WithSinks(sink))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	task, err := a.Tasks().Create(ctx, tasks.NewTask{Title: "write tests"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := a.Tasks().Start(ctx, task.ID); err != nil {
		t.Fatalf("start task: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() == 0 {
		t.Fatalf("no notification delivered")
	}
	sink.mu.Lock()
	msg := sink.msgs[0]
	sink.mu.Unlock()
	if msg.Change == nil || msg.Change.NewStatus != timer.StatusInProgress {
		t.Fatalf("message = %+v", msg)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if snap := a.Scheduler().Snapshot(); snap.Started {
		t.Fatalf("scheduler still started after Stop")
	}
}

func TestAppDebugServerStatus(t *testing.T) {
	t.Parallel()

	a, err := NewApp(writeConfig(t, testConfig+"debug: { enabled: true, addr: \"127.0.0.1:0\" }\n"))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for a.Debug().Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("debug server did not bind")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + a.Debug().Addr() + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Healthy || !st.Scheduler.Started || !st.Notifier.Enabled {
		t.Fatalf("status = %+v", st)
	}
}

func TestNewAppMissingConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	cfgm, found, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatalf("found = true for a missing file")
	}
	if cfgm.Get().Timer.TickInterval != config.DefaultTickInterval.String() {
		t.Fatalf("defaults not committed: %+v", cfgm.Get().Timer)
	}
	if _, _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "timer: { tick_interval: 100ms }\n")
	if _, _, err := LoadConfig(path, false); err == nil || !strings.Contains(err.Error(), "tick_interval") {
		t.Fatalf("err = %v, want tick_interval error", err)
	}
}

func TestMapConfigs(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Timer.TickInterval = "30s"
	cfg.Timer.DefaultFocusMinutes = 50
	cfg.Timer.Enabled = timer.Ptr(false)

	rc, err := mapReconcileConfig(cfg)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rc.Enabled || rc.Interval != 30*time.Second || rc.Defaults.FocusMinutes != 50 || rc.Defaults.BreakMinutes != 5 {
		t.Fatalf("reconcile config = %+v", rc)
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != time.Second {
		t.Fatalf("storage config = %+v", sc)
	}

	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if nc.RetryBase != 500*time.Millisecond || nc.Workers != 2 {
		t.Fatalf("notifier config = %+v", nc)
	}

	logOn, _, tgOn := notifierSinks(&config.Config{})
	if !logOn || tgOn {
		t.Fatalf("omitted notifier section: log=%v telegram=%v", logOn, tgOn)
	}

	cfg.Storage.Driver = "postgres"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
