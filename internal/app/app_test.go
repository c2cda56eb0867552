package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/s0up4200/motrix-go/internal/engine"
	"github.com/s0up4200/motrix-go/internal/registry"
	"github.com/s0up4200/motrix-go/internal/rpc"
	"github.com/s0up4200/motrix-go/internal/syncer"
	"github.com/s0up4200/motrix-go/internal/task"
	"github.com/s0up4200/motrix-go/internal/tracker"
)

// fakeAPI implements the calls the app makes; anything else panics through
// the nil embedded interface.
type fakeAPI struct {
	syncer.API

	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeAPI) has(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeAPI) failing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeAPI) GetGlobalStat(ctx context.Context) (task.GlobalStat, error) {
	return task.GlobalStat{}, f.failing()
}
func (f *fakeAPI) TellActive(ctx context.Context) ([]*task.Task, error) { return nil, f.failing() }
func (f *fakeAPI) TellWaiting(ctx context.Context, offset, num int) ([]*task.Task, error) {
	return nil, f.failing()
}
func (f *fakeAPI) TellStopped(ctx context.Context, offset, num int) ([]*task.Task, error) {
	return nil, f.failing()
}
func (f *fakeAPI) UnpauseAll(ctx context.Context) error    { return f.record("unpauseAll") }
func (f *fakeAPI) SaveSession(ctx context.Context) error   { return f.record("saveSession") }
func (f *fakeAPI) ForceShutdown(ctx context.Context) error { return f.record("forceShutdown") }
func (f *fakeAPI) ChangeGlobalOption(ctx context.Context, opts rpc.Options) error {
	return f.record("changeGlobalOption " + opts["bt-tracker"])
}

type fakeSupervisor struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	startErr error
}

func (s *fakeSupervisor) Start(ctx context.Context, opts engine.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

func (s *fakeSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.running = false
}

func (s *fakeSupervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeSupervisor) MarkUnhealthy() {}

func (s *fakeSupervisor) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

func newTestApp(cfg Config, sup Supervisor, api syncer.API) *App {
	return New(cfg, sup, api, syncer.New(registry.New(), syncer.DefaultConfig()))
}

func TestBootConnectsAndSyncs(t *testing.T) {
	api := &fakeAPI{}
	sup := &fakeSupervisor{}
	a := newTestApp(Config{
		ResumeAllOnLaunch: true,
		Trackers:          tracker.StaticSource{"udp://a", "udp://b"},
	}, sup, api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Boot(ctx); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer a.Syncer().Stop()

	if !a.Syncer().Connected() || !a.Syncer().Polling() {
		t.Fatal("syncer should be connected and polling")
	}
	if !api.has("unpauseAll") || !api.has("changeGlobalOption udp://a,udp://b") {
		t.Fatalf("launch actions missing: %v", api.calls)
	}
}

func TestBootMissingBinary(t *testing.T) {
	api := &fakeAPI{err: &rpc.TransportError{Method: "aria2.getVersion", Err: errors.New("refused")}}
	prober := proberFunc(func(ctx context.Context) (rpc.VersionInfo, error) {
		return rpc.VersionInfo{}, &rpc.TransportError{Method: "aria2.getVersion", Err: errors.New("refused")}
	})
	path := filepath.Join(t.TempDir(), "nope", "aria2c")
	a := newTestApp(Config{Engine: engine.Options{Binary: path, DataDir: t.TempDir()}},
		engine.NewSupervisor(prober), api)

	err := a.Boot(context.Background())
	var nf *engine.BinaryNotFoundError
	if !errors.As(err, &nf) || nf.Path != path {
		t.Fatalf("Boot error = %v; want BinaryNotFoundError for %s", err, path)
	}
	if a.Syncer().Connected() || a.Syncer().Available() {
		t.Fatal("rpc must not be marked available when the engine failed to start")
	}
}

type proberFunc func(ctx context.Context) (rpc.VersionInfo, error)

func (f proberFunc) GetVersion(ctx context.Context) (rpc.VersionInfo, error) { return f(ctx) }

func TestBootInProgress(t *testing.T) {
	a := newTestApp(Config{}, &fakeSupervisor{}, &fakeAPI{})
	a.booting.Store(true)
	if err := a.Boot(context.Background()); !errors.Is(err, ErrBootInProgress) {
		t.Fatalf("Boot = %v", err)
	}
}

func TestWatchdogRestartsStoppedEngine(t *testing.T) {
	sup := &fakeSupervisor{}
	a := newTestApp(Config{}, sup, &fakeAPI{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.check(ctx)
	a.wg.Wait()
	defer a.Syncer().Stop()

	starts, stops := sup.counts()
	if starts != 1 || stops != 1 {
		t.Fatalf("starts=%d stops=%d; want 1 and 1", starts, stops)
	}
	if !a.Syncer().Connected() {
		t.Fatal("syncer should be reconnected")
	}
}

func TestWatchdogLeavesHealthyEngine(t *testing.T) {
	sup := &fakeSupervisor{}
	a := newTestApp(Config{}, sup, &fakeAPI{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Boot(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Syncer().Stop()

	a.check(ctx)
	a.wg.Wait()
	if starts, stops := sup.counts(); starts != 1 || stops != 0 {
		t.Fatalf("healthy engine restarted: starts=%d stops=%d", starts, stops)
	}

	a.booting.Store(true)
	sup.Stop()
	a.check(ctx)
	a.wg.Wait()
	if starts, _ := sup.counts(); starts != 1 {
		t.Fatal("watchdog must skip while a boot is in progress")
	}
}

func TestWatchdogRestartsStalledEngine(t *testing.T) {
	api := &fakeAPI{}
	sup := &fakeSupervisor{}
	a := newTestApp(Config{StallTimeout: time.Millisecond}, sup, api)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Boot(ctx); err != nil {
		t.Fatal(err)
	}
	a.Syncer().Stop()

	api.mu.Lock()
	api.err = &rpc.TransportError{Method: "aria2.getGlobalStat", Err: errors.New("timeout")}
	api.mu.Unlock()
	if err := a.Syncer().Refresh(ctx); err == nil {
		t.Fatal("refresh should fail")
	}
	time.Sleep(5 * time.Millisecond)

	a.check(ctx)
	a.wg.Wait()
	defer a.Syncer().Stop()

	if starts, stops := sup.counts(); starts != 2 || stops != 1 {
		t.Fatalf("stalled engine not restarted: starts=%d stops=%d", starts, stops)
	}
}

func TestShutdown(t *testing.T) {
	api := &fakeAPI{}
	sup := &fakeSupervisor{}
	a := newTestApp(Config{}, sup, api)
	ctx := context.Background()

	if err := a.Boot(ctx); err != nil {
		t.Fatal(err)
	}
	a.Shutdown(ctx)

	if !api.has("saveSession") || !api.has("forceShutdown") {
		t.Fatalf("shutdown calls missing: %v", api.calls)
	}
	if a.Syncer().Polling() || a.Syncer().Connected() || sup.Running() {
		t.Fatal("everything should be stopped")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	api := &fakeAPI{}
	sup := &fakeSupervisor{}
	a := newTestApp(Config{WatchdogInterval: 10 * time.Millisecond}, sup, api)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !a.Syncer().Connected() {
		if time.Now().After(deadline) {
			t.Fatal("Run never booted the engine")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sup.Running() || !api.has("forceShutdown") {
		t.Fatal("Run should shut the engine down")
	}
}
