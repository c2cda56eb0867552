package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/s0up4200/motrix-go/internal/registry"
	"github.com/s0up4200/motrix-go/internal/rpc"
	"github.com/s0up4200/motrix-go/internal/task"
)

func tasks(prefix string, n int, status task.Status) []*task.Task {
	out := make([]*task.Task, n)
	for i := range out {
		out[i] = &task.Task{GID: fmt.Sprintf("%s%d", prefix, i), Status: status}
	}
	return out
}

func newTestSyncer(api API) *Syncer {
	cfg := DefaultConfig()
	cfg.PageSize = 4
	s := New(registry.New(), cfg)
	if api != nil {
		s.Connect(api)
	}
	return s
}

func TestPaginationExact(t *testing.T) {
	const pageSize = 4
	tests := []struct {
		n     int
		calls int
	}{
		{0, 1},
		{pageSize - 1, 1},
		{pageSize, 2},
		{pageSize + 1, 2},
		{2 * pageSize, 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			api := &fakeAPI{waiting: tasks("w", tt.n, task.StatusWaiting)}
			s := newTestSyncer(api)
			if err := s.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			if got := len(s.Registry().Snapshot().Active); got != tt.n {
				t.Fatalf("got %d waiting tasks; want %d", got, tt.n)
			}
			if api.waitingCalls != tt.calls {
				t.Fatalf("tellWaiting called %d times; want %d", api.waitingCalls, tt.calls)
			}
		})
	}
}

func TestPaginationStopped(t *testing.T) {
	api := &fakeAPI{stopped: tasks("s", 9, task.StatusComplete)}
	s := newTestSyncer(api)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(s.Registry().Snapshot().Completed); got != 9 {
		t.Fatalf("got %d completed tasks; want 9", got)
	}
	if api.stoppedCalls != 3 {
		t.Fatalf("tellStopped called %d times; want 3", api.stoppedCalls)
	}
}

func TestFailedPageKeepsPreviousSnapshot(t *testing.T) {
	api := &fakeAPI{
		waiting: tasks("w", 2, task.StatusWaiting),
		stopped: tasks("s", 6, task.StatusComplete),
	}
	s := newTestSyncer(api)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// the second page of the stopped listing fails after waiting succeeded
	api.set(func(f *fakeAPI) {
		f.waiting = tasks("new", 3, task.StatusWaiting)
		f.stopped = tasks("s", 7, task.StatusComplete)
		f.stoppedCalls = 0
		f.stoppedErr = func(offset int) error {
			if offset > 0 {
				return &rpc.TransportError{Method: "aria2.tellStopped", Err: errors.New("connection reset")}
			}
			return nil
		}
	})
	if err := s.Refresh(ctx); !rpc.IsTransport(err) {
		t.Fatalf("Refresh error = %v; want transport error", err)
	}
	if api.stoppedCalls != 2 {
		t.Fatalf("tellStopped called %d times; want 2", api.stoppedCalls)
	}

	snap := s.Registry().Snapshot()
	if len(snap.Active) != 2 || len(snap.Completed) != 6 || len(snap.Index) != 8 {
		t.Fatalf("partial cycle leaked into snapshot: active=%d completed=%d index=%d",
			len(snap.Active), len(snap.Completed), len(snap.Index))
	}
	if _, ok := snap.Index["new0"]; ok {
		t.Fatal("waiting tasks from the failed cycle were published")
	}
	if s.Available() {
		t.Fatal("a failed page should mark the engine unavailable")
	}
}

func TestPaginationStopsOnRepeatedPage(t *testing.T) {
	full := tasks("s", 3, task.StatusComplete)
	calls := 0
	got, err := paginate(context.Background(), 3, func(ctx context.Context, offset, num int) ([]*task.Task, error) {
		calls++
		return full, nil
	})
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(got) != 3 || calls != 2 {
		t.Fatalf("got %d tasks after %d calls; want 3 after 2", len(got), calls)
	}
}

func TestPartitionAndDedup(t *testing.T) {
	api := &fakeAPI{
		active:  []*task.Task{{GID: "a", Status: task.StatusActive}, {GID: "x", Status: task.StatusActive}},
		waiting: []*task.Task{{GID: "p", Status: task.StatusPaused}},
		stopped: []*task.Task{
			{GID: "c", Status: task.StatusComplete},
			{GID: "e", Status: task.StatusError},
			{GID: "x", Status: task.StatusComplete},
		},
	}
	s := newTestSyncer(api)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	snap := s.Registry().Snapshot()
	if len(snap.Active) != 2 || len(snap.Completed) != 2 || len(snap.Stopped) != 1 {
		t.Fatalf("partition active=%d completed=%d stopped=%d", len(snap.Active), len(snap.Completed), len(snap.Stopped))
	}
	if len(snap.Index) != 5 {
		t.Fatalf("index size %d; want 5", len(snap.Index))
	}
	if snap.Index["x"].Status != task.StatusComplete {
		t.Fatal("later listing should win for duplicated gid")
	}
}

func TestTerminalEventEmittedOnce(t *testing.T) {
	api := &fakeAPI{
		waiting: []*task.Task{{GID: "a", Status: task.StatusWaiting}},
		stopped: []*task.Task{{GID: "old", Status: task.StatusComplete}},
	}
	s := newTestSyncer(api)

	var events []TerminalEvent
	s.Subscribe(EventHandlerFunc(func(ctx context.Context, ev TerminalEvent) {
		events = append(events, ev)
	}))

	ctx := context.Background()
	for _, status := range []task.Status{task.StatusWaiting, task.StatusWaiting, task.StatusComplete, task.StatusComplete} {
		api.set(func(f *fakeAPI) {
			a := &task.Task{GID: "a", Status: status, BitTorrent: &task.BitTorrent{Name: "ubuntu", HasInfo: true}}
			f.waiting, f.stopped = nil, []*task.Task{{GID: "old", Status: task.StatusComplete}}
			if status.Bucket() == task.BucketActive {
				f.waiting = []*task.Task{a}
			} else {
				f.stopped = append(f.stopped, a)
			}
		})
		if err := s.Refresh(ctx); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}

	if len(events) != 1 {
		t.Fatalf("got %d events; want 1: %+v", len(events), events)
	}
	if ev := events[0]; ev.GID != "a" || ev.Status != task.StatusComplete || ev.Name != "ubuntu" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if s.phase != phaseSteady {
		t.Fatalf("phase = %s; want steady", s.phase)
	}
}

func TestBootstrapEmitsNothing(t *testing.T) {
	api := &fakeAPI{stopped: []*task.Task{
		{GID: "c", Status: task.StatusComplete},
		{GID: "e", Status: task.StatusError},
	}}
	s := newTestSyncer(api)

	count := 0
	s.Subscribe(EventHandlerFunc(func(ctx context.Context, ev TerminalEvent) { count++ }))
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if count != 0 {
		t.Fatalf("bootstrap cycle emitted %d events", count)
	}
	if s.phase != phaseBaseline {
		t.Fatalf("phase = %s; want baseline", s.phase)
	}
}

func TestErrorAndRemovedTransitions(t *testing.T) {
	api := &fakeAPI{active: []*task.Task{{GID: "a", Status: task.StatusActive}, {GID: "b", Status: task.StatusActive}}}
	s := newTestSyncer(api)

	var got []TerminalEvent
	s.Subscribe(EventHandlerFunc(func(ctx context.Context, ev TerminalEvent) { got = append(got, ev) }))

	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	api.set(func(f *fakeAPI) {
		f.active = nil
		f.stopped = []*task.Task{
			{GID: "a", Status: task.StatusError, ErrorCode: "3", ErrorMessage: "resource not found"},
			{GID: "b", Status: task.StatusRemoved},
		}
	})
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0].GID != "a" || got[0].ErrorCode != "3" {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestIntervalAdaptation(t *testing.T) {
	cfg := DefaultConfig()

	if d := nextInterval(cfg, time.Second, 5); d != 500*time.Millisecond {
		t.Fatalf("5 active: %v", d)
	}
	if d := nextInterval(cfg, time.Second, 2); d != 800*time.Millisecond {
		t.Fatalf("2 active: %v", d)
	}
	if d := nextInterval(cfg, time.Second, 40); d != 500*time.Millisecond {
		t.Fatalf("40 active: %v", d)
	}
	if d := nextInterval(cfg, time.Second, 0); d != 1100*time.Millisecond {
		t.Fatalf("idle step: %v", d)
	}

	d := cfg.InitialInterval
	for i := 0; i < 100; i++ {
		next := nextInterval(cfg, d, 0)
		if next < d {
			t.Fatalf("idle interval decreased from %v to %v", d, next)
		}
		d = next
	}
	if d != 6*time.Second {
		t.Fatalf("idle interval settled at %v; want 6s", d)
	}
}

func TestIntervalFollowsStat(t *testing.T) {
	api := &fakeAPI{stat: task.GlobalStat{NumActive: 5}}
	s := newTestSyncer(api)
	if s.Interval() != time.Second {
		t.Fatalf("initial interval %v", s.Interval())
	}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Interval() != 500*time.Millisecond {
		t.Fatalf("interval %v; want 500ms", s.Interval())
	}
}

func TestFailureMarksUnavailable(t *testing.T) {
	api := &fakeAPI{
		stat:   task.GlobalStat{DownloadSpeed: 1000, UploadSpeed: 50, NumActive: 1},
		active: []*task.Task{{GID: "a", Status: task.StatusActive}},
	}
	s := newTestSyncer(api)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if !s.Available() {
		t.Fatal("should be available after success")
	}

	api.set(func(f *fakeAPI) { f.err = &rpc.TransportError{Method: "aria2.getGlobalStat", Err: errors.New("connection refused")} })
	if err := s.Refresh(ctx); !rpc.IsTransport(err) {
		t.Fatalf("Refresh error = %v; want transport error", err)
	}

	snap := s.Registry().Snapshot()
	if snap.Stat.DownloadSpeed != 0 || snap.Stat.UploadSpeed != 0 {
		t.Fatalf("speeds not zeroed: %+v", snap.Stat)
	}
	if len(snap.Active) != 1 {
		t.Fatal("failed cycle must keep the previous lists")
	}
	if s.Available() {
		t.Fatal("should be unavailable after failure")
	}

	// since is only recorded on the first failure
	clock = clock.Add(5 * time.Second)
	s.Refresh(ctx)
	clock = clock.Add(3*time.Second - time.Millisecond)
	if s.Stalled(8 * time.Second) {
		t.Fatal("stalled before threshold")
	}
	clock = clock.Add(time.Millisecond)
	if !s.Stalled(8 * time.Second) {
		t.Fatal("stall threshold should be inclusive")
	}

	api.set(func(f *fakeAPI) { f.err = nil })
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Stalled(0) || !s.Available() {
		t.Fatal("success should clear the stall")
	}
}

func TestNotConnected(t *testing.T) {
	s := newTestSyncer(nil)
	ctx := context.Background()

	if err := s.Refresh(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Refresh = %v", err)
	}
	if err := s.Pause(ctx, "a"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Pause = %v", err)
	}
	if _, err := s.AddURI(ctx, []string{"http://x"}, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("AddURI = %v", err)
	}
	if s.Connected() {
		t.Fatal("should not be connected")
	}
	if _, ok := s.Connection().(Disconnected); !ok {
		t.Fatal("connection should be Disconnected")
	}

	s.Connect(&fakeAPI{})
	s.Disconnect()
	if err := s.ResumeAll(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("ResumeAll after disconnect = %v", err)
	}
}

func TestActions(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSyncer(api)
	ctx := context.Background()

	if err := s.Pause(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Resume(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveRecord(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	if err := s.PauseAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.ResumeAll(ctx); err != nil {
		t.Fatal(err)
	}
	s.SaveSession(ctx)
	s.Shutdown(ctx, true)

	want := []string{
		"pause g1", "unpause g1", "forceRemove g1", "removeDownloadResult g1",
		"forcePauseAll", "unpauseAll", "saveSession", "forceShutdown",
	}
	got := api.callLog()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q; want %q", i, got[i], want[i])
		}
	}
	if s.Registry().Snapshot().Version == 0 {
		t.Fatal("actions should refresh the registry")
	}
}

func TestAddTorrentSelectsFiles(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSyncer(api)

	gid, err := s.AddTorrent(context.Background(), []byte("d4:infodee"), []int{1, 3}, rpc.Options{"dir": "/dl"})
	if err != nil || gid != "torrentgid" {
		t.Fatalf("AddTorrent = %q, %v", gid, err)
	}
	if api.lastOpts["select-file"] != "1,3" || api.lastOpts["dir"] != "/dl" {
		t.Fatalf("options = %v", api.lastOpts)
	}

	if _, err := s.AddTorrent(context.Background(), nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := api.lastOpts["select-file"]; ok {
		t.Fatal("empty selection should not set select-file")
	}
}

func TestActionErrorPropagates(t *testing.T) {
	api := &fakeAPI{err: &rpc.ProtocolError{Method: "aria2.pause", Code: 1, Message: "GID not found"}}
	s := newTestSyncer(api)

	err := s.Pause(context.Background(), "missing")
	var pe *rpc.ProtocolError
	if !errors.As(err, &pe) || pe.Code != 1 {
		t.Fatalf("Pause = %v", err)
	}
	if got := api.callLog(); len(got) != 1 {
		t.Fatalf("mutation retried: %v", got)
	}
}

func TestStartStop(t *testing.T) {
	api := &fakeAPI{active: []*task.Task{{GID: "a", Status: task.StatusActive}}}
	s := newTestSyncer(api)

	s.Start(context.Background())
	s.Start(context.Background())
	if !s.Polling() {
		t.Fatal("should be polling")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Registry().Snapshot().Version == 0 {
		if time.Now().After(deadline) {
			t.Fatal("poll loop never published")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	s.Stop()
	if s.Polling() {
		t.Fatal("should have stopped")
	}
	if _, ok := s.Registry().Get("a"); !ok {
		t.Fatal("task a not published")
	}
}
