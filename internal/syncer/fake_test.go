package syncer

import (
	"context"
	"sync"

	"github.com/s0up4200/motrix-go/internal/rpc"
	"github.com/s0up4200/motrix-go/internal/task"
)

// fakeAPI serves canned lists and records the calls made against it.
type fakeAPI struct {
	mu sync.Mutex

	stat    task.GlobalStat
	active  []*task.Task
	waiting []*task.Task
	stopped []*task.Task
	err     error

	// stoppedErr, when set, can fail tellStopped for a given offset
	stoppedErr func(offset int) error

	waitingCalls int
	stoppedCalls int
	calls        []string
	lastOpts     rpc.Options
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeAPI) GetGlobalStat(ctx context.Context) (task.GlobalStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stat, f.err
}

func (f *fakeAPI) TellActive(ctx context.Context) ([]*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.err
}

func page(list []*task.Task, offset, num int) []*task.Task {
	if offset >= len(list) {
		return nil
	}
	end := offset + num
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end]
}

func (f *fakeAPI) TellWaiting(ctx context.Context, offset, num int) ([]*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitingCalls++
	return page(f.waiting, offset, num), f.err
}

func (f *fakeAPI) TellStopped(ctx context.Context, offset, num int) ([]*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stoppedCalls++
	if f.stoppedErr != nil {
		if err := f.stoppedErr(offset); err != nil {
			return nil, err
		}
	}
	return page(f.stopped, offset, num), f.err
}

func (f *fakeAPI) AddURI(ctx context.Context, uris []string, opts rpc.Options) (string, error) {
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	return "newgid", f.record("addUri")
}

func (f *fakeAPI) AddTorrent(ctx context.Context, torrent []byte, uris []string, opts rpc.Options) (string, error) {
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	return "torrentgid", f.record("addTorrent")
}

func (f *fakeAPI) Pause(ctx context.Context, gid string) error   { return f.record("pause " + gid) }
func (f *fakeAPI) Unpause(ctx context.Context, gid string) error { return f.record("unpause " + gid) }
func (f *fakeAPI) ForcePauseAll(ctx context.Context) error       { return f.record("forcePauseAll") }
func (f *fakeAPI) UnpauseAll(ctx context.Context) error          { return f.record("unpauseAll") }
func (f *fakeAPI) ForceRemove(ctx context.Context, gid string) error {
	return f.record("forceRemove " + gid)
}
func (f *fakeAPI) RemoveDownloadResult(ctx context.Context, gid string) error {
	return f.record("removeDownloadResult " + gid)
}
func (f *fakeAPI) SaveSession(ctx context.Context) error   { return f.record("saveSession") }
func (f *fakeAPI) Shutdown(ctx context.Context) error      { return f.record("shutdown") }
func (f *fakeAPI) ForceShutdown(ctx context.Context) error { return f.record("forceShutdown") }
func (f *fakeAPI) ChangeGlobalOption(ctx context.Context, opts rpc.Options) error {
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	return f.record("changeGlobalOption")
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
