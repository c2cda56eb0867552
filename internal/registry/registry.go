// Package registry holds the published view of the engine's tasks.
//
// Readers get immutable snapshots and never block. Writers replace the
// snapshot as a whole, so a reader sees either the previous or the next
// poll result, never a mix.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/s0up4200/motrix-go/internal/task"
)

// Snapshot must not be modified once published.
type Snapshot struct {
	Stat      task.GlobalStat
	Active    []*task.Task
	Completed []*task.Task
	Stopped   []*task.Task
	Index     map[string]*task.Task
	Version   uint64
	At        time.Time
}

type Counts struct {
	Active, Completed, Stopped int
}

type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func New() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{Index: map[string]*task.Task{}})
	return r
}

// Build derives the three lists and the gid index from tasks. When a gid
// appears more than once the later task wins.
func Build(stat task.GlobalStat, tasks []*task.Task) Snapshot {
	s := Snapshot{Stat: stat, Index: make(map[string]*task.Task, len(tasks))}

	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if _, seen := s.Index[t.GID]; !seen {
			order = append(order, t.GID)
		}
		s.Index[t.GID] = t
	}

	for _, gid := range order {
		t := s.Index[gid]
		switch t.Status.Bucket() {
		case task.BucketActive:
			s.Active = append(s.Active, t)
		case task.BucketCompleted:
			s.Completed = append(s.Completed, t)
		case task.BucketStopped:
			s.Stopped = append(s.Stopped, t)
		}
	}
	return s
}

// Publish replaces the current snapshot.
func (r *Registry) Publish(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store(s)
}

func (r *Registry) store(s Snapshot) {
	s.Version = r.current.Load().Version + 1
	s.At = time.Now()
	if s.Index == nil {
		s.Index = map[string]*task.Task{}
	}
	r.current.Store(&s)
}

// Upsert merges tasks into the current snapshot, moving each into the list
// its status belongs to.
func (r *Registry) Upsert(tasks ...*task.Task) {
	if len(tasks) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	all := make([]*task.Task, 0, len(cur.Index)+len(tasks))
	for _, list := range [][]*task.Task{cur.Active, cur.Completed, cur.Stopped} {
		all = append(all, list...)
	}
	all = append(all, tasks...)
	r.store(Build(cur.Stat, all))
}

// ReplaceIndex swaps every task for the given set, keeping the global stat.
func (r *Registry) ReplaceIndex(tasks []*task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store(Build(r.current.Load().Stat, tasks))
}

// ZeroSpeeds clears the global transfer rates, leaving the task lists as
// they were. Used while the engine is unreachable.
func (r *Registry) ZeroSpeeds() {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := *r.current.Load()
	next.Stat.DownloadSpeed = 0
	next.Stat.UploadSpeed = 0
	r.store(next)
}

func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

func (r *Registry) Get(gid string) (*task.Task, bool) {
	t, ok := r.current.Load().Index[gid]
	return t, ok
}

func (r *Registry) View(b task.Bucket) []*task.Task {
	s := r.current.Load()
	switch b {
	case task.BucketCompleted:
		return s.Completed
	case task.BucketStopped:
		return s.Stopped
	default:
		return s.Active
	}
}

func (r *Registry) Counts() Counts {
	s := r.current.Load()
	return Counts{Active: len(s.Active), Completed: len(s.Completed), Stopped: len(s.Stopped)}
}
