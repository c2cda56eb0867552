// Package syncer keeps the task registry in step with the engine by polling
// its RPC interface, and reports downloads that finish or fail.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/s0up4200/motrix-go/internal/registry"
	"github.com/s0up4200/motrix-go/internal/rpc"
	"github.com/s0up4200/motrix-go/internal/task"
)

var ErrNotConnected = errors.New("not connected to engine")

// API is the subset of the engine RPC the synchronizer drives.
type API interface {
	GetGlobalStat(ctx context.Context) (task.GlobalStat, error)
	TellActive(ctx context.Context) ([]*task.Task, error)
	TellWaiting(ctx context.Context, offset, num int) ([]*task.Task, error)
	TellStopped(ctx context.Context, offset, num int) ([]*task.Task, error)

	AddURI(ctx context.Context, uris []string, opts rpc.Options) (string, error)
	AddTorrent(ctx context.Context, torrent []byte, uris []string, opts rpc.Options) (string, error)
	Pause(ctx context.Context, gid string) error
	Unpause(ctx context.Context, gid string) error
	ForcePauseAll(ctx context.Context) error
	UnpauseAll(ctx context.Context) error
	ForceRemove(ctx context.Context, gid string) error
	RemoveDownloadResult(ctx context.Context, gid string) error
	SaveSession(ctx context.Context) error
	Shutdown(ctx context.Context) error
	ForceShutdown(ctx context.Context) error
	ChangeGlobalOption(ctx context.Context, opts rpc.Options) error
}

// Connection is either Disconnected or Connected.
type Connection interface {
	connection()
}

type Disconnected struct{}

type Connected struct {
	API API
}

func (Disconnected) connection() {}
func (Connected) connection()    {}

type Config struct {
	PageSize        int
	InitialInterval time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
	IntervalStep    time.Duration
}

func DefaultConfig() Config {
	return Config{
		PageSize:        500,
		InitialInterval: time.Second,
		MinInterval:     500 * time.Millisecond,
		MaxInterval:     6 * time.Second,
		IntervalStep:    100 * time.Millisecond,
	}
}

type Syncer struct {
	cfg Config
	reg *registry.Registry
	log zerolog.Logger
	now func() time.Time

	mu               sync.Mutex
	conn             Connection
	available        bool
	unavailableSince time.Time
	interval         time.Duration
	handlers         []EventHandler

	// cycleMu serializes poll cycles and guards the terminal-state tracking.
	cycleMu  sync.Mutex
	phase    phase
	terminal map[string]task.Status

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(reg *registry.Registry, cfg Config) *Syncer {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.IntervalStep <= 0 {
		cfg.IntervalStep = def.IntervalStep
	}

	return &Syncer{
		cfg:      cfg,
		reg:      reg,
		log:      log.With().Str("component", "syncer").Logger(),
		now:      time.Now,
		conn:     Disconnected{},
		interval: cfg.InitialInterval,
	}
}

// Connect hands the synchronizer a live engine connection. Any earlier
// unavailability is forgotten; the next cycle decides afresh.
func (s *Syncer) Connect(api API) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = Connected{API: api}
	s.unavailableSince = time.Time{}
}

func (s *Syncer) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = Disconnected{}
	s.available = false
}

func (s *Syncer) Connection() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Syncer) Connected() bool {
	_, ok := s.Connection().(Connected)
	return ok
}

func (s *Syncer) api() (API, error) {
	if c, ok := s.Connection().(Connected); ok {
		return c.API, nil
	}
	return nil, ErrNotConnected
}

// Available reports whether the last poll cycle succeeded.
func (s *Syncer) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Stalled reports whether the RPC has been unreachable for at least
// threshold.
func (s *Syncer) Stalled(threshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailableSince.IsZero() {
		return false
	}
	return s.now().Sub(s.unavailableSince) >= threshold
}

// Interval is the delay before the next poll cycle.
func (s *Syncer) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Syncer) Registry() *registry.Registry {
	return s.reg
}

// Refresh runs one poll cycle and publishes its result.
func (s *Syncer) Refresh(ctx context.Context) error {
	api, err := s.api()
	if err != nil {
		return err
	}

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	snap, err := s.fetch(ctx, api)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.markUnavailable(err)
		s.adjustInterval(s.reg.Snapshot().Stat.NumActive)
		return err
	}

	s.reg.Publish(snap)
	events := s.detect(snap)
	s.markAvailable()
	s.adjustInterval(snap.Stat.NumActive)

	s.dispatch(ctx, events)
	return nil
}

func (s *Syncer) fetch(ctx context.Context, api API) (registry.Snapshot, error) {
	stat, err := api.GetGlobalStat(ctx)
	if err != nil {
		return registry.Snapshot{}, err
	}

	active, err := api.TellActive(ctx)
	if err != nil {
		return registry.Snapshot{}, err
	}

	var waiting, stopped []*task.Task
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		waiting, err = paginate(gctx, s.cfg.PageSize, api.TellWaiting)
		return err
	})
	g.Go(func() error {
		var err error
		stopped, err = paginate(gctx, s.cfg.PageSize, api.TellStopped)
		return err
	})
	if err := g.Wait(); err != nil {
		return registry.Snapshot{}, err
	}

	all := make([]*task.Task, 0, len(active)+len(waiting)+len(stopped))
	all = append(all, active...)
	all = append(all, waiting...)
	all = append(all, stopped...)

	s.log.Trace().
		Int("active", len(active)).
		Int("waiting", len(waiting)).
		Int("stopped", len(stopped)).
		Msg("poll cycle fetched tasks")

	return registry.Build(stat, all), nil
}

type pageFunc func(ctx context.Context, offset, num int) ([]*task.Task, error)

// paginate walks a paged listing until a page comes back empty, short, or
// identical to the previous one.
func paginate(ctx context.Context, pageSize int, fetch pageFunc) ([]*task.Task, error) {
	var (
		all    []*task.Task
		offset int
		prev   string
	)
	for {
		page, err := fetch(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		if page[0].GID == prev {
			break
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		prev = page[0].GID
		offset += len(page)
	}
	return all, nil
}

func (s *Syncer) markAvailable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unavailableSince.IsZero() {
		s.log.Info().
			Dur("downtime", s.now().Sub(s.unavailableSince)).
			Msg("engine rpc recovered")
	}
	s.available = true
	s.unavailableSince = time.Time{}
}

func (s *Syncer) markUnavailable(err error) {
	s.mu.Lock()
	first := s.unavailableSince.IsZero()
	if first {
		s.unavailableSince = s.now()
	}
	s.available = false
	s.mu.Unlock()

	s.reg.ZeroSpeeds()

	var ev *zerolog.Event
	if first {
		ev = s.log.Warn()
	} else {
		ev = s.log.Debug()
	}
	if rpc.IsTransport(err) {
		ev.Err(err).Msg("engine rpc unreachable")
	} else {
		ev.Err(err).Msg("engine rpc returned an unusable response")
	}
}

func (s *Syncer) adjustInterval(numActive int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = nextInterval(s.cfg, s.interval, numActive)
}

// nextInterval polls faster the more downloads are active and backs off
// gradually while idle.
func nextInterval(cfg Config, cur time.Duration, numActive int) time.Duration {
	if numActive > 0 {
		d := cfg.InitialInterval - time.Duration(numActive)*cfg.IntervalStep
		if d < cfg.MinInterval {
			return cfg.MinInterval
		}
		return d
	}
	d := cur + cfg.IntervalStep
	if d > cfg.MaxInterval {
		return cfg.MaxInterval
	}
	return d
}

// Start runs poll cycles in the background until Stop or ctx is done.
func (s *Syncer) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.log.Debug().Msg("polling started")
}

// Stop halts the polling loop and waits for the current cycle to finish.
func (s *Syncer) Stop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.log.Debug().Msg("polling stopped")
}

func (s *Syncer) Polling() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.cancel != nil
}

func (s *Syncer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil && errors.Is(err, ErrNotConnected) {
			s.log.Debug().Msg("poll skipped: not connected")
		}

		timer := time.NewTimer(s.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
