// Package app wires the engine supervisor and the synchronizer together:
// it boots the engine, watches its health and shuts it down.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/s0up4200/motrix-go/internal/engine"
	"github.com/s0up4200/motrix-go/internal/syncer"
	"github.com/s0up4200/motrix-go/internal/tracker"
)

var ErrBootInProgress = errors.New("engine boot already in progress")

// Supervisor is the engine lifecycle the app drives.
type Supervisor interface {
	Start(ctx context.Context, opts engine.Options) error
	Stop()
	Running() bool
	MarkUnhealthy()
}

type Config struct {
	Engine            engine.Options
	WatchdogInterval  time.Duration
	StallTimeout      time.Duration
	ResumeAllOnLaunch bool
	// Trackers is synced to the engine after every boot when set
	Trackers        tracker.Source
	ShutdownTimeout time.Duration
}

type App struct {
	cfg    Config
	engine Supervisor
	api    syncer.API
	sync   *syncer.Syncer
	log    zerolog.Logger

	booting  atomic.Bool
	launched atomic.Bool
	wg       sync.WaitGroup
}

func New(cfg Config, sup Supervisor, api syncer.API, s *syncer.Syncer) *App {
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 2 * time.Second
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 8 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &App{
		cfg:    cfg,
		engine: sup,
		api:    api,
		sync:   s,
		log:    log.With().Str("component", "app").Logger(),
	}
}

func (a *App) Syncer() *syncer.Syncer {
	return a.sync
}

// Run boots the engine, keeps it healthy until ctx is done and then shuts
// it down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Boot(runCtx); err != nil {
		a.log.Error().Err(err).Msg("initial engine boot failed, watchdog will retry")
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watchdog(runCtx)
	}()

	<-ctx.Done()
	cancel()
	a.wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer stop()
	a.Shutdown(shutdownCtx)
	return nil
}

// Boot starts the engine and connects the synchronizer to it. Only one
// boot runs at a time.
func (a *App) Boot(ctx context.Context) error {
	if !a.booting.CompareAndSwap(false, true) {
		return ErrBootInProgress
	}
	defer a.booting.Store(false)
	return a.boot(ctx)
}

func (a *App) boot(ctx context.Context) error {
	if err := a.engine.Start(ctx, a.cfg.Engine); err != nil {
		a.log.Error().Err(err).Msg("failed to boot engine")
		return fmt.Errorf("failed to start engine: %w", err)
	}

	a.sync.Connect(a.api)
	a.sync.Start(ctx)
	a.log.Info().Msg("engine connected")

	if a.launched.CompareAndSwap(false, true) && a.cfg.ResumeAllOnLaunch {
		if err := a.sync.ResumeAll(ctx); err != nil {
			a.log.Warn().Err(err).Msg("failed to resume downloads on launch")
		}
	}
	if a.cfg.Trackers != nil {
		if err := tracker.Sync(ctx, a.sync, a.cfg.Trackers); err != nil {
			a.log.Warn().Err(err).Msg("tracker sync failed")
		}
	}
	return nil
}

func (a *App) watchdog(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.check(ctx)
		}
	}
}

// check restarts the engine when it is gone, disconnected or has not
// answered for longer than the stall timeout.
func (a *App) check(ctx context.Context) {
	if a.booting.Load() {
		return
	}

	running := a.engine.Running()
	connected := a.sync.Connected()
	stalled := a.sync.Stalled(a.cfg.StallTimeout)
	if running && connected && !stalled {
		return
	}

	if !a.booting.CompareAndSwap(false, true) {
		return
	}

	a.log.Warn().
		Bool("running", running).
		Bool("connected", connected).
		Bool("stalled", stalled).
		Msg("engine unhealthy, restarting")

	a.engine.MarkUnhealthy()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.booting.Store(false)
		a.restart(ctx)
	}()
}

func (a *App) restart(ctx context.Context) {
	a.sync.Stop()
	a.sync.Disconnect()
	a.engine.Stop()

	if err := a.boot(ctx); err != nil {
		a.log.Error().Err(err).Msg("engine recovery failed")
	}
}

// Shutdown saves the engine session, asks the engine to exit and stops
// everything. Each step is best-effort.
func (a *App) Shutdown(ctx context.Context) {
	a.log.Info().Msg("shutting down engine")
	a.sync.SaveSession(ctx)
	a.sync.Shutdown(ctx, true)
	a.sync.Stop()
	a.sync.Disconnect()
	a.engine.Stop()
}
