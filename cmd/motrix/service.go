package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/s0up4200/motrix-go/internal/app"
	"github.com/s0up4200/motrix-go/internal/config"
	"github.com/s0up4200/motrix-go/internal/engine"
	"github.com/s0up4200/motrix-go/internal/journal"
	"github.com/s0up4200/motrix-go/internal/registry"
	"github.com/s0up4200/motrix-go/internal/rpc"
	"github.com/s0up4200/motrix-go/internal/syncer"
	"github.com/s0up4200/motrix-go/internal/task"
	"github.com/s0up4200/motrix-go/internal/tracker"
)

var (
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the download engine and keep it healthy",
		RunE:  runService,
		Example: `  # Start aria2c with the configured options and supervise it
  motrix run

  # Use a specific config file with debug logging
  motrix run --config ./config.yaml --debug`,
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Save the session and shut the engine down",
		RunE:  runStop,
	}
)

func registerServiceCommands(group string) {
	runCmd.GroupID = group
	stopCmd.GroupID = group
	rootCmd.AddCommand(runCmd, stopCmd)
}

func newRPCClient(cfg *config.Config) *rpc.Client {
	return rpc.NewClient(cfg.Engine.Host, cfg.Engine.Port, cfg.Engine.Secret)
}

func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		Binary:      cfg.BinaryPath(),
		ConfPath:    cfg.Engine.ConfPath,
		DataDir:     cfg.Engine.DataDir,
		DownloadDir: cfg.Downloads.Dir,
		Port:        cfg.Engine.Port,
		Runtime:     cfg.EngineOptions(),
	}
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newRPCClient(cfg)
	state := syncer.New(registry.New(), syncer.DefaultConfig())

	hist, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Journal.Path).Msg("download history disabled")
	} else {
		defer hist.Close()
		state.Subscribe(hist)
	}
	state.Subscribe(syncer.EventHandlerFunc(logTerminal))

	appCfg := app.Config{
		Engine:            engineOptions(cfg),
		WatchdogInterval:  cfg.Watchdog.Interval,
		StallTimeout:      cfg.Watchdog.StallTimeout,
		ResumeAllOnLaunch: cfg.ResumeAllOnLaunch,
	}
	if cfg.Trackers.AutoSync {
		appCfg.Trackers = tracker.StaticSource(cfg.Trackers.List)
	}

	log.Info().
		Str("rpc", client.URL()).
		Str("binary", appCfg.Engine.Binary).
		Str("downloads", cfg.Downloads.Dir).
		Msg("starting motrix engine service")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(appCfg, engine.NewSupervisor(client), client, state)
	return a.Run(ctx)
}

func logTerminal(ctx context.Context, ev syncer.TerminalEvent) {
	var entry *zerolog.Event
	if ev.Status == task.StatusError {
		entry = log.Warn().Str("errorCode", ev.ErrorCode).Str("error", ev.ErrorMessage)
	} else {
		entry = log.Info()
	}
	size := int64(0)
	if ev.Task != nil {
		size = ev.Task.TotalLength
	}
	entry.
		Str("gid", ev.GID).
		Str("size", units.HumanSize(float64(size))).
		Msgf("%s: %s", ev.Status, ev.Name)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newRPCClient(cfg)
	if err := client.SaveSession(cmd.Context()); err != nil {
		log.Warn().Err(err).Msg("failed to save session")
	}
	if err := client.ForceShutdown(cmd.Context()); err != nil {
		log.Error().Err(err).Msg("failed to shut down engine")
		return fmt.Errorf("failed to shut down engine: %w", err)
	}

	log.Info().Msg("engine shut down")
	return nil
}
