package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/s0up4200/motrix-go/internal/config"
	"github.com/s0up4200/motrix-go/internal/logger"
	"github.com/s0up4200/motrix-go/pkg/version"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	cfgFile string
	debug   bool

	rootCmd = &cobra.Command{
		Use:   "motrix",
		Short: "motrix runs and controls an aria2 download engine",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new config file",
		RunE:  runInit,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information and check for updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return version.CheckForUpdates(cmd.Context(), "s0up4200", "motrix-go")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	setupGroup := &cobra.Group{
		ID:    "setup",
		Title: "Configuration Commands:",
	}
	engineGroup := &cobra.Group{
		ID:    "engine",
		Title: "Engine Commands:",
	}
	taskGroup := &cobra.Group{
		ID:    "tasks",
		Title: "Download Commands:",
	}
	rootCmd.AddGroup(setupGroup, engineGroup, taskGroup)

	initCmd.GroupID = "setup"
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)

	registerServiceCommands(engineGroup.ID)
	registerTaskCommands(taskGroup.ID)
	registerTorrentCommands(taskGroup.ID)
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Error().Err(err).Msg("could not determine home directory")
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "motrix-go"), nil
}

// findConfig returns an empty path when no config file exists, in which
// case the defaults apply.
func findConfig() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml", nil
	}

	dir, err := configDir()
	if err != nil {
		return "", err
	}
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	log.Debug().Str("config_dir", dir).Msg("no config file found, using defaults")
	return "", nil
}

func loadConfig() (*config.Config, error) {
	path, err := findConfig()
	if err != nil {
		return nil, err
	}

	log.Debug().Str("path", path).Msg("loading config")
	cfg, err := config.Load(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to load config")
		return nil, err
	}

	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	if err := logger.Setup(os.Stdout, level, cfg.Log.File); err != nil {
		log.Warn().Err(err).Str("file", cfg.Log.File).Msg("file logging disabled")
	}
	return cfg, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := cfgFile
	if configPath == "" {
		dir, err := configDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("could not create config directory")
			return fmt.Errorf("could not create config directory: %w", err)
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		log.Error().Str("path", configPath).Msg("config file already exists")
		return fmt.Errorf("config file already exists at %s", configPath)
	}

	defaultConfig := config.Default()
	defaultConfig.Trackers.List = []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://open.stealth.si:80/announce",
	}

	data, err := yaml.Marshal(defaultConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configContent := `# motrix configuration
#
# engine:     where aria2c lives and how to reach its RPC interface.
#             dataDir keeps the session, DHT and pid files.
# downloads:  defaults handed to the engine on start. Speed limits take
#             sizes such as 512K or 10M, 0 means unlimited.
#             seedTime is in minutes.
# trackers:   extra BitTorrent trackers pushed to the engine after boot.
# watchdog:   how often the engine is checked and how long the RPC may
#             stay silent before the engine is restarted.
#
# Every key can be overridden from the environment, for example
# MOTRIX_ENGINE_PORT=6800.

`
	configContent += string(data)

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Str("path", configPath).Msg("created new config file")
	return nil
}
