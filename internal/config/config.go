package config

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/s0up4200/motrix-go/internal/tracker"
)

type Config struct {
	Engine            EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Downloads         DownloadConfig `yaml:"downloads" mapstructure:"downloads"`
	Trackers          TrackerConfig  `yaml:"trackers" mapstructure:"trackers"`
	ResumeAllOnLaunch bool           `yaml:"resumeAllOnLaunch" mapstructure:"resumeAllOnLaunch"`
	Watchdog          WatchdogConfig `yaml:"watchdog" mapstructure:"watchdog"`
	Journal           JournalConfig  `yaml:"journal" mapstructure:"journal"`
	Log               LogConfig      `yaml:"log" mapstructure:"log"`
}

type EngineConfig struct {
	// Binary is a path or a name looked up in PATH
	Binary   string `yaml:"binary" mapstructure:"binary"`
	ConfPath string `yaml:"confPath,omitempty" mapstructure:"confPath"`
	// DataDir holds the session, DHT and pid files
	DataDir string `yaml:"dataDir" mapstructure:"dataDir"`
	Host    string `yaml:"host" mapstructure:"host"`
	Port    int    `yaml:"port" mapstructure:"port"`
	Secret  string `yaml:"rpcSecret" mapstructure:"rpcSecret"`
}

type DownloadConfig struct {
	Dir                    string `yaml:"dir" mapstructure:"dir"`
	MaxConcurrent          int    `yaml:"maxConcurrent" mapstructure:"maxConcurrent"`
	MaxConnectionPerServer int    `yaml:"maxConnectionPerServer" mapstructure:"maxConnectionPerServer"`
	// Limits accept sizes such as 512K or 10M; 0 means unlimited
	MaxDownloadLimit string  `yaml:"maxDownloadLimit" mapstructure:"maxDownloadLimit"`
	MaxUploadLimit   string  `yaml:"maxUploadLimit" mapstructure:"maxUploadLimit"`
	SeedRatio        float64 `yaml:"seedRatio" mapstructure:"seedRatio"`
	SeedTime         int     `yaml:"seedTime" mapstructure:"seedTime"` // minutes
	KeepSeeding      bool    `yaml:"keepSeeding" mapstructure:"keepSeeding"`
}

type TrackerConfig struct {
	List     []string `yaml:"list" mapstructure:"list"`
	AutoSync bool     `yaml:"autoSync" mapstructure:"autoSync"`
}

type WatchdogConfig struct {
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	StallTimeout time.Duration `yaml:"stallTimeout" mapstructure:"stallTimeout"`
}

type JournalConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file,omitempty" mapstructure:"file"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Binary:  "aria2c",
			DataDir: "~/.config/motrix-go",
			Host:    "127.0.0.1",
			Port:    16800,
		},
		Downloads: DownloadConfig{
			Dir:                    "~/Downloads",
			MaxConcurrent:          5,
			MaxConnectionPerServer: 16,
			MaxDownloadLimit:       "0",
			MaxUploadLimit:         "0",
			SeedRatio:              2.0,
			SeedTime:               2880,
		},
		Trackers: TrackerConfig{
			List:     []string{},
			AutoSync: true,
		},
		Watchdog: WatchdogConfig{
			Interval:     2 * time.Second,
			StallTimeout: 8 * time.Second,
		},
		Journal: JournalConfig{Path: "~/.config/motrix-go/history.db"},
		Log:     LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("engine.binary", d.Engine.Binary)
	v.SetDefault("engine.confPath", d.Engine.ConfPath)
	v.SetDefault("engine.dataDir", d.Engine.DataDir)
	v.SetDefault("engine.host", d.Engine.Host)
	v.SetDefault("engine.port", d.Engine.Port)
	v.SetDefault("engine.rpcSecret", d.Engine.Secret)
	v.SetDefault("downloads.dir", d.Downloads.Dir)
	v.SetDefault("downloads.maxConcurrent", d.Downloads.MaxConcurrent)
	v.SetDefault("downloads.maxConnectionPerServer", d.Downloads.MaxConnectionPerServer)
	v.SetDefault("downloads.maxDownloadLimit", d.Downloads.MaxDownloadLimit)
	v.SetDefault("downloads.maxUploadLimit", d.Downloads.MaxUploadLimit)
	v.SetDefault("downloads.seedRatio", d.Downloads.SeedRatio)
	v.SetDefault("downloads.seedTime", d.Downloads.SeedTime)
	v.SetDefault("downloads.keepSeeding", d.Downloads.KeepSeeding)
	v.SetDefault("trackers.list", d.Trackers.List)
	v.SetDefault("trackers.autoSync", d.Trackers.AutoSync)
	v.SetDefault("resumeAllOnLaunch", d.ResumeAllOnLaunch)
	v.SetDefault("watchdog.interval", d.Watchdog.Interval)
	v.SetDefault("watchdog.stallTimeout", d.Watchdog.StallTimeout)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// Load reads the config file at path, if any, over the defaults. Every key
// can be overridden from the environment, e.g. MOTRIX_ENGINE_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MOTRIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Engine.Binary,
		&c.Engine.ConfPath,
		&c.Engine.DataDir,
		&c.Downloads.Dir,
		&c.Journal.Path,
		&c.Log.File,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %s: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Engine.Port <= 0 || c.Engine.Port > 65535 {
		return fmt.Errorf("invalid engine port %d", c.Engine.Port)
	}
	if c.Downloads.MaxConcurrent < 1 {
		return fmt.Errorf("maxConcurrent must be at least 1, got %d", c.Downloads.MaxConcurrent)
	}
	if _, err := parseLimit(c.Downloads.MaxDownloadLimit); err != nil {
		return fmt.Errorf("invalid maxDownloadLimit: %w", err)
	}
	if _, err := parseLimit(c.Downloads.MaxUploadLimit); err != nil {
		return fmt.Errorf("invalid maxUploadLimit: %w", err)
	}
	if c.Downloads.SeedRatio < 0 {
		return fmt.Errorf("seedRatio cannot be negative")
	}
	if c.Watchdog.Interval <= 0 || c.Watchdog.StallTimeout <= 0 {
		return fmt.Errorf("watchdog interval and stall timeout must be positive")
	}
	return nil
}

func parseLimit(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return units.RAMInBytes(s)
}

// BinaryPath resolves a bare binary name through PATH. The name is returned
// unchanged when the lookup fails so the caller can report it.
func (c *Config) BinaryPath() string {
	if strings.ContainsRune(c.Engine.Binary, filepath.Separator) {
		return c.Engine.Binary
	}
	if p, err := exec.LookPath(c.Engine.Binary); err == nil {
		return p
	}
	return c.Engine.Binary
}

// EngineOptions derives the runtime options passed to the engine.
func (c *Config) EngineOptions() map[string]string {
	d := c.Downloads

	conn := d.MaxConnectionPerServer
	if conn < 1 {
		conn = 1
	}
	if conn > 16 {
		conn = 16
	}

	down, _ := parseLimit(d.MaxDownloadLimit)
	up, _ := parseLimit(d.MaxUploadLimit)

	opts := map[string]string{
		"max-concurrent-downloads":   strconv.Itoa(d.MaxConcurrent),
		"max-connection-per-server":  strconv.Itoa(conn),
		"dir":                        d.Dir,
		"continue":                   "true",
		"max-overall-download-limit": strconv.FormatInt(down, 10),
		"max-overall-upload-limit":   strconv.FormatInt(up, 10),
	}

	if d.KeepSeeding || d.SeedRatio == 0 {
		opts["seed-ratio"] = "0"
	} else {
		opts["seed-ratio"] = strconv.FormatFloat(d.SeedRatio, 'f', -1, 64)
		opts["seed-time"] = strconv.Itoa(d.SeedTime)
	}

	if c.Engine.Secret != "" {
		opts["rpc-secret"] = c.Engine.Secret
	}
	if c.Trackers.AutoSync && len(c.Trackers.List) > 0 {
		opts["bt-tracker"] = tracker.Join(c.Trackers.List, tracker.MaxLength)
	}
	return opts
}
