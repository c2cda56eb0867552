package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// runtimeOptions are the engine options the configuration may pass through.
var runtimeOptions = map[string]struct{}{
	"max-concurrent-downloads":   {},
	"max-connection-per-server":  {},
	"dir":                        {},
	"continue":                   {},
	"max-overall-download-limit": {},
	"max-overall-upload-limit":   {},
	"seed-ratio":                 {},
	"seed-time":                  {},
	"rpc-secret":                 {},
	"bt-tracker":                 {},
}

type Options struct {
	Binary      string
	ConfPath    string
	DataDir     string
	DownloadDir string
	Port        int

	// Runtime holds engine options; keys outside the allow-list and empty
	// values are dropped.
	Runtime map[string]string
}

func (o Options) SessionPath() string { return filepath.Join(o.DataDir, "download.session") }
func (o Options) DHTPath() string     { return filepath.Join(o.DataDir, "dht.dat") }
func (o Options) DHT6Path() string    { return filepath.Join(o.DataDir, "dht6.dat") }
func (o Options) PidPath() string     { return filepath.Join(o.DataDir, "engine.pid") }

// BuildArgs assembles the engine command line. Runtime options are sorted
// by key so the same options always yield the same arguments.
func BuildArgs(o Options) []string {
	var args []string
	if o.ConfPath != "" {
		args = append(args, "--conf-path="+o.ConfPath)
	}
	args = append(args,
		"--enable-rpc=true",
		"--save-session="+o.SessionPath(),
		"--dht-file-path="+o.DHTPath(),
		"--dht-file-path6="+o.DHT6Path(),
		fmt.Sprintf("--rpc-listen-port=%d", o.Port),
	)
	if o.Runtime["dir"] == "" && o.DownloadDir != "" {
		args = append(args, "--dir="+o.DownloadDir)
	}
	if _, err := os.Stat(o.SessionPath()); err == nil {
		args = append(args, "--input-file="+o.SessionPath())
	}

	keys := make([]string, 0, len(o.Runtime))
	for k, v := range o.Runtime {
		if _, ok := runtimeOptions[k]; !ok || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("--%s=%s", k, o.Runtime[k]))
	}
	return args
}
