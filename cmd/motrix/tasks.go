package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/s0up4200/motrix-go/internal/config"
	"github.com/s0up4200/motrix-go/internal/disk"
	"github.com/s0up4200/motrix-go/internal/journal"
	"github.com/s0up4200/motrix-go/internal/link"
	"github.com/s0up4200/motrix-go/internal/metainfo"
	"github.com/s0up4200/motrix-go/internal/registry"
	"github.com/s0up4200/motrix-go/internal/rpc"
	"github.com/s0up4200/motrix-go/internal/syncer"
	"github.com/s0up4200/motrix-go/internal/task"
)

var (
	listBucket   string
	addTorrent   string
	addSelect    []int
	addDir       string
	addOut       string
	addForce     bool
	historyLimit int

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List downloads known to the engine",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	addCmd = &cobra.Command{
		Use:   "add [uri...]",
		Short: "Add downloads from URIs, magnet links or a .torrent file",
		RunE:  runAdd,
		Example: `  # Add an HTTP download
  motrix add https://example.com/file.iso

  # Add a torrent, downloading only its first and third file
  motrix add --torrent ./linux.torrent --select 1,3`,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recently finished and failed downloads",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
)

func registerTaskCommands(group string) {
	listCmd.Flags().StringVar(&listBucket, "bucket", "all", "which list to show: active, completed, stopped or all")
	addCmd.Flags().StringVar(&addTorrent, "torrent", "", "path to a .torrent file")
	addCmd.Flags().IntSliceVar(&addSelect, "select", nil, "1-based file indexes to download from the torrent")
	addCmd.Flags().StringVar(&addDir, "dir", "", "download directory for this task")
	addCmd.Flags().StringVar(&addOut, "out", "", "file name for a single URI download")
	addCmd.Flags().BoolVar(&addForce, "force", false, "add the torrent even if it does not fit on disk")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of entries to show")

	gidCommands := []*cobra.Command{
		gidCommand("pause <gid>", "Pause a download", (*syncer.Syncer).Pause),
		gidCommand("resume <gid>", "Resume a paused download", (*syncer.Syncer).Resume),
		gidCommand("remove <gid>", "Stop and remove a download", (*syncer.Syncer).Remove),
		gidCommand("purge <gid>", "Forget a finished, failed or removed download", (*syncer.Syncer).RemoveRecord),
	}
	allCommands := []*cobra.Command{
		allCommand("pause-all", "Pause every download", (*syncer.Syncer).PauseAll),
		allCommand("resume-all", "Resume every paused download", (*syncer.Syncer).ResumeAll),
	}

	for _, c := range append(append([]*cobra.Command{listCmd, addCmd, historyCmd}, gidCommands...), allCommands...) {
		c.GroupID = group
		rootCmd.AddCommand(c)
	}
}

// connect returns a synchronizer bound to the configured engine.
func connect() (*syncer.Syncer, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s := syncer.New(registry.New(), syncer.DefaultConfig())
	s.Connect(newRPCClient(cfg))
	return s, cfg, nil
}

func gidCommand(use, short string, action func(*syncer.Syncer, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := connect()
			if err != nil {
				return err
			}
			if err := action(s, cmd.Context(), args[0]); err != nil {
				log.Error().Err(err).Str("gid", args[0]).Msg(short + " failed")
				return err
			}
			log.Info().Str("gid", args[0]).Msg("done")
			return nil
		},
	}
}

func allCommand(use, short string, action func(*syncer.Syncer, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := connect()
			if err != nil {
				return err
			}
			if err := action(s, cmd.Context()); err != nil {
				log.Error().Err(err).Msg(short + " failed")
				return err
			}
			log.Info().Msg("done")
			return nil
		},
	}
}

func runList(cmd *cobra.Command, args []string) error {
	s, _, err := connect()
	if err != nil {
		return err
	}
	if err := s.Refresh(cmd.Context()); err != nil {
		log.Error().Err(err).Msg("failed to query engine")
		return fmt.Errorf("failed to query engine: %w", err)
	}

	reg := s.Registry()
	var tasks []*task.Task
	switch listBucket {
	case "active":
		tasks = reg.View(task.BucketActive)
	case "completed":
		tasks = reg.View(task.BucketCompleted)
	case "stopped":
		tasks = reg.View(task.BucketStopped)
	case "all":
		for _, b := range []task.Bucket{task.BucketActive, task.BucketCompleted, task.BucketStopped} {
			tasks = append(tasks, reg.View(b)...)
		}
	default:
		return fmt.Errorf("unknown bucket %q", listBucket)
	}

	stat := reg.Snapshot().Stat
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GID\tSTATUS\tPROGRESS\tSIZE\tSPEED\tETA\tNAME")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%5.1f%%\t%s\t%s/s\t%s\t%s\n",
			t.GID,
			t.Status,
			t.Progress()*100,
			units.HumanSize(float64(t.TotalLength)),
			units.HumanSize(float64(t.DownloadSpeed)),
			task.FormatRemaining(t.Remaining()),
			t.Name(),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	log.Info().
		Int("active", stat.NumActive).
		Int("waiting", stat.NumWaiting).
		Int("stopped", stat.NumStopped).
		Str("download", units.HumanSize(float64(stat.DownloadSpeed))+"/s").
		Str("upload", units.HumanSize(float64(stat.UploadSpeed))+"/s").
		Msg("engine status")
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	if addTorrent == "" && len(args) == 0 {
		return fmt.Errorf("nothing to add: pass URIs or --torrent")
	}

	s, cfg, err := connect()
	if err != nil {
		return err
	}

	opts := rpc.Options{}
	if addDir != "" {
		opts["dir"] = addDir
	}

	if addTorrent != "" {
		data, err := os.ReadFile(addTorrent)
		if err != nil {
			log.Error().Err(err).Str("path", addTorrent).Msg("failed to read torrent file")
			return fmt.Errorf("failed to read torrent file: %w", err)
		}
		files := metainfo.ParseFiles(data)
		if len(files) == 0 {
			return fmt.Errorf("%s does not look like a torrent file", addTorrent)
		}
		if err := checkSelection(files, addSelect); err != nil {
			return err
		}

		dir := addDir
		if dir == "" {
			dir = cfg.Downloads.Dir
		}
		if err := checkSpace(dir, selectedSize(files, addSelect)); err != nil && !addForce {
			return err
		}

		gid, err := s.AddTorrent(cmd.Context(), data, addSelect, opts)
		if err != nil {
			log.Error().Err(err).Str("path", addTorrent).Msg("failed to add torrent")
			return err
		}
		log.Info().Str("gid", gid).Int("files", len(files)).Msg("torrent queued")
	}

	if len(args) == 0 {
		return nil
	}
	if addOut != "" {
		opts["out"] = addOut
	}
	for _, arg := range args {
		uri := link.Normalize(arg)
		if uri != arg {
			log.Debug().Str("from", arg).Str("to", uri).Msg("decoded link")
		}
		gid, err := s.AddURI(cmd.Context(), []string{uri}, opts)
		if err != nil {
			log.Error().Err(err).Str("uri", uri).Msg("failed to add download")
			return err
		}
		log.Info().Str("gid", gid).Bool("magnet", link.IsMagnet(uri)).Str("uri", uri).Msg("download queued")
	}
	return nil
}

func checkSelection(files []metainfo.File, selected []int) error {
	valid := make(map[int]struct{}, len(files))
	for _, f := range files {
		valid[f.Index] = struct{}{}
	}
	var bad []string
	for _, n := range selected {
		if _, ok := valid[n]; !ok {
			bad = append(bad, fmt.Sprint(n))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("torrent has no file with index %s", strings.Join(bad, ", "))
	}
	return nil
}

func selectedSize(files []metainfo.File, selected []int) int64 {
	want := make(map[int]struct{}, len(selected))
	for _, n := range selected {
		want[n] = struct{}{}
	}
	var size int64
	for _, f := range files {
		if _, ok := want[f.Index]; ok || len(selected) == 0 {
			size += f.Length
		}
	}
	return size
}

func checkSpace(dir string, size int64) error {
	free, fits, err := disk.Check(dir, size)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to get free space, skipping check")
		return nil
	}

	log.Debug().
		Str("availableSpace", units.HumanSize(float64(free))).
		Str("requiredSpace", units.HumanSize(float64(disk.Required(size)))).
		Str("torrentSize", units.HumanSize(float64(size))).
		Msg("checking disk space")

	if !fits {
		log.Error().
			Str("dir", dir).
			Str("freeSpace", units.HumanSize(float64(free))).
			Str("requiredSpace", units.HumanSize(float64(disk.Required(size)))).
			Msg("insufficient disk space, use --force to add anyway")
		return fmt.Errorf("insufficient disk space in %s", dir)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hist, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Journal.Path).Msg("failed to open history")
		return err
	}
	defer hist.Close()

	entries, err := hist.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSTATUS\tSIZE\tGID\tNAME")
	for _, e := range entries {
		name := e.Name
		if e.Status == task.StatusError && e.ErrorMessage != "" {
			name += " (" + e.ErrorMessage + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format("2006-01-02 15:04"),
			e.Status,
			units.HumanSize(float64(e.Length)),
			e.GID,
			name,
		)
	}
	return w.Flush()
}
