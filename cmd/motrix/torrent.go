package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/s0up4200/motrix-go/internal/link"
	"github.com/s0up4200/motrix-go/internal/metainfo"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.torrent>",
	Short: "Show the files inside a .torrent and its magnet link",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
	Example: `  # Pick file indexes for motrix add --select
  motrix inspect ./linux.torrent`,
}

func registerTorrentCommands(group string) {
	inspectCmd.GroupID = group
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		log.Error().Err(err).Str("path", args[0]).Msg("failed to read torrent file")
		return fmt.Errorf("failed to read torrent file: %w", err)
	}

	t, err := metainfo.Inspect(data)
	if err != nil {
		log.Error().Err(err).Str("path", args[0]).Msg("invalid torrent file")
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tSIZE\tPATH")
	for _, f := range t.Files {
		fmt.Fprintf(w, "%d\t%s\t%s\n", f.Index, units.HumanSize(float64(f.Length)), f.Path)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	log.Info().
		Str("name", t.Name).
		Str("infoHash", t.InfoHash).
		Str("size", units.HumanSize(float64(t.Length))).
		Int("files", len(t.Files)).
		Str("createdBy", t.CreatedBy).
		Str("comment", t.Comment).
		Msg("torrent")
	fmt.Println(link.BuildMagnet(t.InfoHash, t.Name, t.Trackers()))
	return nil
}
