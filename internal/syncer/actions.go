package syncer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/s0up4200/motrix-go/internal/rpc"
)

// AddURI queues a download for uris, which must all point at the same file.
func (s *Syncer) AddURI(ctx context.Context, uris []string, opts rpc.Options) (string, error) {
	api, err := s.api()
	if err != nil {
		return "", err
	}
	gid, err := api.AddURI(ctx, uris, opts)
	if err != nil {
		return "", fmt.Errorf("failed to add uri: %w", err)
	}
	s.log.Info().Str("gid", gid).Strs("uris", uris).Msg("download added")
	s.refreshAfter(ctx)
	return gid, nil
}

// AddTorrent queues a .torrent. selected holds the 1-based file indexes to
// download; empty selects everything.
func (s *Syncer) AddTorrent(ctx context.Context, torrent []byte, selected []int, opts rpc.Options) (string, error) {
	api, err := s.api()
	if err != nil {
		return "", err
	}

	merged := rpc.Options{}
	for k, v := range opts {
		merged[k] = v
	}
	if len(selected) > 0 {
		idx := make([]string, len(selected))
		for i, n := range selected {
			idx[i] = strconv.Itoa(n)
		}
		merged["select-file"] = strings.Join(idx, ",")
	}

	gid, err := api.AddTorrent(ctx, torrent, nil, merged)
	if err != nil {
		return "", fmt.Errorf("failed to add torrent: %w", err)
	}
	s.log.Info().Str("gid", gid).Ints("selected", selected).Msg("torrent added")
	s.refreshAfter(ctx)
	return gid, nil
}

func (s *Syncer) Pause(ctx context.Context, gid string) error {
	return s.act(ctx, "pause", gid, func(api API) error { return api.Pause(ctx, gid) })
}

func (s *Syncer) Resume(ctx context.Context, gid string) error {
	return s.act(ctx, "resume", gid, func(api API) error { return api.Unpause(ctx, gid) })
}

func (s *Syncer) Remove(ctx context.Context, gid string) error {
	return s.act(ctx, "remove", gid, func(api API) error { return api.ForceRemove(ctx, gid) })
}

// RemoveRecord forgets a stopped download without touching its files.
func (s *Syncer) RemoveRecord(ctx context.Context, gid string) error {
	return s.act(ctx, "remove record", gid, func(api API) error { return api.RemoveDownloadResult(ctx, gid) })
}

func (s *Syncer) PauseAll(ctx context.Context) error {
	return s.act(ctx, "pause all", "", func(api API) error { return api.ForcePauseAll(ctx) })
}

func (s *Syncer) ResumeAll(ctx context.Context) error {
	return s.act(ctx, "resume all", "", func(api API) error { return api.UnpauseAll(ctx) })
}

func (s *Syncer) ChangeGlobalOption(ctx context.Context, opts rpc.Options) error {
	api, err := s.api()
	if err != nil {
		return err
	}
	if err := api.ChangeGlobalOption(ctx, opts); err != nil {
		return fmt.Errorf("failed to change global option: %w", err)
	}
	return nil
}

// SaveSession asks the engine to write its session file. Failures are only
// logged.
func (s *Syncer) SaveSession(ctx context.Context) {
	api, err := s.api()
	if err != nil {
		return
	}
	if err := api.SaveSession(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to save engine session")
	}
}

// Shutdown asks the engine to exit. Failures are only logged.
func (s *Syncer) Shutdown(ctx context.Context, force bool) {
	api, err := s.api()
	if err != nil {
		return
	}
	if force {
		err = api.ForceShutdown(ctx)
	} else {
		err = api.Shutdown(ctx)
	}
	if err != nil {
		s.log.Warn().Err(err).Bool("force", force).Msg("failed to shut down engine")
	}
}

func (s *Syncer) act(ctx context.Context, name, gid string, fn func(API) error) error {
	api, err := s.api()
	if err != nil {
		return err
	}
	if err := fn(api); err != nil {
		return fmt.Errorf("failed to %s: %w", name, err)
	}
	s.log.Debug().Str("action", name).Str("gid", gid).Msg("action applied")
	s.refreshAfter(ctx)
	return nil
}

func (s *Syncer) refreshAfter(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.log.Debug().Err(err).Msg("refresh after action failed")
	}
}
