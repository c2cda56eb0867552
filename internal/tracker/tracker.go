// Package tracker feeds BitTorrent tracker lists to the engine.
package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/s0up4200/motrix-go/internal/rpc"
)

// MaxLength caps the bt-tracker option the engine accepts in one go.
const MaxLength = 6144

type Source interface {
	Trackers(ctx context.Context) ([]string, error)
}

// StaticSource serves a fixed list, typically from the config file.
type StaticSource []string

func (s StaticSource) Trackers(ctx context.Context) ([]string, error) {
	return s, nil
}

// Join deduplicates trackers and joins them with commas. A result longer
// than max is cut back to the last whole tracker that fits.
func Join(trackers []string, max int) string {
	seen := make(map[string]struct{}, len(trackers))
	out := make([]string, 0, len(trackers))
	for _, t := range trackers {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	joined := strings.Join(out, ",")
	if max <= 0 || len(joined) <= max {
		return joined
	}
	cut := joined[:max]
	if joined[max] == ',' {
		return cut
	}
	if i := strings.LastIndexByte(cut, ','); i >= 0 {
		return cut[:i]
	}
	return ""
}

type OptionSetter interface {
	ChangeGlobalOption(ctx context.Context, opts rpc.Options) error
}

// Sync pushes the trackers from src to the engine's global bt-tracker
// option.
func Sync(ctx context.Context, engine OptionSetter, src Source) error {
	list, err := src.Trackers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trackers: %w", err)
	}

	joined := Join(list, MaxLength)
	if joined == "" {
		log.Debug().Msg("no trackers to sync")
		return nil
	}

	if err := engine.ChangeGlobalOption(ctx, rpc.Options{"bt-tracker": joined}); err != nil {
		return fmt.Errorf("failed to sync trackers: %w", err)
	}

	log.Info().Int("trackers", strings.Count(joined, ",")+1).Msg("synced tracker list")
	return nil
}
