package syncer

import (
	"context"
	"time"

	"github.com/s0up4200/motrix-go/internal/registry"
	"github.com/s0up4200/motrix-go/internal/task"
)

// TerminalEvent is emitted once when a download completes or fails.
type TerminalEvent struct {
	GID          string
	Name         string
	Status       task.Status
	ErrorCode    string
	ErrorMessage string
	Task         *task.Task
	At           time.Time
}

type EventHandler interface {
	HandleTerminal(ctx context.Context, ev TerminalEvent)
}

type EventHandlerFunc func(ctx context.Context, ev TerminalEvent)

func (f EventHandlerFunc) HandleTerminal(ctx context.Context, ev TerminalEvent) {
	f(ctx, ev)
}

// Subscribe registers h for terminal events. Handlers run on the polling
// goroutine after the snapshot has been published and must not call back
// into the synchronizer.
func (s *Syncer) Subscribe(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

type phase int

const (
	phaseUninitialized phase = iota
	phaseBaseline
	phaseSteady
)

func (p phase) String() string {
	switch p {
	case phaseUninitialized:
		return "uninitialized"
	case phaseBaseline:
		return "baseline"
	default:
		return "steady"
	}
}

// detect compares the completed and stopped lists with the previous cycle.
// The first cycle only records a baseline so downloads that finished before
// we started watching are not announced. Caller holds cycleMu.
func (s *Syncer) detect(snap registry.Snapshot) []TerminalEvent {
	current := make(map[string]task.Status, len(snap.Completed)+len(snap.Stopped))
	var events []TerminalEvent

	for _, list := range [][]*task.Task{snap.Completed, snap.Stopped} {
		for _, t := range list {
			current[t.GID] = t.Status
			if s.phase == phaseUninitialized || !t.Status.IsTerminal() {
				continue
			}
			if prev, ok := s.terminal[t.GID]; ok && prev == t.Status {
				continue
			}
			events = append(events, TerminalEvent{
				GID:          t.GID,
				Name:         t.Name(),
				Status:       t.Status,
				ErrorCode:    t.ErrorCode,
				ErrorMessage: t.ErrorMessage,
				Task:         t,
				At:           s.now(),
			})
		}
	}

	s.terminal = current
	switch s.phase {
	case phaseUninitialized:
		s.phase = phaseBaseline
		s.log.Debug().Int("tasks", len(current)).Msg("terminal baseline recorded")
	case phaseBaseline:
		s.phase = phaseSteady
	}
	return events
}

func (s *Syncer) dispatch(ctx context.Context, events []TerminalEvent) {
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	handlers := append([]EventHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, ev := range events {
		s.log.Info().
			Str("gid", ev.GID).
			Str("name", ev.Name).
			Str("status", string(ev.Status)).
			Msg("download finished")
		for _, h := range handlers {
			h.HandleTerminal(ctx, ev)
		}
	}
}
