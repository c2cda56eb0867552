// Package engine supervises the aria2c process the client talks to.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Masterminds/semver"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/s0up4200/motrix-go/internal/rpc"
)

// oldest aria2 release the option set above is known to work with
const minEngineVersion = "1.35.0"

var (
	ErrNotReady = errors.New("engine rpc did not become ready")
	errExited   = errors.New("engine process exited")
)

type BinaryNotFoundError struct {
	Path string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("aria2c binary not found at %s", e.Path)
}

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateUnhealthy:
		return "unhealthy"
	}
	return "unknown"
}

// Prober checks whether an engine answers on the RPC endpoint.
type Prober interface {
	GetVersion(ctx context.Context) (rpc.VersionInfo, error)
}

type Supervisor struct {
	probe Prober
	log   zerolog.Logger

	readyDelay    time.Duration
	readyInterval time.Duration
	readyAttempts uint
	stopGrace     time.Duration
	restartDelay  time.Duration

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	exited   chan struct{}
	attached bool
	adopted  *os.Process
	pidPath  string
}

func NewSupervisor(probe Prober) *Supervisor {
	return &Supervisor{
		probe:         probe,
		log:           log.With().Str("component", "engine").Logger(),
		readyDelay:    500 * time.Millisecond,
		readyInterval: 300 * time.Millisecond,
		readyAttempts: 30,
		stopGrace:     5 * time.Second,
		restartDelay:  500 * time.Millisecond,
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// PID is zero when nothing runs, or for an attached engine that left no
// pid file behind.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	if s.adopted != nil {
		return s.adopted.Pid
	}
	return 0
}

// MarkUnhealthy flags a running engine for recovery.
func (s *Supervisor) MarkUnhealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.state = StateUnhealthy
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start brings the engine up. An engine already answering on the port is
// adopted as is; otherwise the binary is spawned and Start waits for its
// RPC to respond.
func (s *Supervisor) Start(ctx context.Context, opts Options) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	if v, err := s.probeOnce(ctx); err == nil {
		proc := adopt(opts.PidPath())
		s.mu.Lock()
		s.attached = true
		s.adopted = proc
		s.pidPath = opts.PidPath()
		s.state = StateRunning
		s.mu.Unlock()

		ev := s.log.Info().Str("version", v.Version).Int("port", opts.Port)
		if proc != nil {
			ev = ev.Int("pid", proc.Pid)
		}
		ev.Msg("attached to running engine")
		s.checkVersion(v)
		return nil
	}

	if _, err := os.Stat(opts.Binary); err != nil {
		s.setState(StateStopped)
		s.log.Error().Str("path", opts.Binary).Msg("engine binary not found")
		return &BinaryNotFoundError{Path: opts.Binary}
	}

	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("failed to create engine data directory: %w", err)
	}

	if err := s.spawn(opts); err != nil {
		s.setState(StateStopped)
		return err
	}

	v, err := s.waitReady(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("engine rpc not ready, stopping engine")
		s.Stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	s.mu.Lock()
	alive := s.cmd != nil
	if alive {
		s.state = StateRunning
	}
	s.mu.Unlock()
	if !alive {
		return fmt.Errorf("%w: %v", ErrNotReady, errExited)
	}

	s.log.Info().Str("version", v.Version).Int("pid", s.PID()).Msg("engine started")
	s.checkVersion(v)
	return nil
}

func (s *Supervisor) spawn(opts Options) error {
	args := BuildArgs(opts)
	cmd := exec.Command(opts.Binary, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to attach engine stderr: %w", err)
	}

	s.log.Debug().Str("binary", opts.Binary).Strs("args", args).Msg("spawning engine")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	pidPath := opts.PidPath()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
		s.log.Warn().Err(err).Str("path", pidPath).Msg("failed to write pid file")
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.attached = false
	s.adopted = nil
	s.pidPath = pidPath
	s.mu.Unlock()

	lines := make(chan struct{})
	go func() {
		defer close(lines)
		s.logStderr(stderr)
	}()

	go func() {
		<-lines
		err := cmd.Wait()
		os.Remove(pidPath)

		s.mu.Lock()
		unexpected := s.cmd == cmd
		if unexpected {
			s.cmd = nil
			s.state = StateStopped
		}
		s.mu.Unlock()
		close(exited)

		if unexpected {
			s.log.Warn().Err(err).Msg("engine exited unexpectedly")
		}
	}()

	return nil
}

func (s *Supervisor) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			s.log.Error().Str("stream", "stderr").Msg(line)
		}
	}
}

func (s *Supervisor) probeOnce(ctx context.Context) (rpc.VersionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return s.probe.GetVersion(ctx)
}

func (s *Supervisor) waitReady(ctx context.Context) (rpc.VersionInfo, error) {
	select {
	case <-time.After(s.readyDelay):
	case <-ctx.Done():
		return rpc.VersionInfo{}, ctx.Err()
	}

	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()

	var v rpc.VersionInfo
	err := retry.Do(
		func() error {
			select {
			case <-exited:
				return errExited
			default:
			}
			var err error
			v, err = s.probeOnce(ctx)
			return err
		},
		retry.Attempts(s.readyAttempts),
		retry.Delay(s.readyInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, errExited) }),
		retry.OnRetry(func(n uint, err error) {
			s.log.Trace().Uint("attempt", n+1).Err(err).Msg("engine rpc not ready yet")
		}),
	)
	return v, err
}

func (s *Supervisor) checkVersion(v rpc.VersionInfo) {
	current, err := semver.NewVersion(v.Version)
	if err != nil {
		s.log.Warn().Err(err).Str("version", v.Version).Msg("invalid engine version format")
		return
	}
	minimum, err := semver.NewVersion(minEngineVersion)
	if err != nil {
		return
	}
	if current.LessThan(minimum) {
		s.log.Warn().
			Str("version", current.String()).
			Str("minimum", minimum.String()).
			Msg("engine is older than the minimum supported version")
	}
}

// Stop terminates the engine. An attached engine is terminated through the
// pid file it left behind; without one it is only forgotten.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd, exited, attached, adopted, pidPath := s.cmd, s.exited, s.attached, s.adopted, s.pidPath
	s.cmd = nil
	s.attached = false
	s.adopted = nil
	s.state = StateStopped
	s.mu.Unlock()

	if cmd == nil {
		switch {
		case adopted != nil:
			s.terminate(adopted, pidPath)
		case attached:
			s.log.Debug().Msg("detached from engine, no pid file to stop it with")
		}
		return
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warn().Err(err).Msg("failed to signal engine")
	}

	select {
	case <-exited:
	case <-time.After(s.stopGrace):
		s.log.Warn().Dur("grace", s.stopGrace).Msg("engine did not exit, killing")
		cmd.Process.Kill()
		<-exited
	}
	os.Remove(pidPath)

	s.log.Info().Msg("engine stopped")
}

// adopt returns the live process named by the pid file at pidPath, if any.
func adopt(pidPath string) *os.Process {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil || !alive(proc) {
		return nil
	}
	return proc
}

func alive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// terminate stops a process this supervisor did not spawn and so cannot
// wait on: SIGTERM, then poll until it is gone, killing it after the grace
// period.
func (s *Supervisor) terminate(proc *os.Process, pidPath string) {
	defer os.Remove(pidPath)

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			s.log.Warn().Err(err).Int("pid", proc.Pid).Msg("failed to signal attached engine")
		}
		return
	}

	deadline := time.Now().Add(s.stopGrace)
	for alive(proc) {
		if time.Now().After(deadline) {
			s.log.Warn().Dur("grace", s.stopGrace).Int("pid", proc.Pid).Msg("attached engine did not exit, killing")
			proc.Kill()
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	s.log.Info().Int("pid", proc.Pid).Msg("attached engine stopped")
}

// Restart stops the engine, pauses briefly and starts it again.
func (s *Supervisor) Restart(ctx context.Context, opts Options) error {
	s.Stop()
	select {
	case <-time.After(s.restartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Start(ctx, opts)
}
