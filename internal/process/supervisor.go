package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/benbjohnson/clock"

	"github.com/loykin/ctiharness/internal/detector"
	"github.com/loykin/ctiharness/internal/env"
	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/metrics"
	"github.com/loykin/ctiharness/internal/poll"
)

// Supervisor owns at most one debug server process. It is created by the run's
// top-level scope, which registers `defer Stop()` before calling Start.
type Supervisor struct {
	spec Spec
	env  *env.Env
	clk  clock.Clock
	log  *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	waitDone chan struct{} // closed when cmd.Wait returns
	stopped  bool          // a stop mode has been recorded for cmd
	status   Status
}

type Option func(*Supervisor)

func WithEnv(e *env.Env) Option        { return func(s *Supervisor) { s.env = e } }
func WithClock(c clock.Clock) Option   { return func(s *Supervisor) { s.clk = c } }
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.log = l } }

func NewSupervisor(spec Spec, opts ...Option) *Supervisor {
	s := &Supervisor{spec: spec.withDefaults(), env: env.New(), clk: clock.New(), log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start spawns the server and waits until ready reports alive. A server that exits
// early or never becomes ready is a ServerStartup fault; the child, if any, is left
// for Stop to reap.
func (s *Supervisor) Start(ctx context.Context, ready detector.Detector) error {
	if s.Alive() {
		s.log.Warn("server already running, stopping it before restart", "name", s.spec.Name, "pid", s.PID())
		if err := s.Stop(); err != nil {
			return fault.ServerStartup(err, "could not stop previous %s", s.spec.Name)
		}
	}
	if s.spec.PIDFile != "" {
		if alive, _ := (detector.PIDFileDetector{PIDFile: s.spec.PIDFile}).Alive(ctx); alive {
			pid, _, _ := detector.ReadPIDFile(s.spec.PIDFile)
			return fault.ServerStartup(nil, "%s from a previous run is still alive (pid %d, %s)", s.spec.Name, pid, s.spec.PIDFile)
		}
	}

	cmd, closers := s.configureCmd()
	if err := cmd.Start(); err != nil {
		closeAll(closers)
		return fault.ServerStartup(err, "failed to start %s", s.spec.Path)
	}
	wd := s.setStarted(cmd)
	go s.wait(cmd, wd, closers)
	s.writePIDFile(ctx, cmd.Process.Pid)
	metrics.IncServerStart()
	s.log.Info("server started", "name", s.spec.Name, "pid", cmd.Process.Pid, "args", s.spec.Args)

	if ready == nil {
		return nil
	}
	err := poll.Until(ctx, s.clk, s.spec.ReadyInterval, s.spec.ReadyTimeout, func(ctx context.Context) (bool, error) {
		select {
		case <-wd:
			return false, errExitedEarly
		default:
		}
		return ready.Alive(ctx)
	})
	switch {
	case err == nil:
		s.log.Info("server ready", "name", s.spec.Name, "detector", ready.Describe())
		return nil
	case errors.Is(err, errExitedEarly):
		return fault.ServerStartup(nil, "%s exited before becoming ready (%s)", s.spec.Name, s.Snapshot().ExitErr)
	case errors.Is(err, poll.ErrDeadline):
		return fault.ServerStartup(nil, "%s did not come up within %s (%s)", s.spec.Name, s.spec.ReadyTimeout, ready.Describe())
	default:
		return err
	}
}

var errExitedEarly = errors.New("server exited")

// Stop terminates the server: SIGTERM to its process group, then SIGKILL if it is
// still alive after StopTimeout. It is safe to call before Start, after a failed
// Start, and any number of times; only the first stop of a child is recorded.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd, wd, stopped := s.cmd, s.waitDone, s.stopped
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil || stopped {
		return nil
	}
	defer s.removePIDFile()

	select {
	case <-wd:
		s.markStopped("exited")
		return nil
	default:
	}

	pid := cmd.Process.Pid
	_ = signalGroup(pid, syscall.SIGTERM)
	select {
	case <-wd:
		if s.markStopped("graceful") {
			s.log.Info("server stopped", "name", s.spec.Name, "pid", pid)
		}
		return nil
	case <-s.clk.After(s.spec.StopTimeout):
	}

	s.log.Warn("server ignored SIGTERM, killing", "name", s.spec.Name, "pid", pid, "waited", s.spec.StopTimeout)
	_ = signalGroup(pid, syscall.SIGKILL)
	select {
	case <-wd:
		s.markStopped("kill")
		return nil
	case <-s.clk.After(s.spec.KillTimeout):
		return fmt.Errorf("%s (pid %d) still running after SIGKILL", s.spec.Name, pid)
	}
}

// Alive reports whether the owned child is still running.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	cmd, wd := s.cmd, s.waitDone
	s.mu.Unlock()
	if cmd == nil {
		return false
	}
	select {
	case <-wd:
		return false
	default:
		return true
	}
}

func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.PID
}

// Snapshot returns a copy of the current status.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) configureCmd() (*exec.Cmd, []io.Closer) {
	cmd := s.spec.BuildCommand()
	cmd.Env = s.env.Merge(s.spec.Env)
	configureSysProcAttr(cmd)

	var closers []io.Closer
	var out io.Writer
	if s.spec.Console.Enabled() {
		if s.spec.Console.Dir != "" {
			_ = os.MkdirAll(s.spec.Console.Dir, 0o750)
		}
		w := s.spec.Console.Writer(s.spec.Name + ".console")
		closers = append(closers, w)
		out = w
	} else if null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0); err == nil {
		closers = append(closers, null)
		out = null
	}
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd, closers
}

func (s *Supervisor) setStarted(cmd *exec.Cmd) chan struct{} {
	wd := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.waitDone = wd
	s.stopped = false
	s.status = Status{Name: s.spec.Name, Running: true, PID: cmd.Process.Pid, StartedAt: s.clk.Now()}
	s.mu.Unlock()
	return wd
}

// wait is the single waiter for cmd; it records the exit and releases writers.
func (s *Supervisor) wait(cmd *exec.Cmd, wd chan struct{}, closers []io.Closer) {
	err := cmd.Wait()
	closeAll(closers)
	s.mu.Lock()
	if s.cmd == cmd {
		s.status.Running = false
		s.status.StoppedAt = s.clk.Now()
		if err != nil {
			s.status.ExitErr = err.Error()
		}
	}
	s.mu.Unlock()
	close(wd)
}

// markStopped records mode for the current child unless a concurrent Stop already did.
func (s *Supervisor) markStopped(mode string) bool {
	s.mu.Lock()
	first := !s.stopped
	if first {
		s.stopped = true
		s.status.StopMode = mode
	}
	s.mu.Unlock()
	if first {
		metrics.IncServerStop(mode)
	}
	return first
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

func (s *Supervisor) writePIDFile(ctx context.Context, pid int) {
	if s.spec.PIDFile == "" {
		return
	}
	_ = os.MkdirAll(filepath.Dir(s.spec.PIDFile), 0o750)
	meta := detector.Meta{StartUnix: detector.ProcStartUnix(ctx, pid)}
	if err := detector.WritePIDFile(s.spec.PIDFile, pid, meta); err != nil {
		s.log.Warn("could not write pidfile", "path", s.spec.PIDFile, "error", err)
	}
}

func (s *Supervisor) removePIDFile() {
	if s.spec.PIDFile == "" {
		return
	}
	_ = os.Remove(s.spec.PIDFile)
}
