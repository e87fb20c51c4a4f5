package process

import (
	"os/exec"
	"time"

	"github.com/loykin/ctiharness/internal/logger"
)

// Defaults for the server lifecycle.
const (
	DefaultReadyInterval = 200 * time.Millisecond
	DefaultReadyTimeout  = 10 * time.Second
	DefaultStopTimeout   = 3 * time.Second
	DefaultKillTimeout   = 3 * time.Second
)

// Spec describes the debug server process to supervise.
type Spec struct {
	Name    string        // label used in logs and for the console log file name
	Path    string        // binary, resolved through PATH when not absolute
	Args    []string      // arguments, passed without a shell
	WorkDir string        // optional working dir
	Env     []string      // extra KEY=VALUE entries on top of the harness environment
	PIDFile string        // optional pidfile written while the server runs
	Console logger.Config // optional capture of the server's stdout/stderr

	ReadyInterval time.Duration // readiness poll interval (default 200ms)
	ReadyTimeout  time.Duration // readiness deadline (default 10s)
	StopTimeout   time.Duration // wait after SIGTERM (default 3s)
	KillTimeout   time.Duration // wait after SIGKILL (default 3s)
}

// BuildCommand constructs the *exec.Cmd for the spec.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- binary and arguments come from the operator's configuration
	cmd := exec.Command(s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	return cmd
}

func (s Spec) withDefaults() Spec {
	if s.Name == "" {
		s.Name = "server"
	}
	if s.ReadyInterval <= 0 {
		s.ReadyInterval = DefaultReadyInterval
	}
	if s.ReadyTimeout <= 0 {
		s.ReadyTimeout = DefaultReadyTimeout
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}
	if s.KillTimeout <= 0 {
		s.KillTimeout = DefaultKillTimeout
	}
	return s
}
