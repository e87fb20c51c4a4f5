package gdb

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loykin/ctiharness/internal/fault"
)

// Debugger runs a list of debugger commands against image. name identifies the
// scenario and is used for the script and log file names.
type Debugger interface {
	Run(ctx context.Context, name, image string, cmds []string) error
}

// Runner invokes the debugger binary as `<bin> -q -batch -x <script>`.
type Runner struct {
	Bin     string
	WorkDir string
	GDBPort int
	Core0   string
	Logger  *slog.Logger
}

// ScriptPath is where the batch script for name is written.
func (r *Runner) ScriptPath(name string) string { return filepath.Join(r.WorkDir, name+".gdb") }

// LogPath is where stdout and stderr of the debugger for name are captured.
func (r *Runner) LogPath(name string) string { return filepath.Join(r.WorkDir, name+".gdb.log") }

func (r *Runner) Run(ctx context.Context, name, image string, cmds []string) error {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	script := Script{Image: image, GDBPort: r.GDBPort, Core0: r.Core0, Commands: cmds}
	scriptPath := r.ScriptPath(name)
	if err := os.WriteFile(scriptPath, []byte(script.String()), 0o644); err != nil {
		return fault.DebuggerInvocation(err, "could not write debugger script %s", scriptPath)
	}

	logPath := r.LogPath(name)
	out, err := os.Create(logPath)
	if err != nil {
		return fault.DebuggerInvocation(err, "could not create debugger log %s", logPath)
	}
	defer out.Close()

	// #nosec G204 -- debugger path comes from the operator's configuration
	cmd := exec.CommandContext(ctx, r.Bin, "-q", "-batch", "-x", scriptPath)
	cmd.Dir = r.WorkDir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 3 * time.Second

	start := time.Now()
	log.Info("running debugger", "scenario", name, "image", image, "script", scriptPath)
	err = cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return fault.DebuggerInvocation(err, "debugger exited with status %d, see %s", ee.ExitCode(), logPath)
		}
		return fault.DebuggerInvocation(err, "debugger failed, see %s", logPath)
	}
	log.Debug("debugger finished", "scenario", name, "elapsed", time.Since(start))
	return nil
}

var _ Debugger = (*Runner)(nil)
