// Package harness wires configuration, the debug server supervisor and the scenario
// runner into one validation run.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/ctiharness/internal/config"
	"github.com/loykin/ctiharness/internal/detector"
	"github.com/loykin/ctiharness/internal/env"
	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/gdb"
	"github.com/loykin/ctiharness/internal/history"
	"github.com/loykin/ctiharness/internal/history/factory"
	"github.com/loykin/ctiharness/internal/logger"
	"github.com/loykin/ctiharness/internal/metrics"
	"github.com/loykin/ctiharness/internal/process"
	"github.com/loykin/ctiharness/internal/runlog"
	"github.com/loykin/ctiharness/internal/scenario"
	"github.com/loykin/ctiharness/internal/server"
	"github.com/loykin/ctiharness/internal/target"
	"github.com/loykin/ctiharness/internal/tcl"
)

// SocketTool is the external socket utility operators use to poke the control
// port by hand; its presence is part of the toolchain check.
const SocketTool = "nc"

// Harness runs the requested scenarios against one debug server.
type Harness struct {
	cfg      config.Config
	log      *slog.Logger
	out      io.Writer
	clk      clock.Clock
	lookPath func(string) (string, error)
}

type Option func(*Harness)

// WithOutput sets where scenario headers, INFO lines and the summary go.
func WithOutput(w io.Writer) Option    { return func(h *Harness) { h.out = w } }
func WithLogger(l *slog.Logger) Option { return func(h *Harness) { h.log = l } }
func WithClock(c clock.Clock) Option   { return func(h *Harness) { h.clk = c } }

func New(cfg config.Config, opts ...Option) *Harness {
	h := &Harness{cfg: cfg, log: slog.Default(), out: os.Stdout, clk: clock.New(), lookPath: exec.LookPath}
	for _, o := range opts {
		o(h)
	}
	return h
}

// CheckTools verifies the server, the debugger and the socket utility are on PATH.
func (h *Harness) CheckTools() error {
	for _, name := range []string{h.cfg.OpenOCDBin, h.cfg.GDBBin, SocketTool} {
		if _, err := h.lookPath(name); err != nil {
			return fault.ToolNotFound(name)
		}
	}
	return nil
}

// Run performs one validation run over the scenario letters in args.
func (h *Harness) Run(ctx context.Context, args []string) error {
	if err := h.CheckTools(); err != nil {
		return err
	}
	if err := h.cfg.Validate(); err != nil {
		return err
	}
	serverEnv, err := h.cfg.ServerEnvironment()
	if err != nil {
		return err
	}
	workDir := h.cfg.WorkDir
	for _, dir := range []string{workDir, filepath.Dir(h.cfg.OpenOCDLog)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fault.Configuration("cannot create directory %s: %v", dir, err)
		}
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		h.log.Warn("metrics registration failed", "error", err)
	}

	letters := scenario.Letters(args)
	run := &runState{id: uuid.NewString(), letters: letters, start: h.clk.Now()}
	run.progress = server.NewProgress(run.id, letters, run.start)
	log := h.log.With("run_id", run.id)
	log.Info("run starting", "scenarios", letters, "work_dir", workDir)

	if addr := h.cfg.StatusListen; addr != "" {
		srv, err := server.Listen(addr, "", run.progress)
		if err != nil {
			return fault.Configuration("cannot listen on %s: %v", addr, err)
		}
		log.Info("status endpoint listening", "addr", srv.Addr())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}
	if dsn := h.cfg.HistoryDSN; dsn != "" {
		sink, err := factory.NewSinkFromDSN(ctx, dsn)
		if err != nil {
			return fault.Configuration("cannot open history sink: %v", err)
		}
		run.sink = sink
		defer func() { _ = sink.Close() }()
	}
	h.record(ctx, run, history.Event{Type: history.EventRunStart})

	sup := process.NewSupervisor(h.serverSpec(serverEnv), process.WithEnv(env.New()), process.WithLogger(log))
	defer func() { _ = sup.Stop() }()
	run.progress.TrackServer(sup.Snapshot)

	runErr := h.execute(ctx, sup, run, log)
	if err := sup.Stop(); err != nil {
		log.Error("debug server did not stop", "error", err)
	}
	run.server = sup.Snapshot()
	if pid := run.server.PID; pid > 0 {
		// the group leader must be gone, not just reaped from our side
		if alive, _ := (detector.PIDDetector{PID: pid}).Alive(context.WithoutCancel(ctx)); alive {
			log.Error("debug server still running after stop", "pid", pid)
		}
	}
	return h.finish(ctx, run, runErr, log)
}

type runState struct {
	id       string
	letters  []string
	start    time.Time
	progress *server.Progress
	sink     history.Sink
	results  []scenario.Result
	server   process.Status
}

func (h *Harness) serverSpec(serverEnv []string) process.Spec {
	spec := process.Spec{
		Name:    "openocd",
		Path:    h.cfg.OpenOCDBin,
		Args:    h.cfg.ServerArgs(),
		Env:     serverEnv,
		PIDFile: filepath.Join(h.cfg.WorkDir, "openocd.pid"),
	}
	if h.cfg.ServerConsoleLog {
		spec.Console = logger.Config{Dir: h.cfg.WorkDir}
	}
	return spec
}

// execute starts the server and runs the scenarios; the caller stops the server.
func (h *Harness) execute(ctx context.Context, sup *process.Supervisor, run *runState, log *slog.Logger) error {
	ch := tcl.New(h.cfg.TCLHost, h.cfg.TCLPort, h.cfg.CommandTimeout)
	ready := detector.ProbeDetector{
		Name: "control channel " + ch.Addr(),
		Probe: func(ctx context.Context) error {
			_, err := ch.Send(ctx, "targets")
			return err
		},
	}
	if err := sup.Start(ctx, ready); err != nil {
		return err
	}

	senv := &scenario.Env{
		Session:      h.cfg.Session(),
		Target:       target.New(ch, target.WithClock(h.clk), target.WithLogger(log)),
		Debugger:     &gdb.Runner{Bin: h.cfg.GDBBin, WorkDir: h.cfg.WorkDir, GDBPort: h.cfg.GDBPort, Core0: h.cfg.Core0, Logger: log},
		ServerLog:    runlog.Log{Path: h.cfg.OpenOCDLog},
		Images:       scenario.Images{Spin: h.cfg.ElfSpin, Bkpt: h.cfg.ElfBkpt, Step: h.cfg.ElfStep},
		Symbols:      scenario.Symbols{Bkpt: h.cfg.BkptSymbol, Step: h.cfg.StepSymbol},
		StateTimeout: h.cfg.StateTimeout,
		Out:          h.out,
		Clock:        h.clk,
	}
	hooks := run.progress.Hooks()
	hooks.Finished = func(r scenario.Result) {
		run.progress.Finished(r)
		h.record(ctx, run, history.Event{
			Type: history.EventScenario, Scenario: r.Letter, Title: r.Title,
			Status: r.Status, Duration: r.Duration, Error: r.Error,
		})
	}
	runner := scenario.NewRunner(senv, scenario.WithHooks(hooks), scenario.WithLogger(log))
	err := runner.Run(ctx, run.letters)
	run.results = runner.Results()
	return err
}

func (h *Harness) finish(ctx context.Context, run *runState, runErr error, log *slog.Logger) error {
	end := h.clk.Now()
	run.progress.Done(end, runErr)

	rep := newReport(run, end, runErr)
	h.record(ctx, run, history.Event{Type: history.EventRunEnd, Status: rep.Status, Duration: end.Sub(run.start), Error: rep.Error})

	if len(run.results) > 0 {
		if err := writeTable(h.out, run.results); err != nil {
			log.Warn("summary table failed", "error", err)
		}
	}
	path := filepath.Join(h.cfg.WorkDir, "summary.yaml")
	if err := rep.writeYAML(path); err != nil {
		log.Warn("summary report failed", "path", path, "error", err)
	}
	if mf := h.cfg.MetricsFile; mf != "" {
		if err := metrics.WriteTextfile(mf); err != nil {
			log.Warn("metrics textfile failed", "path", mf, "error", err)
		}
	}

	if runErr != nil {
		log.Error("run failed", "error", runErr, "elapsed", end.Sub(run.start))
		return runErr
	}
	log.Info("run finished", "elapsed", end.Sub(run.start))
	_, _ = fmt.Fprintf(h.out, "All requested scenarios completed. Logs are in %s\n", h.cfg.WorkDir)
	return nil
}

// record sends to the history sink, if any. Sink failures never fail the run.
func (h *Harness) record(ctx context.Context, run *runState, e history.Event) {
	if run.sink == nil {
		return
	}
	e.RunID = run.id
	e.OccurredAt = h.clk.Now()
	if err := run.sink.Send(context.WithoutCancel(ctx), e); err != nil {
		h.log.Warn("history sink failed", "event", e.Type, "error", err)
	}
}
