package scenario

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/runlog"
	"github.com/loykin/ctiharness/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simTarget models a CTI-coupled pair: halt and resume apply to both cores.
type simTarget struct {
	mu    sync.Mutex
	state target.State
	cmds  []string
}

func (s *simTarget) Send(_ context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	switch {
	case cmd == "halt":
		s.state = target.StateHalted
	case cmd == "resume":
		s.state = target.StateRunning
	case strings.HasSuffix(cmd, " curstate"):
		return string(s.state), nil
	}
	return "", nil
}

func (s *simTarget) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cmds...)
}

type debugCall struct {
	Name, Image string
	Cmds        []string
}

type fakeDebugger struct {
	calls []debugCall
	err   error
}

func (f *fakeDebugger) Run(_ context.Context, name, image string, cmds []string) error {
	f.calls = append(f.calls, debugCall{name, image, cmds})
	return f.err
}

func newEnv(t *testing.T, sim *simTarget, dbg *fakeDebugger) (*Env, *bytes.Buffer) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "openocd.log")
	require.NoError(t, os.WriteFile(logPath, []byte("Info : CTI-bound\n"), 0o600))
	out := &bytes.Buffer{}
	return &Env{
		Session:      target.Session{Host: "127.0.0.1", TCLPort: 6666, GDBPort: 3333, Core0: "r5.cpu0", Core1: "r5.cpu1"},
		Target:       target.New(sim, target.WithPollInterval(5*time.Millisecond)),
		Debugger:     dbg,
		ServerLog:    runlog.Log{Path: logPath},
		Images:       Images{Spin: "spin.elf", Bkpt: "bkpt.elf", Step: "step.elf"},
		Symbols:      Symbols{Bkpt: "cti_breakpoint_marker", Step: "cti_step_marker"},
		StateTimeout: time.Second,
		Out:          out,
	}, out
}

func TestLetters(t *testing.T) {
	assert.Equal(t, strings.Split(Canonical, ""), Letters(nil))
	assert.Equal(t, []string{"b", "C", "a"}, Letters([]string{"bC", "a"}))
	assert.Equal(t, []string{"Z"}, Letters([]string{" Z "}))
	assert.Equal(t, []string{"B", "C"}, Letters([]string{"B C"}))
	assert.Equal(t, []string{"A", "", "H"}, Letters([]string{"A", "", "H"}))
	assert.Equal(t, []string{" "}, Letters([]string{" "}))
}

func TestRunBlankSelectionIsUnknown(t *testing.T) {
	sim := &simTarget{}
	env, out := newEnv(t, sim, &fakeDebugger{})
	r := NewRunner(env)

	err := r.Run(context.Background(), Letters([]string{""}))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindUnknownScenario))
	assert.Contains(t, err.Error(), "''")
	assert.Empty(t, r.Results())
	assert.Empty(t, sim.commands())
	assert.Empty(t, out.String())
}

func TestRunExactOrderAndSubset(t *testing.T) {
	var ran []string
	table := map[string]Scenario{}
	for _, l := range strings.Split(Canonical, "") {
		table[l] = Scenario{Letter: l, Title: "t" + l, Run: func(context.Context, *Env) error {
			ran = append(ran, l)
			return nil
		}}
	}
	env, out := newEnv(t, &simTarget{}, &fakeDebugger{})
	r := NewRunner(env, WithTable(table))

	require.NoError(t, r.Run(context.Background(), Letters([]string{"h", "C", "a"})))
	assert.Equal(t, []string{"H", "C", "A"}, ran)
	assert.Equal(t, "[H] tH\n[C] tC\n[A] tA\n", out.String())
	assert.Len(t, r.Results(), 3)
}

func TestRunUnknownLetterStopsAtPosition(t *testing.T) {
	sim := &simTarget{}
	env, out := newEnv(t, sim, &fakeDebugger{})
	r := NewRunner(env)

	err := r.Run(context.Background(), []string{"G", "z", "H"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindUnknownScenario))
	assert.Equal(t, "unknown scenario 'z'", err.Error())
	assert.Contains(t, out.String(), "[G] Negative CTI configuration")
	assert.NotContains(t, out.String(), "[H]")
	assert.Len(t, r.Results(), 1)
}

func TestRunFirstFailureAborts(t *testing.T) {
	dbg := &fakeDebugger{}
	env, _ := newEnv(t, &simTarget{}, dbg)
	env.Images.Bkpt = ""
	var finished []Result
	r := NewRunner(env, WithHooks(Hooks{Finished: func(res Result) { finished = append(finished, res) }}))

	err := r.Run(context.Background(), []string{"D", "E"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConfiguration))
	assert.Contains(t, err.Error(), "--elf-bkpt is required for scenario D")
	assert.Empty(t, dbg.calls)
	require.Len(t, finished, 1)
	assert.Equal(t, StatusFailed, finished[0].Status)
}

func TestGroupScenariosNeverTouchDebugger(t *testing.T) {
	sim := &simTarget{}
	dbg := &fakeDebugger{}
	env, _ := newEnv(t, sim, dbg)
	env.Images = Images{}

	require.NoError(t, NewRunner(env).Run(context.Background(), []string{"B", "C"}))
	assert.Empty(t, dbg.calls)

	var control []string
	for _, c := range sim.commands() {
		if !strings.HasSuffix(c, " curstate") {
			control = append(control, c)
		}
	}
	assert.Equal(t, []string{"targets r5.cpu0", "resume", "halt", "targets r5.cpu0", "halt", "resume"}, control)
}

func TestBringUp(t *testing.T) {
	sim := &simTarget{}
	dbg := &fakeDebugger{}
	env, _ := newEnv(t, sim, dbg)

	require.NoError(t, NewRunner(env).Run(context.Background(), []string{"A"}))
	require.Len(t, dbg.calls, 1)
	assert.Equal(t, debugCall{"A", "spin.elf", []string{"load", "monitor reset run"}}, dbg.calls[0])
	assert.Equal(t, []string{"r5.cpu0 arp_examine", "r5.cpu1 arp_examine"}, sim.commands())
}

func TestBringUpMissingMarker(t *testing.T) {
	env, _ := newEnv(t, &simTarget{}, &fakeDebugger{})
	require.NoError(t, os.WriteFile(env.ServerLog.Path, []byte("Info : no cross trigger\n"), 0o600))

	err := NewRunner(env).Run(context.Background(), []string{"A"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindLogAssertion))
}

func TestDebuggerScenarios(t *testing.T) {
	dbg := &fakeDebugger{}
	env, _ := newEnv(t, &simTarget{}, dbg)

	require.NoError(t, NewRunner(env).Run(context.Background(), []string{"D", "E"}))
	require.Len(t, dbg.calls, 2)
	assert.Equal(t, []string{"break cti_breakpoint_marker", "continue", "monitor halt", "info threads"}, dbg.calls[0].Cmds)
	assert.Equal(t, "step.elf", dbg.calls[1].Image)
	assert.Equal(t, []string{"break cti_step_marker", "continue", "x/4i $pc", "stepi", "x/4i $pc", "monitor halt"}, dbg.calls[1].Cmds)
}

func TestAdvisoryScenarios(t *testing.T) {
	sim := &simTarget{}
	env, out := newEnv(t, sim, &fakeDebugger{})

	require.NoError(t, NewRunner(env).Run(context.Background(), []string{"F", "G", "H"}))
	assert.Contains(t, out.String(), "INFO: verify unavailable-core diagnostics in "+env.ServerLog.Path)
	assert.Contains(t, out.String(), "INFO: run with a config that omits one -cti binding")
	assert.Contains(t, out.String(), "INFO: requires platform-specific delay/clock-gating setup")
	var control []string
	for _, c := range sim.commands() {
		if !strings.HasSuffix(c, " curstate") {
			control = append(control, c)
		}
	}
	assert.Equal(t, []string{
		"r5.cpu0 arp_examine", "targets r5.cpu0", "halt",
		"targets r5.cpu0", "halt", "resume",
		"targets r5.cpu0", "halt", "resume",
	}, control)
}

func TestProcedureStopsAtFirstFailedCommand(t *testing.T) {
	var sent []string
	env, _ := newEnv(t, &simTarget{}, &fakeDebugger{})
	env.Target = target.New(senderFunc(func(_ context.Context, cmd string) (string, error) {
		sent = append(sent, cmd)
		if cmd == "halt" {
			return "", fault.Channel(errors.New("connection reset"), "control command %q failed", cmd)
		}
		return "", nil
	}))

	err := NewRunner(env).Run(context.Background(), []string{"G"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindChannel))
	assert.Equal(t, []string{"targets r5.cpu0", "halt"}, sent)
}

func TestStateTimeoutFailsScenario(t *testing.T) {
	sim := &simTarget{}
	env, _ := newEnv(t, sim, &fakeDebugger{})
	env.StateTimeout = 50 * time.Millisecond
	// a core that never leaves reset
	env.Target = target.New(senderFunc(func(_ context.Context, cmd string) (string, error) {
		if strings.HasSuffix(cmd, " curstate") {
			return "reset", nil
		}
		return "", nil
	}), target.WithPollInterval(5*time.Millisecond))

	err := NewRunner(env).Run(context.Background(), []string{"C"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindStateTimeout))
}

func TestSorted(t *testing.T) {
	letters := ""
	for _, s := range Sorted(Table()) {
		letters += s.Letter
	}
	assert.Equal(t, Canonical, letters)
}

type senderFunc func(ctx context.Context, cmd string) (string, error)

func (f senderFunc) Send(ctx context.Context, cmd string) (string, error) { return f(ctx, cmd) }
