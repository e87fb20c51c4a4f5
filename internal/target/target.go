package target

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/metrics"
	"github.com/loykin/ctiharness/internal/poll"
)

// State is a run state token reported by `<core> curstate`.
type State string

const (
	StateHalted          State = "halted"
	StateRunning         State = "running"
	StateReset           State = "reset"
	StateDebugRunning    State = "debug-running"
	StateUnknown         State = "unknown"
	StateExamineDeferred State = "examine-deferred"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStateTimeout = 5 * time.Second
)

// Sender delivers one control command and returns its reply.
type Sender interface {
	Send(ctx context.Context, cmd string) (string, error)
}

// Session identifies the debug server endpoint and the two cores under test.
type Session struct {
	Host    string
	TCLPort int
	GDBPort int
	Core0   string
	Core1   string
}

// Target issues control commands against one session.
type Target struct {
	ch       Sender
	clk      clock.Clock
	interval time.Duration
	log      *slog.Logger
}

type Option func(*Target)

// WithClock replaces the wall clock used by WaitForState.
func WithClock(c clock.Clock) Option { return func(t *Target) { t.clk = c } }

// WithPollInterval overrides the curstate polling interval.
func WithPollInterval(d time.Duration) Option { return func(t *Target) { t.interval = d } }

func WithLogger(l *slog.Logger) Option { return func(t *Target) { t.log = l } }

func New(ch Sender, opts ...Option) *Target {
	t := &Target{ch: ch, clk: clock.New(), interval: DefaultPollInterval, log: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Command sends a raw control command.
func (t *Target) Command(ctx context.Context, cmd string) (string, error) {
	out, err := t.ch.Send(ctx, cmd)
	if err != nil {
		return "", err
	}
	t.log.Debug("control command", "cmd", cmd, "reply", out)
	return out, nil
}

// Select makes core the current target (`targets <core>`).
func (t *Target) Select(ctx context.Context, core string) error {
	_, err := t.Command(ctx, "targets "+core)
	return err
}

func (t *Target) Halt(ctx context.Context) error {
	_, err := t.Command(ctx, "halt")
	return err
}

func (t *Target) Resume(ctx context.Context) error {
	_, err := t.Command(ctx, "resume")
	return err
}

// Examine forces re-examination of a core that was unavailable or reset.
func (t *Target) Examine(ctx context.Context, core string) error {
	_, err := t.Command(ctx, core+" arp_examine")
	return err
}

// CurState queries the current state of core. Line breaks inside the reply are dropped.
func (t *Target) CurState(ctx context.Context, core string) (State, error) {
	out, err := t.Command(ctx, core+" curstate")
	if err != nil {
		return "", err
	}
	out = strings.NewReplacer("\r", "", "\n", "").Replace(out)
	return State(out), nil
}

// WaitForState polls core until it reports expected or timeout elapses. A channel
// failure while polling aborts immediately.
func (t *Target) WaitForState(ctx context.Context, core string, expected State, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStateTimeout
	}
	start := t.clk.Now()
	var last State
	err := poll.Until(ctx, t.clk, t.interval, timeout, func(ctx context.Context) (bool, error) {
		st, err := t.CurState(ctx, core)
		if err != nil {
			return false, err
		}
		last = st
		return st == expected, nil
	})
	elapsed := t.clk.Since(start)
	switch {
	case err == nil:
		metrics.ObserveStateWait(core, string(expected), "matched", elapsed.Seconds())
		t.log.Debug("state reached", "core", core, "state", expected, "elapsed", elapsed)
		return nil
	case errors.Is(err, poll.ErrDeadline):
		metrics.ObserveStateWait(core, string(expected), "timeout", elapsed.Seconds())
		if last == "" {
			last = StateUnknown
		}
		return fault.StateTimeout("%s did not reach state '%s' in %.1fs (last state '%s')", core, expected, elapsed.Seconds(), last)
	default:
		metrics.ObserveStateWait(core, string(expected), "error", elapsed.Seconds())
		return err
	}
}
