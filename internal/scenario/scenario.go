// Package scenario holds the CTI validation scenarios A to H and runs them in order.
package scenario

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/gdb"
	"github.com/loykin/ctiharness/internal/runlog"
	"github.com/loykin/ctiharness/internal/target"
)

// Canonical is the default selection and order.
const Canonical = "ABCDEFGH"

// Images are the ELF programs some scenarios load through the debugger.
type Images struct {
	Spin string
	Bkpt string
	Step string
}

// Symbols are the marker functions the breakpoint and step programs expose.
type Symbols struct {
	Bkpt string
	Step string
}

// Env is everything a scenario procedure may touch.
type Env struct {
	Session      target.Session
	Target       *target.Target
	Debugger     gdb.Debugger
	ServerLog    runlog.Log
	Images       Images
	Symbols      Symbols
	StateTimeout time.Duration
	Out          io.Writer
	Clock        clock.Clock
}

// Scenario is one lettered validation procedure.
type Scenario struct {
	Letter string
	Title  string
	Image  string // flag naming the required image, empty when none
	Run    func(ctx context.Context, env *Env) error
}

// Table returns the scenarios keyed by letter.
func Table() map[string]Scenario {
	return map[string]Scenario{
		"A": {Letter: "A", Title: "Bring-up and configuration checks", Image: "--elf-spin", Run: bringUp},
		"B": {Letter: "B", Title: "Group halt propagation", Run: groupHalt},
		"C": {Letter: "C", Title: "Group synchronized resume", Run: groupResume},
		"D": {Letter: "D", Title: "Breakpoint hit behavior", Image: "--elf-bkpt", Run: breakpointHit},
		"E": {Letter: "E", Title: "Single-step interaction", Image: "--elf-step", Run: singleStep},
		"F": {Letter: "F", Title: "Partial examination / unavailable core", Run: partialExamine},
		"G": {Letter: "G", Title: "Negative CTI configuration", Run: negativeConfig},
		"H": {Letter: "H", Title: "Timeout stress", Run: timeoutStress},
	}
}

func (e *Env) info(format string, args ...any) {
	fmt.Fprintf(e.Out, "INFO: "+format+"\n", args...)
}

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.Clock.After(d):
		return nil
	}
}

// step is one control-channel action of a procedure.
type step func(ctx context.Context) error

// steps runs each step in order and stops at the first failure.
func (e *Env) steps(ctx context.Context, ss ...step) error {
	for _, s := range ss {
		if err := s(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) selectCore(core string) step {
	return func(ctx context.Context) error { return e.Target.Select(ctx, core) }
}

func (e *Env) examine(core string) step {
	return func(ctx context.Context) error { return e.Target.Examine(ctx, core) }
}

func (e *Env) waitAll(ctx context.Context, st target.State, cores ...string) error {
	for _, core := range cores {
		if err := e.Target.WaitForState(ctx, core, st, e.StateTimeout); err != nil {
			return err
		}
	}
	return nil
}

func requireImage(letter, flag, path string) error {
	if path == "" {
		return fault.Configuration("%s is required for scenario %s", flag, letter)
	}
	return nil
}
