package scenario

import (
	"context"
	"time"

	"github.com/loykin/ctiharness/internal/target"
)

// resumeSettle lets both cores run before the group halt in B.
const resumeSettle = 200 * time.Millisecond

func bringUp(ctx context.Context, e *Env) error {
	if err := requireImage("A", "--elf-spin", e.Images.Spin); err != nil {
		return err
	}
	if err := e.Debugger.Run(ctx, "A", e.Images.Spin, []string{"load", "monitor reset run"}); err != nil {
		return err
	}
	s := e.Session
	if err := e.steps(ctx, e.examine(s.Core0), e.examine(s.Core1)); err != nil {
		return err
	}
	return e.ServerLog.Contains("CTI")
}

func groupHalt(ctx context.Context, e *Env) error {
	s := e.Session
	if err := e.steps(ctx, e.selectCore(s.Core0), e.Target.Resume); err != nil {
		return err
	}
	if err := e.sleep(ctx, resumeSettle); err != nil {
		return err
	}
	if err := e.Target.Halt(ctx); err != nil {
		return err
	}
	return e.waitAll(ctx, target.StateHalted, s.Core0, s.Core1)
}

func groupResume(ctx context.Context, e *Env) error {
	s := e.Session
	if err := e.steps(ctx, e.selectCore(s.Core0), e.Target.Halt); err != nil {
		return err
	}
	if err := e.waitAll(ctx, target.StateHalted, s.Core0, s.Core1); err != nil {
		return err
	}
	if err := e.Target.Resume(ctx); err != nil {
		return err
	}
	return e.waitAll(ctx, target.StateRunning, s.Core0, s.Core1)
}

func breakpointHit(ctx context.Context, e *Env) error {
	if err := requireImage("D", "--elf-bkpt", e.Images.Bkpt); err != nil {
		return err
	}
	return e.Debugger.Run(ctx, "D", e.Images.Bkpt, []string{
		"break " + e.Symbols.Bkpt,
		"continue",
		"monitor halt",
		"info threads",
	})
}

func singleStep(ctx context.Context, e *Env) error {
	if err := requireImage("E", "--elf-step", e.Images.Step); err != nil {
		return err
	}
	return e.Debugger.Run(ctx, "E", e.Images.Step, []string{
		"break " + e.Symbols.Step,
		"continue",
		"x/4i $pc",
		"stepi",
		"x/4i $pc",
		"monitor halt",
	})
}

func partialExamine(ctx context.Context, e *Env) error {
	s := e.Session
	if err := e.steps(ctx, e.examine(s.Core0), e.selectCore(s.Core0), e.Target.Halt); err != nil {
		return err
	}
	if err := e.waitAll(ctx, target.StateHalted, s.Core0); err != nil {
		return err
	}
	e.info("verify unavailable-core diagnostics in %s", e.ServerLog.Path)
	return nil
}

func negativeConfig(ctx context.Context, e *Env) error {
	e.info("run with a config that omits one -cti binding")
	return e.steps(ctx, e.selectCore(e.Session.Core0), e.Target.Halt, e.Target.Resume)
}

func timeoutStress(ctx context.Context, e *Env) error {
	e.info("requires platform-specific delay/clock-gating setup")
	return e.steps(ctx, e.selectCore(e.Session.Core0), e.Target.Halt, e.Target.Resume)
}
