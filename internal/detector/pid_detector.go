package detector

import (
	"context"
	"fmt"
	"slices"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PIDDetector detects by a provided PID number. Zombies count as dead.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive(ctx context.Context) (bool, error) { return pidAlive(ctx, d.PID), nil }
func (d PIDDetector) Describe() string                        { return fmt.Sprintf("pid:%d", d.PID) }

func pidAlive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	st, err := p.StatusWithContext(ctx)
	if err == nil && slices.Contains(st, gopsproc.Zombie) {
		return false
	}
	return true
}

// ProcStartUnix returns the process creation time in Unix seconds, or 0 when unknown.
func ProcStartUnix(ctx context.Context, pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}
