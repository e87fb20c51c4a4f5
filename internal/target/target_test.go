package target

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/tcl"
	"github.com/loykin/ctiharness/internal/tcl/tcltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runningAfter replies "halted" to the first n curstate queries and "running" afterwards.
func runningAfter(n int32) (tcltest.Handler, *atomic.Int32) {
	var polls atomic.Int32
	return func(cmd string) string {
		if strings.HasSuffix(cmd, " curstate") {
			if polls.Add(1) > n {
				return "running"
			}
			return "halted"
		}
		return ""
	}, &polls
}

func newTarget(t *testing.T, h tcltest.Handler) (*Target, *tcltest.Server) {
	t.Helper()
	srv, err := tcltest.NewServer(h)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return New(tcl.New(srv.Host(), srv.Port(), time.Second)), srv
}

func TestWaitForStateSucceedsWhenPollsFitBudget(t *testing.T) {
	h, polls := runningAfter(3)
	tg, _ := newTarget(t, h)

	err := tg.WaitForState(context.Background(), "r5.cpu1", StateRunning, time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 4, polls.Load())
}

func TestWaitForStateTimesOutWhenPollsExceedBudget(t *testing.T) {
	h, _ := runningAfter(20)
	tg, _ := newTarget(t, h)

	start := time.Now()
	err := tg.WaitForState(context.Background(), "r5.cpu1", StateRunning, time.Second)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindStateTimeout))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Contains(t, err.Error(), "r5.cpu1")
	assert.Contains(t, err.Error(), "'running'")
	assert.Contains(t, err.Error(), "last state 'halted'")
}

func TestWaitForStateChannelErrorIsFatal(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	tg := New(senderFunc(func(ctx context.Context, cmd string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return "", fault.Channel(errors.New("reset by peer"), "control command %q failed", cmd)
	}))

	err := tg.WaitForState(context.Background(), "r5.cpu0", StateHalted, time.Second)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindChannel))
	assert.Equal(t, 1, calls, "no retry on steady-state channel errors")
}

func TestCurStateStripsLineBreaks(t *testing.T) {
	tg := New(senderFunc(func(context.Context, string) (string, error) { return "hal\nted", nil }))
	st, err := tg.CurState(context.Background(), "r5.cpu0")
	require.NoError(t, err)
	assert.Equal(t, StateHalted, st)
}

func TestCommandsSentVerbatim(t *testing.T) {
	tg, srv := newTarget(t, func(string) string { return "" })
	ctx := context.Background()
	require.NoError(t, tg.Select(ctx, "r5.cpu0"))
	require.NoError(t, tg.Resume(ctx))
	require.NoError(t, tg.Halt(ctx))
	require.NoError(t, tg.Examine(ctx, "r5.cpu1"))
	assert.Equal(t, []string{"targets r5.cpu0", "resume", "halt", "r5.cpu1 arp_examine"}, srv.Commands())
}

type senderFunc func(ctx context.Context, cmd string) (string, error)

func (f senderFunc) Send(ctx context.Context, cmd string) (string, error) { return f(ctx, cmd) }
