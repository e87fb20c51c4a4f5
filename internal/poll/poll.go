package poll

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrDeadline is returned by Until when the condition never held before the deadline.
var ErrDeadline = errors.New("deadline elapsed before condition held")

// Condition is evaluated once per tick. A non-nil error stops polling immediately.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond every interval until it reports true or the deadline
// (now + timeout) passes. cond is only evaluated while now is strictly before the
// deadline. The interval is constant.
func Until(ctx context.Context, clk clock.Clock, interval, timeout time.Duration, cond Condition) error {
	if clk == nil {
		clk = clock.New()
	}
	deadline := clk.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !clk.Now().Before(deadline) {
			return ErrDeadline
		}
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := clk.Timer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
