package scenario

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/metrics"
)

// Result statuses.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// Result records one executed scenario.
type Result struct {
	Letter   string        `json:"letter" yaml:"letter"`
	Title    string        `json:"title" yaml:"title"`
	Status   string        `json:"status" yaml:"status"`
	Start    time.Time     `json:"start" yaml:"start"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Hooks observe scenario progress. Either field may be nil.
type Hooks struct {
	Started  func(letter, title string)
	Finished func(Result)
}

// Runner executes scenarios from a table against one Env.
type Runner struct {
	env   *Env
	table map[string]Scenario
	hooks Hooks
	log   *slog.Logger

	mu      sync.Mutex
	results []Result
}

type Option func(*Runner)

func WithHooks(h Hooks) Option         { return func(r *Runner) { r.hooks = h } }
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.log = l } }

// WithTable replaces the scenario table.
func WithTable(t map[string]Scenario) Option { return func(r *Runner) { r.table = t } }

func NewRunner(env *Env, opts ...Option) *Runner {
	if env.Out == nil {
		env.Out = io.Discard
	}
	if env.Clock == nil {
		env.Clock = clock.New()
	}
	r := &Runner{env: env, table: Table(), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Letters flattens the positional arguments into single letters, keeping the
// operator's spelling for error messages. Whitespace is dropped; an argument with
// nothing else in it is kept whole so Run reports it as unknown. No arguments
// selects Canonical.
func Letters(args []string) []string {
	if len(args) == 0 {
		args = []string{Canonical}
	}
	return lo.FlatMap(args, func(arg string, _ int) []string {
		letters := lo.FilterMap([]rune(arg), func(r rune, _ int) (string, bool) {
			return string(r), !unicode.IsSpace(r)
		})
		if len(letters) == 0 {
			return []string{arg}
		}
		return letters
	})
}

// Run executes letters in the order given. The first failure, including an unknown
// letter, stops the run; scenarios before it have already run.
func (r *Runner) Run(ctx context.Context, letters []string) error {
	for _, raw := range letters {
		sc, ok := r.table[strings.ToUpper(raw)]
		if !ok {
			return fault.UnknownScenario(raw)
		}
		if err := r.runOne(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, sc Scenario) error {
	fmt.Fprintf(r.env.Out, "[%s] %s\n", sc.Letter, sc.Title)
	if r.hooks.Started != nil {
		r.hooks.Started(sc.Letter, sc.Title)
	}
	start := r.env.Clock.Now()
	r.log.Debug("scenario started", "scenario", sc.Letter)

	err := sc.Run(ctx, r.env)

	res := Result{Letter: sc.Letter, Title: sc.Title, Status: StatusPassed, Start: start, Duration: r.env.Clock.Since(start)}
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		r.log.Error("scenario failed", "scenario", sc.Letter, "error", err)
	} else {
		r.log.Info("scenario passed", "scenario", sc.Letter, "elapsed", res.Duration)
	}
	metrics.ObserveScenario(sc.Letter, res.Status, res.Duration.Seconds())

	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	if r.hooks.Finished != nil {
		r.hooks.Finished(res)
	}
	return err
}

// Results returns a copy of the results recorded so far.
func (r *Runner) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// Sorted returns the table's scenarios in canonical order.
func Sorted(table map[string]Scenario) []Scenario {
	out := lo.Values(table)
	sort.Slice(out, func(i, j int) bool { return out[i].Letter < out[j].Letter })
	return out
}
