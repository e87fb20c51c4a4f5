package ctiharness

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/ctiharness/internal/config"
	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/harness"
	"github.com/loykin/ctiharness/internal/metrics"
	"github.com/loykin/ctiharness/internal/scenario"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Result = scenario.Result

type Report = harness.Report

// Harness is a thin facade over internal/harness for embedding a validation run in
// another program.
type Harness struct{ inner *harness.Harness }

type Option = harness.Option

func WithOutput(w io.Writer) Option    { return harness.WithOutput(w) }
func WithLogger(l *slog.Logger) Option { return harness.WithLogger(l) }

func New(c Config, opts ...Option) *Harness { return &Harness{inner: harness.New(c, opts...)} }

// Run executes the scenario letters in args ("BC", "a", ...); none selects all.
func (h *Harness) Run(ctx context.Context, args []string) error { return h.inner.Run(ctx, args) }

func (h *Harness) CheckTools() error { return h.inner.CheckTools() }

// LoadConfig resolves defaults, environment variables and the optional TOML file.
func LoadConfig(path string) (Config, error) { return cfg.Load(cfg.NewViper(), path) }

func ReadReport(path string) (Report, error) { return harness.ReadReport(path) }

// ListScenarios writes the scenario table.
func ListScenarios(w io.Writer) error { return harness.ListScenarios(w) }

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int { return fault.ExitCode(err) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
