package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/ctiharness"
	"github.com/loykin/ctiharness/internal/config"
	"github.com/loykin/ctiharness/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, err := buildRoot(stdout, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return ctiharness.ExitCode(err)
	}
	return 0
}

func buildRoot(stdout, stderr io.Writer) (*cobra.Command, error) {
	globalFlags := &GlobalFlags{}
	v := config.NewViper()

	root := &cobra.Command{
		Use:   "ctiharness [flags] [SCENARIO...]",
		Short: "Cortex-R5 CTI SMP validation harness",
		Long: `ctiharness starts the debug server, runs the requested CTI validation
scenarios against a dual-core Cortex-R5 target and always stops the server again.

Scenarios are letters A to H; each argument may hold several letters and case is
ignored. With no arguments all scenarios run in order.

Examples:
  ctiharness --openocd-cfg="-f board/r5.cfg" B C
  OPENOCD_CFG="-f board/r5.cfg" ELF_SPIN=spin.elf ctiharness a
  ctiharness --config=cti.toml
  ctiharness scenarios`,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			// nothing, not even the log file, touches the work dir before the tool check
			if err := ctiharness.New(cfg).CheckTools(); err != nil {
				return err
			}
			level := cfg.LogLevel
			if _, err := logger.ParseLevel(level); err != nil {
				level = "info" // reported by Validate
			}
			log, closer, err := logger.New(logger.Options{
				Level:   level,
				Console: stderr,
				File:    logger.Config{Dir: cfg.WorkDir},
			})
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			return ctiharness.New(cfg, ctiharness.WithOutput(cmd.OutOrStdout()), ctiharness.WithLogger(log)).Run(cmd.Context(), args)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")
	if err := bindConfigFlags(root.Flags(), v); err != nil {
		return nil, err
	}

	root.AddCommand(createScenariosCommand())
	return root, nil
}

// createScenariosCommand lists the scenario table.
func createScenariosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the validation scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctiharness.ListScenarios(cmd.OutOrStdout())
		},
	}
}
