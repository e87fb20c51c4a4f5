package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/loykin/ctiharness/internal/fault"
	"github.com/loykin/ctiharness/internal/logger"
	"github.com/loykin/ctiharness/internal/target"
)

// Config is the resolved harness configuration.
type Config struct {
	OpenOCDBin string   `mapstructure:"openocd_bin"`
	OpenOCDCfg []string `mapstructure:"openocd_cfg"`
	OpenOCDLog string   `mapstructure:"openocd_log"`
	GDBBin     string   `mapstructure:"gdb_bin"`

	TCLHost string `mapstructure:"tcl_host"`
	TCLPort int    `mapstructure:"tcl_port"`
	GDBPort int    `mapstructure:"gdb_port"`

	Core0 string `mapstructure:"core0"`
	Core1 string `mapstructure:"core1"`

	ElfSpin string `mapstructure:"elf_spin"`
	ElfBkpt string `mapstructure:"elf_bkpt"`
	ElfStep string `mapstructure:"elf_step"`

	BkptSymbol string `mapstructure:"bkpt_symbol"`
	StepSymbol string `mapstructure:"step_symbol"`
	WorkDir    string `mapstructure:"work_dir"`

	StateTimeout     time.Duration `mapstructure:"state_timeout"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	LogLevel         string        `mapstructure:"log_level"`
	ServerConsoleLog bool          `mapstructure:"server_console_log"`
	ServerEnv        []string      `mapstructure:"server_env"`
	EnvFiles         []string      `mapstructure:"env_files"`

	HistoryDSN   string `mapstructure:"history_dsn"`
	StatusListen string `mapstructure:"status_listen"`
	MetricsFile  string `mapstructure:"metrics_file"`
}

// Option describes one configuration key: its default and the environment variable
// that can supply it. Flag names are the key with underscores replaced by dashes.
type Option struct {
	Key     string
	Env     string
	Default any
	Usage   string
}

// Flag is the command line spelling of the key.
func (o Option) Flag() string { return strings.ReplaceAll(o.Key, "_", "-") }

// Options lists every key in the order the help text shows them.
var Options = []Option{
	{"openocd_bin", "OPENOCD_BIN", "openocd", "debug server binary"},
	{"openocd_cfg", "OPENOCD_CFG", []string{}, "debug server configuration arguments (required, repeatable)"},
	{"openocd_log", "OPENOCD_LOG", "testing/cortex-r5-cti/out/openocd.log", "debug server log file"},
	{"gdb_bin", "GDB_BIN", "arm-none-eabi-gdb", "debugger binary"},
	{"tcl_host", "TCL_HOST", "127.0.0.1", "control channel host"},
	{"tcl_port", "TCL_PORT", 6666, "control channel port"},
	{"gdb_port", "GDB_PORT", 3333, "debugger remote port"},
	{"core0", "CORE0", "r5.cpu0", "first core target name"},
	{"core1", "CORE1", "r5.cpu1", "second core target name"},
	{"elf_spin", "ELF_SPIN", "", "spin image for scenario A"},
	{"elf_bkpt", "ELF_BKPT", "", "breakpoint image for scenario D"},
	{"elf_step", "ELF_STEP", "", "single-step image for scenario E"},
	{"bkpt_symbol", "BKPT_SYMBOL", "cti_breakpoint_marker", "breakpoint marker symbol"},
	{"step_symbol", "STEP_SYMBOL", "cti_step_marker", "single-step marker symbol"},
	{"work_dir", "WORK_DIR", "testing/cortex-r5-cti/out", "working directory for scripts and logs"},
	{"state_timeout", "STATE_TIMEOUT", target.DefaultStateTimeout, "core state wait timeout"},
	{"command_timeout", "COMMAND_TIMEOUT", 2 * time.Second, "control command timeout"},
	{"log_level", "LOG_LEVEL", "info", "log level (debug, info, warn, error)"},
	{"server_console_log", "SERVER_CONSOLE_LOG", false, "capture debug server stdout/stderr into the working directory"},
	{"server_env", "SERVER_ENV", []string{}, "extra KEY=VALUE for the debug server environment (repeatable)"},
	{"env_files", "ENV_FILES", []string{}, ".env files merged into the debug server environment"},
	{"history_dsn", "HISTORY_DSN", "", "run history sink (sqlite://, postgres://, clickhouse://)"},
	{"status_listen", "STATUS_LISTEN", "", "address for the live status endpoint"},
	{"metrics_file", "METRICS_FILE", "", "write run metrics in text exposition format to this file"},
}

// NewViper returns a viper instance with defaults and environment bindings. Flags are
// bound by the caller; precedence is flag, environment, config file, default.
func NewViper() *viper.Viper {
	v := viper.New()
	for _, o := range Options {
		v.SetDefault(o.Key, o.Default)
		_ = v.BindEnv(o.Key, o.Env)
	}
	return v
}

// Load reads the optional TOML file at path and resolves the configuration.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fault.Configuration("cannot read config %s: %v", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fault.Configuration("invalid configuration: %v", err)
	}
	// whitespace-separated lists, as the environment spells them
	c.OpenOCDCfg = lo.FlatMap(v.GetStringSlice("openocd_cfg"), func(s string, _ int) []string { return strings.Fields(s) })
	c.EnvFiles = lo.FlatMap(v.GetStringSlice("env_files"), func(s string, _ int) []string { return strings.Fields(s) })
	c.ServerEnv = lo.Compact(v.GetStringSlice("server_env"))
	return c, nil
}

// Validate checks the values a run cannot start without.
func (c Config) Validate() error {
	var errs []error
	if len(c.OpenOCDCfg) == 0 {
		errs = append(errs, errors.New("--openocd-cfg is required"))
	}
	for _, p := range []struct {
		name string
		port int
	}{{"--tcl-port", c.TCLPort}, {"--gdb-port", c.GDBPort}} {
		if p.port <= 0 || p.port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", p.name, p.port))
		}
	}
	if strings.TrimSpace(c.Core0) == "" || strings.TrimSpace(c.Core1) == "" {
		errs = append(errs, errors.New("--core0 and --core1 must be set"))
	}
	if c.StateTimeout <= 0 {
		errs = append(errs, errors.New("--state-timeout must be positive"))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("--command-timeout must be positive"))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.WorkDir == "" {
		errs = append(errs, errors.New("--work-dir must be set"))
	}
	if len(errs) > 0 {
		return fault.Configuration("%v", errors.Join(errs...))
	}
	return nil
}

// Session is the debug server endpoint and core pair the run targets.
func (c Config) Session() target.Session {
	return target.Session{Host: c.TCLHost, TCLPort: c.TCLPort, GDBPort: c.GDBPort, Core0: c.Core0, Core1: c.Core1}
}

// ServerArgs is the debug server command line: configuration fragments, then the log file.
func (c Config) ServerArgs() []string {
	return append(append([]string(nil), c.OpenOCDCfg...), "-l", c.OpenOCDLog)
}

// ServerEnvironment merges env files in order, then the explicit server_env entries.
func (c Config) ServerEnvironment() ([]string, error) {
	var out []string
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fault.Configuration("cannot read env file %s: %v", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, c.ServerEnv...), nil
}

// LoadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes).
// Lines starting with # are ignored. Entries keep file order.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
		}
	}
	return out, nil
}
