// Package gdb drives the debugger in batch mode against the debug server's remote port.
package gdb

import (
	"fmt"
	"strings"
)

// Script is a generated batch script for one scenario.
type Script struct {
	Image    string   // ELF image loaded with `file`
	GDBPort  int      // debug server remote port
	Core0    string   // core selected through `monitor targets`
	Commands []string // scenario commands, run after the prologue
}

// Lines renders the script: prologue, scenario commands, then disconnect and quit.
func (s Script) Lines() []string {
	lines := []string{
		"set confirm off",
		"set pagination off",
		"set architecture arm",
		"file " + s.Image,
		fmt.Sprintf("target extended-remote :%d", s.GDBPort),
		"monitor reset halt",
		"monitor targets " + s.Core0,
		"monitor cortex_a smp on",
	}
	lines = append(lines, s.Commands...)
	return append(lines, "disconnect", "quit")
}

func (s Script) String() string { return strings.Join(s.Lines(), "\n") + "\n" }
