package process

import "time"

// Status is a snapshot of the supervised server.
type Status struct {
	Name      string    `json:"name" yaml:"name"`
	Running   bool      `json:"running" yaml:"running"`
	PID       int       `json:"pid" yaml:"pid"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	StoppedAt time.Time `json:"stopped_at" yaml:"stopped_at"`
	ExitErr   string    `json:"exit_error,omitempty" yaml:"exit_error,omitempty"`
	StopMode  string    `json:"stop_mode,omitempty" yaml:"stop_mode,omitempty"` // graceful, kill, exited
}
