package detector

import "context"

// Detector is a strategy that determines if something is up: the server's control
// channel, its PID, or the PID recorded in a pidfile.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the target is detected as running.
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
