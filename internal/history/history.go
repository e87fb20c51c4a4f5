package history

import (
	"context"
	"time"
)

// EventType defines the kind of run event.
type EventType string

const (
	EventRunStart EventType = "run_start"
	EventScenario EventType = "scenario"
	EventRunEnd   EventType = "run_end"
)

// Table is the table every SQL sink appends to.
const Table = "cti_run_history"

// Event is one row of run history. Scenario fields are empty for run_start; run_end
// carries the overall status and error.
type Event struct {
	RunID      string        `json:"run_id"`
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Scenario   string        `json:"scenario,omitempty"`
	Title      string        `json:"title,omitempty"`
	Status     string        `json:"status,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Sink is a destination for run history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
