package server

import (
	"sync"
	"time"

	"github.com/loykin/ctiharness/internal/process"
	"github.com/loykin/ctiharness/internal/scenario"
)

// Snapshot is the run state served on /status.
type Snapshot struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Requested  []string          `json:"requested"`
	Current    string            `json:"current,omitempty"`
	Results    []scenario.Result `json:"results"`
	Server     *process.Status   `json:"server,omitempty"`
	Done       bool              `json:"done"`
	Error      string            `json:"error,omitempty"`
}

// Progress tracks one run. Scenario hooks write it; HTTP handlers read it.
type Progress struct {
	mu     sync.Mutex
	snap   Snapshot
	server func() process.Status
}

func NewProgress(runID string, requested []string, started time.Time) *Progress {
	return &Progress{snap: Snapshot{
		RunID:     runID,
		StartedAt: started,
		Requested: append([]string(nil), requested...),
		Results:   []scenario.Result{},
	}}
}

// TrackServer makes snapshots include the supervised server's status.
func (p *Progress) TrackServer(f func() process.Status) {
	p.mu.Lock()
	p.server = f
	p.mu.Unlock()
}

func (p *Progress) Started(letter, _ string) {
	p.mu.Lock()
	p.snap.Current = letter
	p.mu.Unlock()
}

func (p *Progress) Finished(r scenario.Result) {
	p.mu.Lock()
	p.snap.Current = ""
	p.snap.Results = append(p.snap.Results, r)
	p.mu.Unlock()
}

// Done marks the run finished; err is the run's terminal error, if any.
func (p *Progress) Done(at time.Time, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Done = true
	p.snap.Current = ""
	p.snap.FinishedAt = &at
	if err != nil {
		p.snap.Error = err.Error()
	}
}

// Hooks adapts the tracker to scenario runner hooks.
func (p *Progress) Hooks() scenario.Hooks {
	return scenario.Hooks{Started: p.Started, Finished: p.Finished}
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	s := p.snap
	s.Requested = append([]string(nil), p.snap.Requested...)
	s.Results = append([]scenario.Result{}, p.snap.Results...)
	server := p.server
	p.mu.Unlock()
	if server != nil {
		st := server()
		s.Server = &st
	}
	return s
}
