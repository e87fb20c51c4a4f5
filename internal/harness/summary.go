package harness

import (
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/loykin/ctiharness/internal/process"
	"github.com/loykin/ctiharness/internal/scenario"
)

// Report is written to <workdir>/summary.yaml after every run.
type Report struct {
	RunID      string            `yaml:"run_id"`
	StartedAt  time.Time         `yaml:"started_at"`
	FinishedAt time.Time         `yaml:"finished_at"`
	Requested  []string          `yaml:"requested"`
	Status     string            `yaml:"status"`
	Error      string            `yaml:"error,omitempty"`
	Server     process.Status    `yaml:"server"`
	Results    []scenario.Result `yaml:"results"`
}

func newReport(run *runState, end time.Time, err error) Report {
	r := Report{
		RunID:      run.id,
		StartedAt:  run.start,
		FinishedAt: end,
		Requested:  run.letters,
		Status:     scenario.StatusPassed,
		Server:     run.server,
		Results:    run.results,
	}
	if err != nil {
		r.Status = scenario.StatusFailed
		r.Error = err.Error()
	}
	return r
}

func (r Report) writeYAML(path string) error {
	b, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadReport loads a summary written by a previous run.
func ReadReport(path string) (Report, error) {
	var r Report
	b, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	err = yaml.Unmarshal(b, &r)
	return r, err
}

func writeTable(w io.Writer, results []scenario.Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("Scenario", "Title", "Status", "Duration", "Error")
	for _, r := range results {
		if err := table.Append([]string{r.Letter, r.Title, r.Status, r.Duration.Round(time.Millisecond).String(), r.Error}); err != nil {
			return err
		}
	}
	return table.Render()
}

// ListScenarios prints the scenario table in canonical order.
func ListScenarios(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Scenario", "Title", "Requires")
	for _, s := range scenario.Sorted(scenario.Table()) {
		req := s.Image
		if req == "" {
			req = "-"
		}
		if err := table.Append([]string{s.Letter, s.Title, req}); err != nil {
			return err
		}
	}
	return table.Render()
}
