package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	tkstrings "testkit/pkg/strings"
)

// Reporter receives execution progress. Implementations must tolerate
// concurrent runs not happening: the runner calls it from one goroutine.
type Reporter interface {
	RunStarted(runID string, scenarioCount int)
	ScenarioStarted(scenario Scenario)
	StepFinished(scenario Scenario, result StepResult)
	ScenarioFinished(result ScenarioResult)
	RunFinished(result *RunResult)
}

// NopReporter discards all events.
type NopReporter struct{}

func (NopReporter) RunStarted(string, int)                {}
func (NopReporter) ScenarioStarted(Scenario)              {}
func (NopReporter) StepFinished(Scenario, StepResult)     {}
func (NopReporter) ScenarioFinished(ScenarioResult)       {}
func (NopReporter) RunFinished(*RunResult)                {}

// ConsoleReporter prints human-readable progress and a summary table.
type ConsoleReporter struct {
	Out     io.Writer
	Verbose bool
}

func NewConsoleReporter(verbose bool) *ConsoleReporter {
	return &ConsoleReporter{Out: os.Stdout, Verbose: verbose}
}

func (r *ConsoleReporter) RunStarted(runID string, scenarioCount int) {
	fmt.Fprintf(r.Out, "Run %s: executing %d scenario(s)\n\n", runID, scenarioCount)
}

func (r *ConsoleReporter) ScenarioStarted(scenario Scenario) {
	if r.Verbose {
		fmt.Fprintf(r.Out, "▶ %s\n", scenario.Name)
	}
}

func (r *ConsoleReporter) StepFinished(scenario Scenario, result StepResult) {
	if !r.Verbose {
		return
	}
	mark := text.FgGreen.Sprint("✓")
	if result.Status != StatusPassed {
		mark = text.FgRed.Sprint("✗")
	}
	fmt.Fprintf(r.Out, "  %s %s (%s)\n", mark, result.StepID, result.Duration.Round(1e6))
	if result.Error != "" {
		fmt.Fprintf(r.Out, "    %s\n", text.FgRed.Sprint(result.Error))
	}
}

func (r *ConsoleReporter) ScenarioFinished(result ScenarioResult) {
	if !r.Verbose {
		return
	}
	fmt.Fprintf(r.Out, "  %s\n\n", colorStatus(result.Status))
}

func (r *ConsoleReporter) RunFinished(result *RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(r.Out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SCENARIO", "SUITE", "STATUS", "STEPS", "CLEANED", "DURATION", "ERROR"})
	for _, sr := range result.Scenarios {
		t.AppendRow(table.Row{
			sr.Scenario,
			sr.Suite,
			colorStatus(sr.Status),
			len(sr.Steps),
			fmt.Sprintf("%d/%d", sr.CleanedCount, sr.CleanedCount+sr.CleanupFailed),
			sr.Duration.Round(1e6),
			tkstrings.Truncate(sr.Error, tkstrings.DefaultCellMaxLen),
		})
	}
	t.AppendFooter(table.Row{
		"", "",
		fmt.Sprintf("%d passed, %d failed", result.Passed, result.Failed),
		"", "",
		result.EndTime.Sub(result.StartTime).Round(1e6),
		"",
	})
	t.Render()
}

func colorStatus(s Status) string {
	switch s {
	case StatusPassed:
		return text.FgGreen.Sprint(string(s))
	case StatusSkipped:
		return text.FgYellow.Sprint(string(s))
	default:
		return text.FgRed.Sprint(string(s))
	}
}

// JSONReporter writes the full structured run result to a file when the
// run finishes. Intermediate events are ignored.
type JSONReporter struct {
	Path string
	// Err holds the write failure, if any, for the caller to inspect.
	Err error
}

func NewJSONReporter(path string) *JSONReporter {
	return &JSONReporter{Path: path}
}

func (r *JSONReporter) RunStarted(string, int)            {}
func (r *JSONReporter) ScenarioStarted(Scenario)          {}
func (r *JSONReporter) StepFinished(Scenario, StepResult) {}
func (r *JSONReporter) ScenarioFinished(ScenarioResult)   {}

func (r *JSONReporter) RunFinished(result *RunResult) {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		r.Err = err
		return
	}
	r.Err = os.WriteFile(r.Path, raw, 0o644)
}

// MultiReporter fans events out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) RunStarted(runID string, n int) {
	for _, r := range m {
		r.RunStarted(runID, n)
	}
}
func (m MultiReporter) ScenarioStarted(s Scenario) {
	for _, r := range m {
		r.ScenarioStarted(s)
	}
}
func (m MultiReporter) StepFinished(s Scenario, sr StepResult) {
	for _, r := range m {
		r.StepFinished(s, sr)
	}
}
func (m MultiReporter) ScenarioFinished(sr ScenarioResult) {
	for _, r := range m {
		r.ScenarioFinished(sr)
	}
}
func (m MultiReporter) RunFinished(res *RunResult) {
	for _, r := range m {
		r.RunFinished(res)
	}
}
