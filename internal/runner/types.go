package runner

import (
	"time"
)

// Status is the outcome of a scenario or step.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
	StatusError   Status = "ERROR"
)

// Scenario is one executable test case loaded from YAML.
type Scenario struct {
	// Name is unique within a catalog and doubles as the test-case id for
	// dependency records.
	Name        string   `yaml:"name"`
	Suite       string   `yaml:"suite"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	// Isolation selects the resource-name isolation level (none, run,
	// worker, suite, test). Empty means test.
	Isolation string `yaml:"isolation,omitempty"`
	// DependsOn lists scenarios that must have executed first. Each entry
	// is "name" or "name:type" where type defaults to data.
	DependsOn []string      `yaml:"depends_on,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	Steps     []Step        `yaml:"steps"`
	// Cleanup steps execute inline as ordinary steps after the main steps,
	// regardless of outcome. Resources registered via a step's track block
	// are released separately by the context's cleanup tracker.
	Cleanup []Step `yaml:"cleanup,omitempty"`
}

// Step is a single action within a scenario.
type Step struct {
	ID     string                 `yaml:"id"`
	Action string                 `yaml:"action"`
	Args   map[string]interface{} `yaml:"args,omitempty"`
	// Capture maps variable names to dotted paths into the step's
	// response; captured values become available to later steps and
	// dependent scenarios.
	Capture map[string]string `yaml:"capture,omitempty"`
	// Track registers the step's created resource for cleanup:
	// {type, id_from} where id_from is a capture variable name.
	Track *TrackSpec `yaml:"track,omitempty"`
	// ContinueOnFailure lets the scenario proceed past a failing step.
	ContinueOnFailure bool `yaml:"continue_on_failure,omitempty"`
}

// TrackSpec declares that a step creates a resource worth tracking.
type TrackSpec struct {
	Type     string `yaml:"type"`
	IDFrom   string `yaml:"id_from"`
	Priority int    `yaml:"priority,omitempty"`
}

// StepResult records one step execution.
type StepResult struct {
	StepID   string                 `json:"step_id"`
	Status   Status                 `json:"status"`
	Error    string                 `json:"error,omitempty"`
	Captured map[string]interface{} `json:"captured,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// ScenarioResult records one scenario execution.
type ScenarioResult struct {
	Scenario       string        `json:"scenario"`
	Suite          string        `json:"suite,omitempty"`
	Status         Status        `json:"status"`
	Error          string        `json:"error,omitempty"`
	Steps          []StepResult  `json:"steps"`
	CleanedCount   int           `json:"cleaned_count"`
	CleanupFailed  int           `json:"cleanup_failed"`
	Duration       time.Duration `json:"duration"`
	ContextID      string        `json:"context_id"`
}

// RunResult is the aggregate outcome of one run.
type RunResult struct {
	RunID     string           `json:"run_id"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Errors    int              `json:"errors"`
}

// Success reports whether every scenario passed or was skipped.
func (r *RunResult) Success() bool {
	return r.Failed == 0 && r.Errors == 0
}
