// Package runner executes YAML scenario catalogs: it creates one test
// context per scenario, resolves cross-scenario dependencies through the
// run-level context, substitutes variables into step arguments and drives
// registered actions.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"testkit/internal/fixtures"
	"testkit/internal/isolation"
	"testkit/internal/runctx"
	"testkit/internal/store"
	"testkit/internal/template"
	"testkit/internal/testctx"
	"testkit/pkg/logging"
)

const subsystem = "runner"

// Action executes one step and returns its response value, which capture
// paths are evaluated against.
type Action func(ctx context.Context, step *StepContext) (interface{}, error)

// StepContext is everything an action may touch while executing.
type StepContext struct {
	RunID    string
	Scenario string
	Step     Step
	// Args has all template placeholders already substituted.
	Args map[string]interface{}
	// Test is the scenario's test context (unique names, tracking).
	Test *testctx.Context
	// Fixtures gives actions access to the fixture loader.
	Fixtures *fixtures.Loader
	// RunContext reaches the shared run-level state.
	RunContext *runctx.Manager
}

// Config wires a Runner. Store and Scenarios are required.
type Config struct {
	Store     store.Store
	Scenarios []Scenario

	RunID         string
	ProjectID     string
	EnvironmentID string

	// Isolation is the default level for scenarios that do not set one.
	// The zero value (LevelNone) falls back to LevelTest.
	Isolation isolation.Level
	// FixturesDir is the static fixture root; empty disables the loader.
	FixturesDir string
	// FailFast stops the run after the first failed scenario.
	FailFast bool

	Reporter Reporter
	// ContextManager overrides the internally built one, mainly for tests.
	ContextManager *runctx.Manager
}

// Runner executes a scenario catalog against one run context.
type Runner struct {
	scenarios []Scenario
	st        store.Store
	provider  *testctx.Provider
	fixtures  *fixtures.Loader
	runMgr    *runctx.Manager
	ownRunMgr bool
	engine    *template.Engine
	reporter  Reporter
	actions   map[string]Action

	runID     string
	projectID string
	envID     string
	level     isolation.Level
	failFast  bool
}

// New builds a Runner. The built-in actions (fixture, set_variables, wait)
// are registered; callers add their own with RegisterAction.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("runner: store is required")
	}
	if len(cfg.Scenarios) == 0 {
		return nil, fmt.Errorf("runner: no scenarios to execute")
	}
	runID := cfg.RunID
	if runID == "" {
		runID = "run_" + uuid.NewString()[:8]
	}
	level := cfg.Isolation
	if level == isolation.LevelNone {
		level = isolation.LevelTest
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}

	r := &Runner{
		scenarios: cfg.Scenarios,
		st:        cfg.Store,
		provider:  testctx.NewProvider(),
		engine:    template.New(),
		reporter:  reporter,
		actions:   make(map[string]Action),
		runID:     runID,
		projectID: cfg.ProjectID,
		envID:     cfg.EnvironmentID,
		level:     level,
		failFast:  cfg.FailFast,
	}
	if cfg.ContextManager != nil {
		r.runMgr = cfg.ContextManager
	} else {
		r.runMgr = runctx.NewManager(runctx.Config{Store: cfg.Store})
		r.ownRunMgr = true
	}
	if cfg.FixturesDir != "" {
		r.fixtures = fixtures.NewLoader(cfg.FixturesDir, runID)
	}
	r.registerBuiltins()
	return r, nil
}

// RegisterAction makes an action available to scenario steps. Registering
// an existing name replaces it.
func (r *Runner) RegisterAction(name string, action Action) {
	r.actions[name] = action
}

// Run executes every scenario in catalog order and returns the aggregate
// result. Scenario failures are collected, not propagated; only
// infrastructure failures (run context setup) return an error.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if r.ownRunMgr {
		defer r.runMgr.Close()
	}

	if _, err := r.runMgr.InitializeRunContext(ctx, r.runID, r.projectID, r.envID); err != nil {
		return nil, err
	}
	if err := r.persistDependencies(ctx); err != nil {
		return nil, err
	}
	order := make([]string, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		order = append(order, s.Name)
	}
	if err := r.runMgr.SetTestOrder(ctx, r.runID, order); err != nil {
		return nil, err
	}

	result := &RunResult{RunID: r.runID, StartTime: time.Now()}
	r.reporter.RunStarted(r.runID, len(r.scenarios))

	executed := make(map[string]Status, len(r.scenarios))
	for _, scenario := range r.scenarios {
		sr := r.runScenario(ctx, scenario, executed)
		executed[scenario.Name] = sr.Status
		result.Scenarios = append(result.Scenarios, sr)
		switch sr.Status {
		case StatusPassed:
			result.Passed++
		case StatusFailed:
			result.Failed++
		case StatusSkipped:
			result.Skipped++
		default:
			result.Errors++
		}
		r.reporter.ScenarioFinished(sr)
		if r.failFast && (sr.Status == StatusFailed || sr.Status == StatusError) {
			logging.Info(subsystem, "fail-fast: stopping run after scenario %s", scenario.Name)
			break
		}
	}

	// Contexts normally clean themselves per scenario; this catches
	// anything left behind by an aborted run.
	r.provider.CleanupAll(ctx)

	if err := r.persistResults(ctx, result); err != nil {
		logging.Warn(subsystem, "persisting results: %v", err)
	}
	if err := r.runMgr.Finalize(ctx, r.runID); err != nil {
		logging.Warn(subsystem, "finalizing run context: %v", err)
	}

	result.EndTime = time.Now()
	r.reporter.RunFinished(result)
	return result, nil
}

func (r *Runner) runScenario(parent context.Context, scenario Scenario, executed map[string]Status) ScenarioResult {
	start := time.Now()
	sr := ScenarioResult{Scenario: scenario.Name, Suite: scenario.Suite, Status: StatusPassed}
	r.reporter.ScenarioStarted(scenario)

	for _, dep := range scenario.DependsOn {
		name, _ := splitDependency(dep)
		if executed[name] != StatusPassed {
			sr.Status = StatusSkipped
			sr.Error = fmt.Sprintf("dependency %s did not pass", name)
			sr.Duration = time.Since(start)
			return sr
		}
	}

	level := r.level
	if scenario.Isolation != "" {
		if parsed, err := isolation.ParseLevel(scenario.Isolation); err == nil {
			level = parsed
		} else {
			logging.Warn(subsystem, "scenario %s: %v, using default level", scenario.Name, err)
		}
	}
	tc := r.provider.Create(testctx.Config{
		Name:           scenario.Name,
		Suite:          scenario.Suite,
		IsolationLevel: level,
		Timeout:        scenario.Timeout,
	})
	sr.ContextID = tc.ID()

	ctx := parent
	if scenario.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, scenario.Timeout)
		defer cancel()
	}

	failed := false
	for _, step := range scenario.Steps {
		stepResult := r.runStep(ctx, scenario, step, tc)
		sr.Steps = append(sr.Steps, stepResult)
		r.reporter.StepFinished(scenario, stepResult)
		if stepResult.Status != StatusPassed && !step.ContinueOnFailure {
			failed = true
			sr.Error = stepResult.Error
			break
		}
	}
	for _, step := range scenario.Cleanup {
		stepResult := r.runStep(ctx, scenario, step, tc)
		sr.Steps = append(sr.Steps, stepResult)
		r.reporter.StepFinished(scenario, stepResult)
	}

	if failed {
		sr.Status = StatusFailed
	} else {
		tc.Complete()
	}

	// Cleanup runs against the parent so a scenario timeout does not
	// starve teardown.
	cleanupResult := tc.Cleanup(parent)
	sr.CleanedCount = cleanupResult.CleanedCount
	sr.CleanupFailed = cleanupResult.FailedCount
	sr.Duration = time.Since(start)
	return sr
}

func (r *Runner) runStep(ctx context.Context, scenario Scenario, step Step, tc *testctx.Context) StepResult {
	start := time.Now()
	result := StepResult{StepID: step.ID, Status: StatusPassed}

	fail := func(err error) StepResult {
		tc.RecordError(err)
		result.Status = StatusFailed
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	action, ok := r.actions[step.Action]
	if !ok {
		return fail(fmt.Errorf("unknown action %q", step.Action))
	}

	vars, err := r.stepVars(ctx, tc)
	if err != nil {
		return fail(err)
	}
	replaced, err := r.engine.Replace(step.Args, vars)
	if err != nil {
		return fail(fmt.Errorf("step %s: %w", step.ID, err))
	}
	args, _ := replaced.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}

	response, err := action(ctx, &StepContext{
		RunID:      r.runID,
		Scenario:   scenario.Name,
		Step:       step,
		Args:       args,
		Test:       tc,
		Fixtures:   r.fixtures,
		RunContext: r.runMgr,
	})
	if err != nil {
		return fail(fmt.Errorf("step %s: %w", step.ID, err))
	}

	if len(step.Capture) > 0 {
		captured, err := r.runMgr.CaptureVariablesFromResponse(ctx, r.runID, scenario.Name, response, step.Capture)
		if err != nil {
			return fail(err)
		}
		result.Captured = captured
		if step.Track != nil {
			if id, ok := captured[step.Track.IDFrom].(string); ok {
				tc.TrackResource(step.Track.Type, id, testctx.TrackOptions{Priority: step.Track.Priority})
			}
		}
	}

	result.Duration = time.Since(start)
	return result
}

// stepVars builds the substitution context: shared variables, then
// captured data under test_{id}, then run/test identity helpers.
func (r *Runner) stepVars(ctx context.Context, tc *testctx.Context) (map[string]interface{}, error) {
	rc, err := r.runMgr.GetRunContext(ctx, r.runID)
	if err != nil {
		return nil, err
	}
	layers := []map[string]interface{}{}
	if rc != nil {
		layers = append(layers, rc.SharedVariables, template.CapturedLayer(rc.CapturedData))
		tokens := make(map[string]interface{}, len(rc.SharedAuthTokens))
		for k, v := range rc.SharedAuthTokens {
			tokens[k] = v
		}
		layers = append(layers, map[string]interface{}{"tokens": tokens})
	}
	layers = append(layers, map[string]interface{}{
		"runId":  r.runID,
		"prefix": tc.Prefix(),
	})
	return template.MergeVars(layers...), nil
}

// persistDependencies materializes depends_on declarations as dependency
// records so ResolveDependencies sees the same graph the runner enforces.
func (r *Runner) persistDependencies(ctx context.Context) error {
	for _, s := range r.scenarios {
		for _, dep := range s.DependsOn {
			name, typ := splitDependency(dep)
			_, err := r.st.Save(ctx, runctx.RecordTypeDependency, store.Record{
				"id":                fmt.Sprintf("%s_%s_%s", r.runID, s.Name, name),
				"run_id":            r.runID,
				"dependent_test_id": s.Name,
				"required_test_id":  name,
				"dependency_type":   typ,
			})
			if err != nil {
				return fmt.Errorf("persisting dependency %s -> %s: %w", s.Name, name, err)
			}
		}
	}
	return nil
}

func (r *Runner) persistResults(ctx context.Context, result *RunResult) error {
	for _, sr := range result.Scenarios {
		_, err := r.st.Save(ctx, runctx.RecordTypeResult, store.Record{
			"id":           fmt.Sprintf("%s_%s", r.runID, sr.Scenario),
			"run_id":       r.runID,
			"test_case_id": sr.Scenario,
			"status":       string(sr.Status),
			"error":        sr.Error,
			"duration_ms":  sr.Duration.Milliseconds(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
