package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"testkit/internal/isolation"
	"testkit/internal/runner"
)

var (
	runScenarioPath string
	runFixturesDir  string
	runSuite        string
	runScenario     string
	runTag          string
	runIsolation    string
	runEnvironment  string
	runProject      string
	runFailFast     bool
	runReportPath   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a scenario catalog",
	Long: `Load YAML scenarios, execute them in catalog order against one run
context, and print a summary table.

Examples:
  testkit run --scenarios ./scenarios
  testkit run --scenarios ./scenarios --suite checkout --fail-fast
  testkit run --scenarios catalog.yaml --report report.json`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	scenarios, err := runner.LoadScenarios(runScenarioPath)
	if err != nil {
		return err
	}
	scenarios = runner.FilterScenarios(scenarios, runner.Filter{
		Suite: runSuite,
		Name:  runScenario,
		Tag:   runTag,
	})
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios match the given filters")
	}

	level := isolation.LevelTest
	if runIsolation != "" {
		level, err = isolation.ParseLevel(runIsolation)
		if err != nil {
			return err
		}
	}

	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	var reporters runner.MultiReporter
	reporters = append(reporters, runner.NewConsoleReporter(flagVerbose))
	var jsonReporter *runner.JSONReporter
	if runReportPath != "" {
		jsonReporter = runner.NewJSONReporter(runReportPath)
		reporters = append(reporters, jsonReporter)
	}

	r, err := runner.New(runner.Config{
		Store:         st,
		Scenarios:     scenarios,
		ProjectID:     runProject,
		EnvironmentID: runEnvironment,
		Isolation:     level,
		FixturesDir:   runFixturesDir,
		FailFast:      runFailFast,
		Reporter:      reporters,
	})
	if err != nil {
		return err
	}

	var s *spinner.Spinner
	if !flagVerbose {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Running scenarios..."
		s.Start()
	}
	result, err := r.Run(cmd.Context())
	if s != nil {
		s.Stop()
	}
	if err != nil {
		return err
	}
	if jsonReporter != nil && jsonReporter.Err != nil {
		return fmt.Errorf("writing report: %w", jsonReporter.Err)
	}
	if !result.Success() {
		return &scenariosFailedError{failed: result.Failed + result.Errors}
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runScenarioPath, "scenarios", "scenarios", "scenario file or directory")
	runCmd.Flags().StringVar(&runFixturesDir, "fixtures", "", "static fixture directory")
	runCmd.Flags().StringVar(&runSuite, "suite", "", "only run scenarios of this suite")
	runCmd.Flags().StringVar(&runScenario, "scenario", "", "only run the named scenario")
	runCmd.Flags().StringVar(&runTag, "tag", "", "only run scenarios with this tag")
	runCmd.Flags().StringVar(&runIsolation, "isolation", "", "default isolation level (run, worker, suite, test)")
	runCmd.Flags().StringVar(&runEnvironment, "environment", "", "environment id for the run context")
	runCmd.Flags().StringVar(&runProject, "project", "", "project id for the run context")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "stop after the first failed scenario")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "write a JSON report to this path")

	rootCmd.AddCommand(runCmd)
}
