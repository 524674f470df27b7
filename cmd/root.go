package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"testkit/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeTestsFailed indicates the run completed but scenarios failed.
	ExitCodeTestsFailed = 2
)

var (
	flagStoreBackend string
	flagDataDir      string
	flagVerbose      bool
	flagDebug        bool
)

// rootCmd is the entry point when the application is called without any
// subcommands.
var rootCmd = &cobra.Command{
	Use:   "testkit",
	Short: "Execute API test scenarios with isolated, self-cleaning contexts",
	Long: `testkit runs YAML test scenario catalogs. Every scenario gets an
isolated test context with collision-free resource names and a cleanup
tracker; shared variables, auth tokens and captured response data flow
between dependent scenarios through a persisted run context.`,
	// SilenceUsage prevents cobra from printing usage on errors handled
	// by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if flagVerbose {
			level = logging.LevelInfo
		}
		if flagDebug {
			level = logging.LevelDebug
		}
		logging.Init(level, os.Stderr)
	},
}

// SetVersion injects the build version from the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "testkit version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		if code, ok := exitCodeFor(err); ok {
			os.Exit(code)
		}
		os.Exit(ExitCodeError)
	}
}

// scenariosFailedError distinguishes "the run worked, tests failed" from
// infrastructure errors so scripts can branch on the exit code.
type scenariosFailedError struct{ failed int }

func (e *scenariosFailedError) Error() string {
	return "scenarios failed"
}

func exitCodeFor(err error) (int, bool) {
	if _, ok := err.(*scenariosFailedError); ok {
		return ExitCodeTestsFailed, true
	}
	return 0, false
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStoreBackend, "store", "file", "storage backend: file or badger")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", ".testkit", "directory for persisted run state")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug logging")
}
