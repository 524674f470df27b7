// Package logging provides a small structured logging layer on top of the
// standard slog package. Log entries carry a subsystem tag so that output
// from the isolation, cleanup, fixture and run-context layers can be
// filtered independently.
//
// Initialize once at startup:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//
// and log with printf-style formatting:
//
//	logging.Info("Cleanup", "cleaned %d resources", n)
//	logging.Error("Store", err, "failed to persist run context %s", runID)
//
// Before Init is called all log output is dropped, which keeps the package
// safe to use from library code under `go test`.
package logging
