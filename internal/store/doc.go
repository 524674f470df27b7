// Package store provides the persistence boundary for the test execution
// engine: run-level contexts, dependency records, environment variables and
// test results all go through the Store interface.
//
// Two implementations are provided. FileStore keeps one JSON file per
// record under a root directory and is the default for local runs.
// BadgerStore is an embedded key-value database for long-running processes
// where many runs accumulate and TTL sweeps delete records frequently.
//
// Absence is not an error at this layer: Get returns a nil record and
// Delete returns false for missing records. Infrastructure failures wrap
// ErrStorage so callers can distinguish "not there" from "broken".
//
// Raw records arriving from external APIs may carry camelCase field names;
// Normalize folds them into the canonical snake_case form on every Save so
// that ambiguity never leaks past this package.
package store
