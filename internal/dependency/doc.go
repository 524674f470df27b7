// Package dependency models the inter-test dependency graph of a run:
// which test needs which other test's data or tokens, and in what order
// the requirements must execute. The graph is built from stored dependency
// records and queried by the run-level context manager when deciding
// whether a test is ready to run.
package dependency
