// Package cleanup guarantees best-effort, reverse-dependency-ordered
// teardown of every resource a test registers, tolerating individual
// failures without aborting the sweep.
//
// Registration is idempotent per type:id key (first registration wins).
// Tasks run in descending priority order with per-task retries; a task that
// exhausts its retries is recorded in the Result and stays registered so a
// later pass can try again. The sweep itself never fails.
package cleanup
