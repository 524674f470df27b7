// Package testctx provides the per-test unit of isolation: a Context binds
// identity generation (internal/isolation), resource tracking and teardown
// (internal/cleanup), timing and error state into one object with a small
// state machine:
//
//	created → running → (completed | failed) → cleaned
//
// Cleanup is terminal; a cleaned context stays cleaned. The Provider is the
// process-level registry of active contexts and supports bulk cleanup with
// per-context error isolation when a run aborts.
package testctx
