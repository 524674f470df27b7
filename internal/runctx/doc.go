// Package runctx manages the persisted run-level execution context shared
// by all tests of one run: auth tokens, shared variables stored behind
// growth ceilings, response data captured for dependent tests, dependency
// resolution over the stored test order, and TTL-based expiry of stale
// contexts.
//
// The Manager is cache-first: reads hit an in-memory map guarded by a
// mutex, writes go through a merge-validate-persist-swap sequence so a
// rejected update is never partially visible, neither in memory nor in
// the store.
package runctx
