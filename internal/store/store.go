package store

import (
	"context"
	"errors"
)

// Record is a single persisted record. Records are schemaless maps; the
// canonical key style is snake_case and every record carries a string "id"
// field once saved.
type Record = map[string]interface{}

// Filter selects records by exact match on top-level fields.
type Filter = map[string]interface{}

// ErrStorage wraps infrastructure failures (I/O errors, corrupt data).
// "Record does not exist" is never reported through this error: Get returns
// a nil record and Delete returns false in that case, so callers can branch
// on absence without error inspection.
var ErrStorage = errors.New("storage failure")

// Store is the persistence boundary for run-level contexts, dependency
// records and test results. Implementations must be safe for concurrent use.
type Store interface {
	// Save persists the record under its "id" field and returns the stored
	// record. Records without an "id" are rejected.
	Save(ctx context.Context, recordType string, rec Record) (Record, error)

	// Get returns the first record matching the filter, or nil if no record
	// matches. A nil result with a nil error means "not found".
	Get(ctx context.Context, recordType string, filter Filter) (Record, error)

	// Delete removes the record with the given id. It reports whether a
	// record was actually deleted.
	Delete(ctx context.Context, recordType string, id string) (bool, error)

	// Query returns all records matching the filter, in no particular order.
	Query(ctx context.Context, recordType string, filter Filter) ([]Record, error)
}

// RecordID extracts the "id" field of a record. Returns an empty string if
// the field is absent or not a string.
func RecordID(rec Record) string {
	id, _ := rec["id"].(string)
	return id
}

// Matches reports whether every filter field equals the corresponding
// record field. An empty filter matches everything.
func Matches(rec Record, filter Filter) bool {
	for k, v := range filter {
		if rec[k] != v {
			return false
		}
	}
	return true
}
