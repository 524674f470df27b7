package store

// aliasFields maps camelCase field names seen in raw API payloads to their
// canonical snake_case form. Normalization happens once, at the storage
// boundary, so the rest of the engine only ever sees canonical keys.
var aliasFields = map[string]string{
	"runId":           "run_id",
	"projectId":       "project_id",
	"environmentId":   "environment_id",
	"testCaseId":      "test_case_id",
	"dependentTestId": "dependent_test_id",
	"requiredTestId":  "required_test_id",
	"dependencyType":  "dependency_type",
	"isSecret":        "is_secret",
	"createdAt":       "created_at",
	"updatedAt":       "updated_at",
	"testOrder":       "test_order",
}

// Normalize returns a copy of the record with camelCase aliases folded into
// their snake_case equivalents. When both spellings are present the
// snake_case value wins.
func Normalize(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		if canonical, ok := aliasFields[k]; ok {
			if _, exists := rec[canonical]; exists {
				continue
			}
			out[canonical] = v
			continue
		}
		out[k] = v
	}
	return out
}
