package runctx

import (
	"context"
	"fmt"

	"testkit/internal/store"
)

// EnvironmentVariables returns every variable of an environment with
// secret values replaced by the redaction marker. Use SecretValue to read
// an individual secret.
func (m *Manager) EnvironmentVariables(ctx context.Context, environmentID string) ([]EnvVariable, error) {
	recs, err := m.store.Query(ctx, RecordTypeEnvVariable, store.Filter{"environment_id": environmentID})
	if err != nil {
		return nil, opError("environment_variables", "listing environment variables", err)
	}
	out := make([]EnvVariable, 0, len(recs))
	for _, rec := range recs {
		v := envVariableFromRecord(rec)
		if v.IsSecret {
			v.Value = Redacted
		}
		out = append(out, v)
	}
	return out, nil
}

// SecretValue returns the raw value of a single variable, secret or not.
// Callers are responsible for keeping the value out of reports and logs.
func (m *Manager) SecretValue(ctx context.Context, environmentID, key string) (string, error) {
	rec, err := m.store.Get(ctx, RecordTypeEnvVariable, store.Filter{"environment_id": environmentID, "key": key})
	if err != nil {
		return "", opError("secret_value", fmt.Sprintf("loading variable %s", key), err)
	}
	if rec == nil {
		return "", opError("secret_value", fmt.Sprintf("variable %s does not exist in environment %s", key, environmentID), nil)
	}
	return envVariableFromRecord(rec).Value, nil
}

func envVariableFromRecord(rec store.Record) EnvVariable {
	key, _ := rec["key"].(string)
	value, _ := rec["value"].(string)
	secret, _ := rec["is_secret"].(bool)
	return EnvVariable{Key: key, Value: value, IsSecret: secret}
}
