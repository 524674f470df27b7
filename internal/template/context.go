package template

// MergeVars merges variable maps for substitution; later maps win on key
// collisions. Typical layering: environment defaults, shared run
// variables, captured data, per-step overrides.
func MergeVars(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// CapturedLayer converts per-test captured data into the "test_{id}"
// namespaced layer scenario steps reference.
func CapturedLayer(captured map[string]map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(captured))
	for testID, data := range captured {
		inner := make(map[string]interface{}, len(data))
		for k, v := range data {
			inner[k] = v
		}
		out["test_"+testID] = inner
	}
	return out
}
