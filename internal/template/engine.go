// Package template substitutes {{ variable }} placeholders in scenario
// step arguments. Variables come from run-level shared variables, captured
// response data and per-step overrides; dotted names reach into nested
// maps ("test_T1.authToken").
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// Engine resolves placeholders against a variable context.
type Engine struct {
	pattern *regexp.Regexp
}

// New creates an engine. Placeholders have the form {{ name }}, {{name}}
// or {{ .name }}; names may contain dots for nested lookup.
func New() *Engine {
	return &Engine{
		pattern: regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`),
	}
}

// Replace substitutes placeholders throughout a value, recursing into maps
// and slices. A string consisting of exactly one placeholder resolves to
// the raw looked-up value so non-string types survive substitution.
// Unresolvable variables are an error.
func (e *Engine) Replace(value interface{}, vars map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.replaceString(v, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			replaced, err := e.Replace(val, vars)
			if err != nil {
				return nil, fmt.Errorf("in key %q: %w", key, err)
			}
			out[key] = replaced
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			replaced, err := e.Replace(val, vars)
			if err != nil {
				return nil, fmt.Errorf("at index %d: %w", i, err)
			}
			out[i] = replaced
		}
		return out, nil
	default:
		return value, nil
	}
}

func (e *Engine) replaceString(s string, vars map[string]interface{}) (interface{}, error) {
	// Whole-value placeholder: keep the looked-up type.
	if m := e.pattern.FindStringSubmatch(s); m != nil && m[0] == s {
		v, ok := lookup(vars, m[1])
		if !ok {
			return nil, fmt.Errorf("missing template variables: %s", m[1])
		}
		return v, nil
	}

	var missing []string
	result := e.pattern.ReplaceAllStringFunc(s, func(match string) string {
		name := e.pattern.FindStringSubmatch(match)[1]
		v, ok := lookup(vars, name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return stringify(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// Variables returns the distinct placeholder names a value references.
func (e *Engine) Variables(value interface{}) []string {
	seen := make(map[string]bool)
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case string:
			for _, m := range e.pattern.FindAllStringSubmatch(t, -1) {
				seen[m[1]] = true
			}
		case map[string]interface{}:
			for _, val := range t {
				walk(val)
			}
		case []interface{}:
			for _, val := range t {
				walk(val)
			}
		}
	}
	walk(value)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out
}

// Validate reports the placeholders of value that the variable context
// cannot resolve.
func (e *Engine) Validate(value interface{}, vars map[string]interface{}) error {
	var missing []string
	for _, name := range e.Variables(value) {
		if _, ok := lookup(vars, name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// lookup resolves a possibly dotted name against nested maps.
func lookup(vars map[string]interface{}, name string) (interface{}, bool) {
	parts := strings.Split(name, ".")
	var current interface{} = vars
	for _, p := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode to float64; print integers without a
		// fractional part.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
