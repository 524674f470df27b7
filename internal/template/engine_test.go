package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceString(t *testing.T) {
	e := New()
	vars := map[string]interface{}{"host": "api.example.test", "port": 8443.0}

	got, err := e.Replace("https://{{ host }}:{{port}}/v1", vars)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.test:8443/v1", got)
}

func TestReplaceWholeValueKeepsType(t *testing.T) {
	e := New()
	vars := map[string]interface{}{"count": 3.0, "enabled": true}

	got, err := e.Replace("{{ count }}", vars)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	got, err = e.Replace("{{enabled}}", vars)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestReplaceDottedLookup(t *testing.T) {
	e := New()
	vars := map[string]interface{}{
		"test_T1": map[string]interface{}{"authToken": "tok-1"},
	}

	got, err := e.Replace("Bearer {{ test_T1.authToken }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", got)
}

func TestReplaceRecursesIntoMapsAndSlices(t *testing.T) {
	e := New()
	vars := map[string]interface{}{"user": "alice", "id": 7.0}

	got, err := e.Replace(map[string]interface{}{
		"name": "{{ user }}",
		"tags": []interface{}{"{{ id }}", "static"},
	}, vars)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"name": "alice",
		"tags": []interface{}{7.0, "static"},
	}, got)
}

func TestReplaceMissingVariableFails(t *testing.T) {
	e := New()
	_, err := e.Replace("{{ host }}/{{ path }}", map[string]interface{}{"host": "h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")
}

func TestValidate(t *testing.T) {
	e := New()
	value := map[string]interface{}{"url": "{{ base }}/{{ id }}"}

	assert.Error(t, e.Validate(value, map[string]interface{}{"base": "b"}))
	assert.NoError(t, e.Validate(value, map[string]interface{}{"base": "b", "id": 1}))
}

func TestVariables(t *testing.T) {
	e := New()
	vars := e.Variables([]interface{}{"{{ a }}", map[string]interface{}{"k": "{{ b.c }} and {{ a }}"}})
	assert.ElementsMatch(t, []string{"a", "b.c"}, vars)
}

func TestMergeVarsLaterLayersWin(t *testing.T) {
	merged := MergeVars(
		map[string]interface{}{"a": 1, "b": 1},
		map[string]interface{}{"b": 2},
	)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, merged)
}

func TestCapturedLayer(t *testing.T) {
	layer := CapturedLayer(map[string]map[string]interface{}{
		"T1": {"token": "tok"},
	})
	assert.Equal(t, map[string]interface{}{
		"test_T1": map[string]interface{}{"token": "tok"},
	}, layer)
}
