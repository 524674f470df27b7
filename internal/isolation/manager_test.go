package isolation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUniqueName_Uniqueness(t *testing.T) {
	m := NewManager("ctx_ab12", LevelTest)

	seen := make(map[string]bool)
	var last string
	for i := 0; i < 50; i++ {
		name := m.GenerateUniqueName("order")
		require.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true

		// Sequence suffix must be strictly increasing.
		if last != "" {
			require.True(t, name > last || len(name) > len(last),
				"sequence did not increase: %s after %s", name, last)
		}
		last = name
	}

	first := m.GenerateUniqueName("other")
	assert.Equal(t, "ctx_ab12_other_1", first, "each base gets its own sequence starting at 1")
}

func TestGenerateUniqueName_Sanitization(t *testing.T) {
	m := NewManager("pfx", LevelTest)

	tests := []struct {
		name string
		base string
		want string
	}{
		{"lowercases", "MyDoc", "pfx_mydoc_1"},
		{"collapses runs", "a--b!!c", "pfx_a_b_c_1"},
		{"trims edges", "--hello--", "pfx_hello_1"},
		{"empty base still sequenced", "!!!", "pfx_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.GenerateUniqueName(tt.base))
		})
	}
}

func TestGenerateUniqueName_LengthCap(t *testing.T) {
	m := NewManager("prefix", LevelTest)

	long := strings.Repeat("abcdefgh", 10)
	name := m.GenerateUniqueName(long)

	assert.LessOrEqual(t, len(name), defaultMaxNameLength)
	assert.True(t, strings.HasPrefix(name, "prefix_"), "prefix must survive truncation")
	assert.True(t, strings.HasSuffix(name, "_1"), "sequence must survive truncation")

	base, ok := m.ExtractBaseName(name)
	require.True(t, ok)
	assert.NotEmpty(t, base, "at least one base character must survive")
}

func TestGenerateUniqueID(t *testing.T) {
	m := NewManager("pfx", LevelTest)

	id := m.GenerateUniqueID()
	assert.True(t, strings.HasPrefix(id, "pfx_"))
	assert.Len(t, strings.TrimPrefix(id, "pfx_"), 12)

	assert.NotEqual(t, id, m.GenerateUniqueID())
}

func TestGenerateShortID(t *testing.T) {
	m := NewManager("pfx", LevelTest)

	id := m.GenerateShortID()
	assert.Len(t, id, 8)
	assert.False(t, strings.Contains(id, "pfx"))
}

func TestBelongsToContext(t *testing.T) {
	m := NewManager("ctx_1", LevelTest)

	assert.True(t, m.BelongsToContext("ctx_1_order_1"))
	assert.False(t, m.BelongsToContext("ctx_2_order_1"))
	assert.False(t, m.BelongsToContext("ctx_1"))
}

func TestExtractBaseName(t *testing.T) {
	m := NewManager("ctx", LevelTest)

	name := m.GenerateUniqueName("my document")
	base, ok := m.ExtractBaseName(name)
	require.True(t, ok)
	assert.Equal(t, "my_document", base)

	_, ok = m.ExtractBaseName("other_my_document_1")
	assert.False(t, ok, "foreign names must not extract")

	_, ok = m.ExtractBaseName("ctx_nodigits")
	assert.False(t, ok, "names without a numeric sequence must not extract")
}

func TestPatterns(t *testing.T) {
	m := NewManager("ctx_9", LevelTest)

	assert.Equal(t, "ctx_9_%", m.CreateFilterPattern())

	re := m.CreateRegexPattern()
	assert.True(t, re.MatchString(m.GenerateUniqueName("doc")))
	assert.True(t, re.MatchString(m.GenerateUniqueID()))
	assert.False(t, re.MatchString("unrelated_doc_1"))
}

func TestNamespaces(t *testing.T) {
	m := NewManager("ctx", LevelSuite)

	ns := m.OpenNamespace("docs")
	assert.Equal(t, "ctx_docs", ns.ID)
	assert.Equal(t, LevelSuite, ns.Level)

	m.GenerateUniqueNameIn("docs", "a")
	m.GenerateUniqueNameIn("docs", "b")
	m.GenerateUniqueName("c")

	var docs, def Namespace
	for _, n := range m.Namespaces() {
		switch n.ID {
		case "ctx_docs":
			docs = n
		case "ctx_default":
			def = n
		}
	}
	assert.Equal(t, 2, docs.ResourceCount)
	assert.Equal(t, 1, def.ResourceCount)
}

func TestLevelOrdering(t *testing.T) {
	assert.True(t, LevelNone < LevelRun)
	assert.True(t, LevelRun < LevelWorker)
	assert.True(t, LevelWorker < LevelSuite)
	assert.True(t, LevelSuite < LevelTest)

	assert.True(t, LevelRun.CanShareWith(LevelTest))
	assert.False(t, LevelTest.CanShareWith(LevelRun))
	assert.Equal(t, LevelRun, Broader(LevelRun, LevelTest))
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"none", "run", "worker", "suite", "test"} {
		lvl, err := ParseLevel(s)
		require.NoError(t, err)
		assert.Equal(t, s, lvl.String())
	}

	_, err := ParseLevel("galaxy")
	assert.Error(t, err)
}
