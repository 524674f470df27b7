package isolation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSeparator joins the prefix, base name and sequence number.
	DefaultSeparator = "_"
	// DefaultNamespace is the namespace used when callers do not open one.
	DefaultNamespace = "default"
	// maxBaseLength caps the sanitized base before the sequence is appended.
	maxBaseLength = 32
	// defaultMaxNameLength caps the full generated name.
	defaultMaxNameLength = 64
)

// Namespace is a named bucket within one Manager for grouping generated
// names and counting the resources created under it.
type Namespace struct {
	ID            string    `json:"id"`
	Prefix        string    `json:"prefix"`
	Level         Level     `json:"level"`
	CreatedAt     time.Time `json:"createdAt"`
	ResourceCount int       `json:"resourceCount"`
}

// Manager produces collision-free identifiers scoped to a single prefix.
// All methods degrade gracefully on malformed input and never fail; an
// empty base still yields a valid sequenced name.
type Manager struct {
	mu            sync.Mutex
	prefix        string
	level         Level
	separator     string
	maxNameLength int
	sequences     map[string]int
	namespaces    map[string]*Namespace
}

// NewManager creates a Manager for the given prefix and isolation level.
// The default namespace is opened immediately.
func NewManager(prefix string, level Level) *Manager {
	m := &Manager{
		prefix:        prefix,
		level:         level,
		separator:     DefaultSeparator,
		maxNameLength: defaultMaxNameLength,
		sequences:     make(map[string]int),
		namespaces:    make(map[string]*Namespace),
	}
	m.namespaces[DefaultNamespace] = m.newNamespace(DefaultNamespace)
	return m
}

// Prefix returns the manager's prefix.
func (m *Manager) Prefix() string { return m.prefix }

// Level returns the manager's isolation level.
func (m *Manager) Level() Level { return m.level }

func (m *Manager) newNamespace(name string) *Namespace {
	return &Namespace{
		ID:        m.prefix + m.separator + name,
		Prefix:    m.prefix,
		Level:     m.level,
		CreatedAt: time.Now(),
	}
}

// OpenNamespace opens (or returns the existing) named namespace.
func (m *Manager) OpenNamespace(name string) *Namespace {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ns, ok := m.namespaces[name]; ok {
		return ns
	}
	ns := m.newNamespace(name)
	m.namespaces[name] = ns
	return ns
}

// Namespaces returns a snapshot of all open namespaces.
func (m *Manager) Namespaces() []Namespace {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Namespace, 0, len(m.namespaces))
	for _, ns := range m.namespaces {
		out = append(out, *ns)
	}
	return out
}

// GenerateUniqueName generates a prefixed, sanitized, sequence-suffixed name
// in the default namespace.
func (m *Manager) GenerateUniqueName(base string) string {
	return m.GenerateUniqueNameIn(DefaultNamespace, base)
}

// GenerateUniqueNameIn generates a unique name in the given namespace. The
// base is sanitized, a per-base monotone sequence number is appended, and
// the whole name is capped at the configured maximum length by trimming the
// base (never the prefix or sequence), always keeping at least one base
// character.
func (m *Manager) GenerateUniqueNameIn(namespace, base string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sanitized := Sanitize(base, m.separator)

	m.sequences[sanitized]++
	seq := m.sequences[sanitized]

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = m.newNamespace(namespace)
		m.namespaces[namespace] = ns
	}
	ns.ResourceCount++

	head := m.prefix + m.separator
	if sanitized == "" {
		// Malformed input still gets a valid sequenced name.
		return head + fmt.Sprintf("%d", seq)
	}
	suffix := m.separator + fmt.Sprintf("%d", seq)

	// Trim the base just enough to fit under the cap, keeping at least one
	// base character. The prefix and sequence are never trimmed.
	budget := m.maxNameLength - len(head) - len(suffix)
	if budget < 1 {
		budget = 1
	}
	if len(sanitized) > budget {
		sanitized = sanitized[:budget]
	}

	return head + sanitized + suffix
}

// GenerateUniqueID returns the prefix joined with 12 hex characters derived
// from a random UUID.
func (m *Manager) GenerateUniqueID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return m.prefix + m.separator + raw[:12]
}

// GenerateShortID returns 8 bare hex characters with no prefix. Collisions
// are possible at very large scale; callers that need guarantees should use
// GenerateUniqueID.
func (m *Manager) GenerateShortID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:8]
}

// BelongsToContext reports whether the name was (or could have been)
// generated by this manager.
func (m *Manager) BelongsToContext(name string) bool {
	return strings.HasPrefix(name, m.prefix+m.separator)
}

// ExtractBaseName recovers the sanitized base from a generated name. It
// returns false when the name does not belong to this manager or does not
// have the prefix/base/sequence shape (at least three separator-delimited
// parts with a trailing numeric sequence).
func (m *Manager) ExtractBaseName(name string) (string, bool) {
	head := m.prefix + m.separator
	if !strings.HasPrefix(name, head) {
		return "", false
	}
	rest := strings.TrimPrefix(name, head)
	parts := strings.Split(rest, m.separator)
	if len(parts) < 2 {
		return "", false
	}
	seq := parts[len(parts)-1]
	if seq == "" || strings.TrimLeft(seq, "0123456789") != "" {
		return "", false
	}
	return strings.Join(parts[:len(parts)-1], m.separator), true
}

// CreateFilterPattern returns a SQL LIKE pattern matching any name this
// manager could have generated. The separator itself is a LIKE wildcard
// (`_`), which is fine here: it only widens the sweep, never narrows it.
func (m *Manager) CreateFilterPattern() string {
	return m.prefix + m.separator + "%"
}

// CreateRegexPattern returns a compiled regular expression matching any
// name this manager could have generated.
func (m *Manager) CreateRegexPattern() *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(m.prefix+m.separator) + ".+")
}

// Sanitize lowercases the input, collapses every run of non-alphanumeric
// characters into a single separator, trims leading and trailing
// separators, and truncates to the maximum base length.
func Sanitize(base, separator string) string {
	var b strings.Builder
	lastSep := true // swallow leading separators
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastSep = false
			continue
		}
		if !lastSep {
			b.WriteString(separator)
			lastSep = true
		}
	}
	out := strings.TrimSuffix(b.String(), separator)
	if len(out) > maxBaseLength {
		out = out[:maxBaseLength]
		out = strings.TrimSuffix(out, separator)
	}
	return out
}
