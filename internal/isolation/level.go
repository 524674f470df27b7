package isolation

import "fmt"

// Level is the scope at which generated resource names may collide with or
// be shared across other tests. Higher levels are more restrictive.
type Level int

const (
	LevelNone Level = iota
	LevelRun
	LevelWorker
	LevelSuite
	LevelTest
)

// String makes Level satisfy the fmt.Stringer interface.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelRun:
		return "run"
	case LevelWorker:
		return "worker"
	case LevelSuite:
		return "suite"
	case LevelTest:
		return "test"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name to a Level. Unknown names are an error
// so misspelled configuration fails loudly instead of silently weakening
// isolation.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "none":
		return LevelNone, nil
	case "run":
		return LevelRun, nil
	case "worker":
		return LevelWorker, nil
	case "suite":
		return LevelSuite, nil
	case "test":
		return LevelTest, nil
	default:
		return LevelNone, fmt.Errorf("unknown isolation level %q", s)
	}
}

// CanShareWith reports whether state isolated at this level may be shared
// into a context isolated at the other level. State may flow from a broader
// scope into an equally or more restrictive one, never the other way.
func (l Level) CanShareWith(other Level) bool {
	return l <= other
}

// Broader returns the less restrictive of the two levels. Used for merge
// decisions when two contexts exchange state.
func Broader(a, b Level) Level {
	if a < b {
		return a
	}
	return b
}
