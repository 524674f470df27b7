package cleanup

import "fmt"

// PanicError wraps a panic recovered from a cleanup callback so it can be
// reported through the normal failure path.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cleanup callback panicked: %v", e.Value)
}
