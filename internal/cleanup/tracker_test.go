package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastTracker returns a tracker with a retry delay short enough for tests.
func fastTracker(maxRetries int) *Tracker {
	return NewTrackerWithRetry(maxRetries, time.Millisecond)
}

func noop(ctx context.Context) error { return nil }

func TestRegister_Idempotent(t *testing.T) {
	tr := fastTracker(3)

	firstRan := false
	tr.Register("document", "doc-1", func(ctx context.Context) error {
		firstRan = true
		return nil
	})
	tr.Register("document", "doc-1", func(ctx context.Context) error {
		t.Error("second registration must never run")
		return nil
	})

	assert.Equal(t, 1, tr.Count(), "duplicate registration must not add a task")

	result := tr.Cleanup(context.Background())
	assert.True(t, result.Success)
	assert.True(t, firstRan, "first registration wins")
}

func TestCleanup_PriorityOrder(t *testing.T) {
	tr := fastTracker(1)

	var mu sync.Mutex
	var calls []string
	record := func(name string) Func {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
			return nil
		}
	}

	tr.RegisterWithPriority("a", "1", 10, record("low"))
	tr.RegisterWithPriority("b", "1", 90, record("high"))
	tr.RegisterWithPriority("c", "1", 50, record("mid"))

	result := tr.Cleanup(context.Background())

	require.True(t, result.Success)
	assert.Equal(t, []string{"high", "mid", "low"}, calls)
}

func TestCleanup_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	tr := fastTracker(1)

	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		tr.RegisterWithPriority("r", name, 50, func(ctx context.Context) error {
			calls = append(calls, name)
			return nil
		})
	}

	tr.Cleanup(context.Background())
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestCleanup_PartialFailureResilience(t *testing.T) {
	tr := fastTracker(2)

	var calls []string
	ok := func(name string) Func {
		return func(ctx context.Context) error {
			calls = append(calls, name)
			return nil
		}
	}

	tr.RegisterWithPriority("res", "A", 90, ok("A"))
	tr.RegisterWithPriority("res", "B", 50, func(ctx context.Context) error {
		calls = append(calls, "B")
		return errors.New("boom")
	})
	tr.RegisterWithPriority("res", "C", 10, ok("C"))

	result := tr.Cleanup(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.CleanedCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "res", result.Failures[0].Type)
	assert.Equal(t, "B", result.Failures[0].ID)
	assert.EqualError(t, result.Failures[0].Err, "boom")

	// A and C ran despite B failing every attempt.
	assert.Contains(t, calls, "A")
	assert.Contains(t, calls, "C")

	// The failed task stays registered for a later pass.
	assert.Equal(t, 1, tr.Count())
}

func TestCleanup_RetryThenSucceed(t *testing.T) {
	tr := fastTracker(3)

	attempts := 0
	tr.Register("document", "doc-1", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	result := tr.Cleanup(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.CleanedCount)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, tr.Count(), "successful task is removed")
}

func TestCleanup_AttemptsAccumulateAcrossPasses(t *testing.T) {
	tr := fastTracker(2)

	calls := 0
	tr.Register("document", "doc-1", func(ctx context.Context) error {
		calls++
		return errors.New("still broken")
	})

	tr.Cleanup(context.Background())
	assert.Equal(t, 2, calls)

	// Second pass gets a fresh retry window; the attempt count keeps growing.
	tr.Cleanup(context.Background())
	assert.Equal(t, 4, calls)
	assert.Equal(t, 1, tr.Count())
}

func TestCleanup_EmptyTrackerIsNoop(t *testing.T) {
	tr := fastTracker(3)

	result := tr.Cleanup(context.Background())
	assert.True(t, result.Success)
	assert.Zero(t, result.CleanedCount)
	assert.Zero(t, result.FailedCount)
}

func TestCleanup_ClearedTrackerIsNoop(t *testing.T) {
	tr := fastTracker(3)
	tr.Register("document", "doc-1", noop)
	tr.Clear()

	result := tr.Cleanup(context.Background())
	assert.True(t, result.Success)
	assert.Zero(t, result.CleanedCount)
}

func TestCleanup_PanickingCallbackIsAFailure(t *testing.T) {
	tr := fastTracker(1)
	tr.Register("document", "doc-1", func(ctx context.Context) error {
		panic("oops")
	})

	result := tr.Cleanup(context.Background())

	assert.False(t, result.Success)
	require.Len(t, result.Failures, 1)
	var pe *PanicError
	assert.True(t, errors.As(result.Failures[0].Err, &pe))
}

func TestStats(t *testing.T) {
	tr := fastTracker(3)
	tr.Register("document", "1", noop)
	tr.Register("document", "2", noop)
	tr.Register("user", "1", noop)
	tr.RegisterWithPriority("workspace", "1", 30, noop)

	stats := tr.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.ByType["document"])
	assert.Equal(t, 1, stats.ByType["user"])
	assert.Equal(t, 2, stats.ByPriority[PriorityFor("document")])
	assert.Equal(t, 1, stats.ByPriority[30])
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, 100, PriorityFor("share"))
	assert.Equal(t, 5, PriorityFor("system_data"))
	assert.Equal(t, DefaultPriority, PriorityFor("unknown_type"))
}
