package cleanup

import (
	"context"
	"sort"
	"sync"
	"time"

	"testkit/pkg/logging"
)

// Func is the cleanup callback contract: it must be idempotent-safe to
// retry, returns nil on success, and signals failure by returning an error.
type Func func(ctx context.Context) error

// Task is one registered, priority-ordered, retryable teardown action.
type Task struct {
	Type         string
	ID           string
	Priority     int
	Cleanup      Func
	RegisteredAt time.Time

	// Attempts counts every invocation of the cleanup function across all
	// cleanup passes. The task is mutated in place and only removed on
	// success, so the count keeps accumulating when a failed task is
	// retried by a later Cleanup call. Each pass still gets a fresh window
	// of maxRetries tries.
	Attempts  int
	LastError error
}

// Failure describes one task that exhausted its retries.
type Failure struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Err  error  `json:"error"`
}

// Result summarizes one cleanup pass.
type Result struct {
	Success      bool          `json:"success"`
	CleanedCount int           `json:"cleanedCount"`
	FailedCount  int           `json:"failedCount"`
	Failures     []Failure     `json:"failures"`
	Duration     time.Duration `json:"duration"`
}

// Stats groups registered task counts for diagnostics.
type Stats struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"byType"`
	ByPriority map[int]int    `json:"byPriority"`
}

// defaultPriorities orders teardown by resource type: resources that
// reference others (shares, permissions) are cleaned before the things they
// reference. Unknown types fall back to DefaultPriority.
var defaultPriorities = map[string]int{
	"share":       100,
	"permission":  90,
	"document":    80,
	"template":    70,
	"record":      60,
	"user":        50,
	"group":       40,
	"workspace":   30,
	"environment": 20,
	"config":      10,
	"system_data": 5,
}

// DefaultPriority is used for resource types not in the static table.
const DefaultPriority = 50

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// Tracker records cleanup actions for created resources and executes them
// in dependency-safe order. A Tracker is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	tasks      map[string]*Task
	order      []string // registration order, for stable same-priority runs
	maxRetries int
	retryDelay time.Duration
}

// NewTracker creates a Tracker with the default retry policy (3 attempts,
// linearly increasing delay starting at one second).
func NewTracker() *Tracker {
	return NewTrackerWithRetry(defaultMaxRetries, defaultRetryDelay)
}

// NewTrackerWithRetry creates a Tracker with an explicit retry policy.
func NewTrackerWithRetry(maxRetries int, retryDelay time.Duration) *Tracker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Tracker{
		tasks:      make(map[string]*Task),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// PriorityFor returns the default priority for a resource type.
func PriorityFor(resourceType string) int {
	if p, ok := defaultPriorities[resourceType]; ok {
		return p
	}
	return DefaultPriority
}

// Register records a cleanup action for the resource identified by
// type and id, using the default priority for the type. Registration is
// idempotent per type:id key: the first registration wins and later calls
// are silently ignored, so an already scheduled cleanup can never be
// overridden by accident.
func (t *Tracker) Register(resourceType, id string, fn Func) {
	t.RegisterWithPriority(resourceType, id, PriorityFor(resourceType), fn)
}

// RegisterWithPriority is Register with an explicit priority override.
// Higher priorities are cleaned first.
func (t *Tracker) RegisterWithPriority(resourceType, id string, priority int, fn Func) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := resourceType + ":" + id
	if _, exists := t.tasks[key]; exists {
		logging.Debug("Cleanup", "Ignoring duplicate registration for %s", key)
		return
	}

	t.tasks[key] = &Task{
		Type:         resourceType,
		ID:           id,
		Priority:     priority,
		Cleanup:      fn,
		RegisteredAt: time.Now(),
	}
	t.order = append(t.order, key)
}

// Count returns the number of registered tasks.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Clear drops all registered tasks without running them. Cleanup on a
// cleared tracker is a no-op, not an error.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks = make(map[string]*Task)
	t.order = nil
}

// Stats returns registered task counts grouped by type and priority.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		Total:      len(t.tasks),
		ByType:     make(map[string]int),
		ByPriority: make(map[int]int),
	}
	for _, task := range t.tasks {
		stats.ByType[task.Type]++
		stats.ByPriority[task.Priority]++
	}
	return stats
}

// Cleanup runs every registered task in descending priority order; tasks of
// equal priority run in registration order. Each task is attempted up to
// maxRetries times with a linearly increasing delay between attempts. A
// task that fails every attempt is reported in the result but never blocks
// the remaining tasks. Successful tasks are removed from the tracker;
// failed tasks stay registered so a later Cleanup call can retry them.
//
// Cleanup itself never returns an error: all failures are collected into
// the Result.
func (t *Tracker) Cleanup(ctx context.Context) Result {
	start := time.Now()

	t.mu.Lock()
	queue := make([]*Task, 0, len(t.tasks))
	for _, key := range t.order {
		if task, ok := t.tasks[key]; ok {
			queue = append(queue, task)
		}
	}
	t.mu.Unlock()

	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority > queue[j].Priority
	})

	result := Result{}
	for _, task := range queue {
		if err := t.runTask(ctx, task); err != nil {
			result.FailedCount++
			result.Failures = append(result.Failures, Failure{Type: task.Type, ID: task.ID, Err: err})
			logging.Error("Cleanup", err, "Cleanup of %s:%s failed after %d attempts", task.Type, task.ID, task.Attempts)
			continue
		}

		result.CleanedCount++
		t.mu.Lock()
		key := task.Type + ":" + task.ID
		delete(t.tasks, key)
		for i, k := range t.order {
			if k == key {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
	}

	result.Success = result.FailedCount == 0
	result.Duration = time.Since(start)

	logging.Info("Cleanup", "Cleanup pass finished: %d cleaned, %d failed in %v",
		result.CleanedCount, result.FailedCount, result.Duration)
	return result
}

// runTask attempts one task up to maxRetries times within this pass.
func (t *Tracker) runTask(ctx context.Context, task *Task) error {
	var lastErr error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			task.LastError = err
			return err
		}

		task.Attempts++
		err := invoke(ctx, task.Cleanup)
		if err == nil {
			task.LastError = nil
			return nil
		}

		lastErr = err
		task.LastError = err
		if attempt < t.maxRetries {
			delay := t.retryDelay * time.Duration(attempt)
			logging.Warn("Cleanup", "Cleanup of %s:%s failed (attempt %d/%d), retrying in %v: %v",
				task.Type, task.ID, attempt, t.maxRetries, delay, err)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				task.LastError = ctx.Err()
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// invoke shields the sweep from panicking cleanup callbacks; a panic is
// reported as a task failure like any other error.
func invoke(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx)
}
