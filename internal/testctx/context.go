package testctx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"testkit/internal/cleanup"
	"testkit/internal/isolation"
	"testkit/pkg/logging"
)

// State is the lifecycle state of a test context.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	// StateCleaned is terminal: once a context is cleaned it never leaves
	// this state, regardless of later Complete or RecordError calls.
	StateCleaned State = "cleaned"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// Config describes a context to create.
type Config struct {
	Name           string
	Suite          string
	IsolationLevel isolation.Level
	Timeout        time.Duration
	Metadata       map[string]interface{}

	// CleanupMaxRetries and CleanupRetryDelay override the cleanup
	// tracker's retry policy when both are set. Zero values keep the
	// tracker defaults.
	CleanupMaxRetries int
	CleanupRetryDelay time.Duration
}

// TrackedResource records something a test created. It is exclusively
// owned by the context that created it.
type TrackedResource struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TrackOptions configure TrackResource.
type TrackOptions struct {
	// Cleanup, when non-nil, is registered with the context's cleanup
	// tracker under the same type:id key. Resources may be tracked without
	// a cleanup (read-only references).
	Cleanup cleanup.Func
	// Priority overrides the type's default cleanup priority when >0.
	Priority int
	Metadata map[string]interface{}
}

// Context is the unit of isolation for one test (or suite): it binds
// identity generation, resource tracking, cleanup, timing and error state
// into a single object. Safe for concurrent use.
type Context struct {
	mu        sync.Mutex
	id        string
	prefix    string
	name      string
	suite     string
	level     isolation.Level
	startTime time.Time
	endTime   time.Time
	timeout   time.Duration
	metadata  map[string]interface{}
	state     State
	retries   int
	retryWait time.Duration
	resources map[string][]TrackedResource
	errs      []error

	isolation *isolation.Manager
	tracker   *cleanup.Tracker
}

// New creates a context and immediately moves it to the running state. The
// context's prefix embeds the suite, name, a timestamp and four random hex
// characters; collisions are astronomically unlikely but not impossible,
// which is acceptable for test resource naming.
func New(cfg Config) *Context {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	metadata := make(map[string]interface{}, len(cfg.Metadata))
	for k, v := range cfg.Metadata {
		metadata[k] = v
	}

	base := cfg.Name
	if cfg.Suite != "" {
		base = cfg.Suite + "_" + cfg.Name
	}
	random4 := strippedUUID()[:4]
	prefix := isolation.Sanitize(
		fmt.Sprintf("%s_%d_%s", base, time.Now().Unix(), random4),
		isolation.DefaultSeparator,
	)

	tracker := cleanup.NewTracker()
	if cfg.CleanupMaxRetries > 0 && cfg.CleanupRetryDelay > 0 {
		tracker = cleanup.NewTrackerWithRetry(cfg.CleanupMaxRetries, cfg.CleanupRetryDelay)
	}

	c := &Context{
		id:        uuid.NewString(),
		prefix:    prefix,
		name:      cfg.Name,
		suite:     cfg.Suite,
		level:     cfg.IsolationLevel,
		startTime: time.Now(),
		timeout:   cfg.Timeout,
		metadata:  metadata,
		state:     StateCreated,
		retries:   cfg.CleanupMaxRetries,
		retryWait: cfg.CleanupRetryDelay,
		resources: make(map[string][]TrackedResource),
		isolation: isolation.NewManager(prefix, cfg.IsolationLevel),
		tracker:   tracker,
	}
	c.state = StateRunning

	logging.Debug("TestContext", "Created context %s (prefix %s, level %s)", c.id, prefix, cfg.IsolationLevel)
	return c
}

func strippedUUID() string {
	s := uuid.NewString()
	out := make([]byte, 0, 32)
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// ID returns the context's unique identifier.
func (c *Context) ID() string { return c.id }

// Prefix returns the context's unique name prefix.
func (c *Context) Prefix() string { return c.prefix }

// Name returns the configured test name.
func (c *Context) Name() string { return c.name }

// Suite returns the configured suite name, if any.
func (c *Context) Suite() string { return c.suite }

// IsolationLevel returns the context's isolation level.
func (c *Context) IsolationLevel() isolation.Level { return c.level }

// Metadata returns a copy of the context's metadata.
func (c *Context) Metadata() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Isolation exposes the context's isolation manager for callers that need
// sweep patterns or namespaces.
func (c *Context) Isolation() *isolation.Manager { return c.isolation }

// Tracker exposes the context's cleanup tracker for diagnostics.
func (c *Context) Tracker() *cleanup.Tracker { return c.tracker }

// UniqueName generates a context-scoped unique name for the base.
func (c *Context) UniqueName(base string) string {
	return c.isolation.GenerateUniqueName(base)
}

// UniqueID generates a context-scoped unique identifier.
func (c *Context) UniqueID() string {
	return c.isolation.GenerateUniqueID()
}

// TrackResource records a created resource and, when a cleanup callback is
// supplied, registers it under the same type:id key.
func (c *Context) TrackResource(resourceType, id string, opts TrackOptions) {
	c.mu.Lock()
	c.resources[resourceType] = append(c.resources[resourceType], TrackedResource{
		Type:      resourceType,
		ID:        id,
		CreatedAt: time.Now(),
		Metadata:  opts.Metadata,
	})
	c.mu.Unlock()

	if opts.Cleanup != nil {
		if opts.Priority > 0 {
			c.tracker.RegisterWithPriority(resourceType, id, opts.Priority, opts.Cleanup)
		} else {
			c.tracker.Register(resourceType, id, opts.Cleanup)
		}
	}
}

// Resources returns the tracked resources of one type, in creation order.
func (c *Context) Resources(resourceType string) []TrackedResource {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackedResource, len(c.resources[resourceType]))
	copy(out, c.resources[resourceType])
	return out
}

// ResourceCount returns the total number of tracked resources.
func (c *Context) ResourceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, list := range c.resources {
		n += len(list)
	}
	return n
}

// RecordError appends an error to the context. A running context flips to
// failed; completed and cleaned states are never overridden.
func (c *Context) RecordError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errs = append(c.errs, err)
	if c.state == StateRunning {
		c.state = StateFailed
	}
	logging.Debug("TestContext", "Recorded error in context %s: %v", c.id, err)
}

// Errors returns all recorded errors.
func (c *Context) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

// Complete moves a running context to completed and stamps the end time.
// It is a no-op in any other state.
func (c *Context) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return
	}
	c.state = StateCompleted
	c.endTime = time.Now()
}

// Cleanup runs the registered cleanup tasks and then moves the context to
// the terminal cleaned state regardless of prior state or task failures.
func (c *Context) Cleanup(ctx context.Context) cleanup.Result {
	result := c.tracker.Cleanup(ctx)

	c.mu.Lock()
	c.state = StateCleaned
	if c.endTime.IsZero() {
		c.endTime = time.Now()
	}
	c.mu.Unlock()

	return result
}

// Duration returns (endTime - startTime), or (now - startTime) for contexts
// that have not ended, so the duration keeps growing while a test runs.
func (c *Context) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(c.startTime)
}

// IsTimedOut reports whether the context has exceeded its configured
// timeout. This is a passive check: nothing is aborted.
func (c *Context) IsTimedOut() bool {
	return c.Duration() > c.timeout
}

// CreateChild spawns a context with this context's name as its suite, the
// same isolation level and timeout, and a parentContextId metadata entry.
// The child is not tracked by the parent; register it with a Provider if
// bulk cleanup should include it.
func (c *Context) CreateChild(name string) *Context {
	metadata := map[string]interface{}{"parentContextId": c.id}
	return New(Config{
		Name:              name,
		Suite:             c.name,
		IsolationLevel:    c.level,
		Timeout:           c.timeout,
		Metadata:          metadata,
		CleanupMaxRetries: c.retries,
		CleanupRetryDelay: c.retryWait,
	})
}

// Summary is a serializable snapshot of a context for logging.
type Summary struct {
	ContextID      string         `json:"contextId"`
	Prefix         string         `json:"prefix"`
	Name           string         `json:"name"`
	Suite          string         `json:"suite,omitempty"`
	IsolationLevel string         `json:"isolationLevel"`
	State          State          `json:"state"`
	StartTime      time.Time      `json:"startTime"`
	EndTime        *time.Time     `json:"endTime,omitempty"`
	DurationMs     int64          `json:"durationMs"`
	ResourceCounts map[string]int `json:"resourceCounts"`
	ErrorCount     int            `json:"errorCount"`
	PendingCleanup int            `json:"pendingCleanup"`
}

// Summary returns a snapshot of the context.
func (c *Context) Summary() Summary {
	c.mu.Lock()
	counts := make(map[string]int, len(c.resources))
	for k, list := range c.resources {
		counts[k] = len(list)
	}
	var endTime *time.Time
	if !c.endTime.IsZero() {
		t := c.endTime
		endTime = &t
	}
	s := Summary{
		ContextID:      c.id,
		Prefix:         c.prefix,
		Name:           c.name,
		Suite:          c.suite,
		IsolationLevel: c.level.String(),
		State:          c.state,
		StartTime:      c.startTime,
		EndTime:        endTime,
		ErrorCount:     len(c.errs),
		ResourceCounts: counts,
	}
	c.mu.Unlock()

	s.DurationMs = c.Duration().Milliseconds()
	s.PendingCleanup = c.tracker.Count()
	return s
}
