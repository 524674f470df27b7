package runctx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"testkit/internal/dependency"
	"testkit/internal/store"
	"testkit/pkg/logging"
)

const subsystem = "runctx"

// Config configures a Manager. Store is required; everything else has a
// working default.
type Config struct {
	Store store.Store
	Clock Clock

	// TTL is the age after which an untouched run context may be swept.
	TTL time.Duration
	// SweepInterval is how often the background sweep runs. Zero means
	// DefaultSweepInterval; a negative value disables the background
	// sweep (CleanupExpiredContexts can still be called directly).
	SweepInterval time.Duration

	MaxSharedVariables int
	MaxCapturedData    int
	MaxContextSize     int
}

type cacheEntry struct {
	ctx         *RunContext
	accessCount int
}

// Manager owns the shared run contexts of all active runs: creation,
// merge-style updates with growth ceilings, capture of response data,
// dependency resolution, and TTL expiry.
type Manager struct {
	mu    sync.RWMutex
	store store.Store
	clock Clock
	cache map[string]*cacheEntry

	ttl                time.Duration
	maxSharedVariables int
	maxCapturedData    int
	maxContextSize     int

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepDone     chan struct{}
}

// NewManager builds a Manager and starts the background TTL sweep when a
// sweep interval is configured. Callers must Close the manager to stop the
// sweep goroutine.
func NewManager(cfg Config) *Manager {
	if cfg.Store == nil {
		panic("runctx: Config.Store is required")
	}
	m := &Manager{
		store:              cfg.Store,
		clock:              cfg.Clock,
		cache:              make(map[string]*cacheEntry),
		ttl:                cfg.TTL,
		maxSharedVariables: cfg.MaxSharedVariables,
		maxCapturedData:    cfg.MaxCapturedData,
		maxContextSize:     cfg.MaxContextSize,
		sweepInterval:      cfg.SweepInterval,
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.maxSharedVariables <= 0 {
		m.maxSharedVariables = DefaultMaxSharedVariables
	}
	if m.maxCapturedData <= 0 {
		m.maxCapturedData = DefaultMaxCapturedData
	}
	if m.maxContextSize <= 0 {
		m.maxContextSize = DefaultMaxContextSize
	}
	if m.sweepInterval == 0 {
		m.sweepInterval = DefaultSweepInterval
	}
	if m.sweepInterval > 0 {
		m.stopSweep = make(chan struct{})
		m.sweepDone = make(chan struct{})
		go m.sweepLoop()
	}
	return m
}

// Close stops the background sweep. Safe to call when no sweep is running.
func (m *Manager) Close() {
	if m.stopSweep == nil {
		return
	}
	close(m.stopSweep)
	<-m.sweepDone
	m.stopSweep = nil
}

func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			if n, err := m.CleanupExpiredContexts(context.Background()); err != nil {
				logging.Warn(subsystem, "TTL sweep failed: %v", err)
			} else if n > 0 {
				logging.Info(subsystem, "TTL sweep removed %d expired run context(s)", n)
			}
		}
	}
}

// InitializeRunContext creates and persists a fresh run context. An
// existing context for the same run is replaced.
func (m *Manager) InitializeRunContext(ctx context.Context, runID, projectID, environmentID string) (*RunContext, error) {
	if runID == "" {
		return nil, opError("initialize", "run id must not be empty", nil)
	}
	now := m.clock.Now()
	rc := &RunContext{
		RunID:            runID,
		ProjectID:        projectID,
		EnvironmentID:    environmentID,
		SharedAuthTokens: make(map[string]string),
		SharedVariables:  make(map[string]interface{}),
		CapturedData:     make(map[string]map[string]interface{}),
		TestOrder:        []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.persist(ctx, rc); err != nil {
		return nil, opError("initialize", "persisting run context", err)
	}

	m.mu.Lock()
	m.cache[runID] = &cacheEntry{ctx: rc}
	m.mu.Unlock()

	logging.Debug(subsystem, "initialized run context %s (project=%s env=%s)", runID, projectID, environmentID)
	return rc, nil
}

// GetRunContext returns the context for a run, or nil when none exists.
// The cache is consulted first; storage failures surface as *Error.
func (m *Manager) GetRunContext(ctx context.Context, runID string) (*RunContext, error) {
	m.mu.Lock()
	if entry, ok := m.cache[runID]; ok {
		entry.accessCount++
		rc := entry.ctx
		m.mu.Unlock()
		return rc, nil
	}
	m.mu.Unlock()

	rec, err := m.store.Get(ctx, RecordTypeRunContext, store.Filter{"run_id": runID})
	if err != nil {
		return nil, opError("get", fmt.Sprintf("loading run context %s", runID), err)
	}
	if rec == nil {
		return nil, nil
	}
	rc, err := fromRecord(rec)
	if err != nil {
		return nil, opError("get", fmt.Sprintf("decoding run context %s", runID), err)
	}

	m.mu.Lock()
	m.cache[runID] = &cacheEntry{ctx: rc, accessCount: 1}
	m.mu.Unlock()
	return rc, nil
}

// SetTestOrder records the execution order of the run's tests. The order
// drives dependency chain sorting.
func (m *Manager) SetTestOrder(ctx context.Context, runID string, order []string) error {
	return m.update(ctx, "set_test_order", runID, func(rc *RunContext) error {
		rc.TestOrder = append([]string(nil), order...)
		return nil
	})
}

// UpdateSharedAuthTokens shallow-merges tokens into the run context. The
// merged context must stay under the serialized size ceiling or the update
// is rejected without persisting anything.
func (m *Manager) UpdateSharedAuthTokens(ctx context.Context, runID string, tokens map[string]string) error {
	return m.update(ctx, "update_auth_tokens", runID, func(rc *RunContext) error {
		for k, v := range tokens {
			rc.SharedAuthTokens[k] = v
		}
		return nil
	})
}

// UpdateSharedVariables shallow-merges variables into the run context.
// Both the entry-count ceiling and the serialized size ceiling are checked
// against the merged result before anything is persisted; a rejected merge
// leaves the stored context untouched.
func (m *Manager) UpdateSharedVariables(ctx context.Context, runID string, vars map[string]interface{}) error {
	return m.update(ctx, "update_variables", runID, func(rc *RunContext) error {
		for k, v := range vars {
			rc.SharedVariables[k] = v
		}
		if len(rc.SharedVariables) > m.maxSharedVariables {
			return fmt.Errorf("shared variables exceed limit of %d entries", m.maxSharedVariables)
		}
		return nil
	})
}

// CaptureVariablesFromResponse extracts values from a decoded response
// body according to the capture spec (variable name -> dotted path) and
// stores them under the capturing test's id. Paths that do not resolve are
// skipped silently; the captured subset is returned.
func (m *Manager) CaptureVariablesFromResponse(ctx context.Context, runID, testCaseID string, body interface{}, spec map[string]string) (map[string]interface{}, error) {
	captured := make(map[string]interface{})
	for name, path := range spec {
		if v, ok := extractPath(body, path); ok {
			captured[name] = v
		} else {
			logging.Debug(subsystem, "capture path %q did not resolve for test %s", path, testCaseID)
		}
	}
	if len(captured) == 0 {
		return captured, nil
	}

	err := m.update(ctx, "capture_variables", runID, func(rc *RunContext) error {
		existing := rc.CapturedData[testCaseID]
		merged := make(map[string]interface{}, len(existing)+len(captured))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range captured {
			merged[k] = v
		}
		rc.CapturedData[testCaseID] = merged
		if len(rc.CapturedData) > m.maxCapturedData {
			return fmt.Errorf("captured data exceeds limit of %d tests", m.maxCapturedData)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return captured, nil
}

// ResolveDependencies loads the run's dependency records and answers what
// the given test requires, in which order, and whether it is ready to run.
func (m *Manager) ResolveDependencies(ctx context.Context, runID, testCaseID string) (*Resolution, error) {
	rc, err := m.GetRunContext(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, opError("resolve_dependencies", fmt.Sprintf("run context %s does not exist", runID), nil)
	}

	recs, err := m.store.Query(ctx, RecordTypeDependency, store.Filter{"run_id": runID})
	if err != nil {
		return nil, opError("resolve_dependencies", "loading dependency records", err)
	}
	graph := dependency.New()
	for _, rec := range recs {
		dep, _ := rec["dependent_test_id"].(string)
		req, _ := rec["required_test_id"].(string)
		typ, _ := rec["dependency_type"].(string)
		if dep == "" || req == "" {
			continue
		}
		graph.Add(dep, req, dependency.EdgeType(typ))
	}

	chain, err := graph.Chain(testCaseID, rc.TestOrder)
	if err != nil {
		return nil, opError("resolve_dependencies", "resolving execution chain", err)
	}

	edges := graph.Requirements(testCaseID)
	dependsOn := make([]string, 0, len(edges))
	for _, e := range edges {
		dependsOn = append(dependsOn, e.RequiredTestID)
	}

	required := make(map[string]interface{}, len(chain))
	for _, id := range chain {
		if data, ok := rc.CapturedData[id]; ok {
			required["test_"+id] = data
		} else {
			required["test_"+id] = nil
		}
	}

	return &Resolution{
		TestCaseID:        testCaseID,
		DependsOn:         dependsOn,
		ExecutionChain:    chain,
		RequiredVariables: required,
		IsReady:           len(dependsOn) == 0 || len(chain) > 0,
	}, nil
}

// CreateAggregatedContext assembles a read-only view of the run's shared
// state together with the stored results of the named tests. Tests without
// a result are omitted from the Results map.
func (m *Manager) CreateAggregatedContext(ctx context.Context, runID string, testCaseIDs []string) (*Aggregated, error) {
	rc, err := m.GetRunContext(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, opError("aggregate", fmt.Sprintf("run context %s does not exist", runID), nil)
	}

	agg := &Aggregated{
		RunID:            runID,
		SharedAuthTokens: make(map[string]string, len(rc.SharedAuthTokens)),
		SharedVariables:  make(map[string]interface{}, len(rc.SharedVariables)),
		Results:          make(map[string]map[string]interface{}, len(testCaseIDs)),
	}
	for k, v := range rc.SharedAuthTokens {
		agg.SharedAuthTokens[k] = v
	}
	for k, v := range rc.SharedVariables {
		agg.SharedVariables[k] = v
	}
	for _, id := range testCaseIDs {
		rec, err := m.store.Get(ctx, RecordTypeResult, store.Filter{"test_case_id": id, "run_id": runID})
		if err != nil {
			return nil, opError("aggregate", fmt.Sprintf("loading result for test %s", id), err)
		}
		if rec != nil {
			agg.Results[id] = rec
		}
	}
	return agg, nil
}

// Finalize marks the run context finalized so later sweeps can reclaim it
// without waiting for the full TTL. Further updates are rejected.
func (m *Manager) Finalize(ctx context.Context, runID string) error {
	m.mu.Lock()
	entry, cached := m.cache[runID]
	m.mu.Unlock()

	var rc *RunContext
	if cached {
		rc = entry.ctx
	} else {
		loaded, err := m.GetRunContext(ctx, runID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return opError("finalize", fmt.Sprintf("run context %s does not exist", runID), nil)
		}
		rc = loaded
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.cache[runID]; ok {
		rc = entry.ctx
	}
	next := rc.clone()
	next.Finalized = true
	next.UpdatedAt = m.clock.Now()
	if err := m.persist(ctx, next); err != nil {
		return opError("finalize", "persisting run context", err)
	}
	m.cache[runID] = &cacheEntry{ctx: next, accessCount: accessCount(m.cache[runID])}
	logging.Info(subsystem, "finalized run context %s", runID)
	return nil
}

// CleanupExpiredContexts deletes run contexts whose last update is older
// than the TTL, plus finalized ones, and evicts them from the cache. It
// returns the number of contexts removed.
func (m *Manager) CleanupExpiredContexts(ctx context.Context) (int, error) {
	recs, err := m.store.Query(ctx, RecordTypeRunContext, nil)
	if err != nil {
		return 0, opError("cleanup_expired", "listing run contexts", err)
	}
	cutoff := m.clock.Now().Add(-m.ttl)
	removed := 0
	for _, rec := range recs {
		rc, err := fromRecord(rec)
		if err != nil {
			logging.Warn(subsystem, "skipping undecodable run context record %s: %v", store.RecordID(rec), err)
			continue
		}
		if !rc.Finalized && !rc.UpdatedAt.Before(cutoff) {
			continue
		}
		if _, err := m.store.Delete(ctx, RecordTypeRunContext, rc.RunID); err != nil {
			return removed, opError("cleanup_expired", fmt.Sprintf("deleting run context %s", rc.RunID), err)
		}
		m.mu.Lock()
		delete(m.cache, rc.RunID)
		m.mu.Unlock()
		removed++
	}
	return removed, nil
}

// Stats reports cache diagnostics. Byte sizes are approximated as twice
// the serialized JSON length to account for in-memory overhead.
func (m *Manager) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := MemoryStats{CachedContexts: len(m.cache)}
	for _, entry := range m.cache {
		if raw, err := json.Marshal(entry.ctx); err == nil {
			stats.ApproxBytes += len(raw) * 2
		}
		stats.TotalAccessCount += entry.accessCount
	}
	if stats.CachedContexts > 0 {
		stats.AvgAccessCount = float64(stats.TotalAccessCount) / float64(stats.CachedContexts)
	}
	return stats
}

// update loads the context, applies the mutation to a copy, validates the
// size ceiling against the merged copy, persists, and only then swaps the
// copy into the cache. Any failure leaves both store and cache unchanged.
func (m *Manager) update(ctx context.Context, operation, runID string, mutate func(*RunContext) error) error {
	rc, err := m.GetRunContext(ctx, runID)
	if err != nil {
		return err
	}
	if rc == nil {
		return opError(operation, fmt.Sprintf("run context %s does not exist", runID), nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-read under the lock so concurrent updates merge onto the latest
	// snapshot instead of clobbering each other's writes.
	if entry, ok := m.cache[runID]; ok {
		rc = entry.ctx
	}
	if rc.Finalized {
		return opError(operation, fmt.Sprintf("run context %s is finalized", runID), nil)
	}

	next := rc.clone()
	if err := mutate(next); err != nil {
		return opError(operation, "rejected", err)
	}
	next.UpdatedAt = m.clock.Now()

	raw, err := json.Marshal(next)
	if err != nil {
		return opError(operation, "serializing run context", err)
	}
	if len(raw) > m.maxContextSize {
		return opError(operation, fmt.Sprintf("context size %d exceeds limit of %d bytes", len(raw), m.maxContextSize), nil)
	}

	if err := m.persist(ctx, next); err != nil {
		return opError(operation, "persisting run context", err)
	}
	m.cache[runID] = &cacheEntry{ctx: next, accessCount: accessCount(m.cache[runID])}
	return nil
}

func accessCount(entry *cacheEntry) int {
	if entry == nil {
		return 0
	}
	return entry.accessCount
}

func (m *Manager) persist(ctx context.Context, rc *RunContext) error {
	rec, err := toRecord(rc)
	if err != nil {
		return err
	}
	_, err = m.store.Save(ctx, RecordTypeRunContext, rec)
	return err
}

// toRecord converts a run context to its stored form via a JSON roundtrip,
// keyed by run id.
func toRecord(rc *RunContext) (store.Record, error) {
	raw, err := json.Marshal(rc)
	if err != nil {
		return nil, err
	}
	var rec store.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	rec["id"] = rc.RunID
	return rec, nil
}

func fromRecord(rec store.Record) (*RunContext, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var rc RunContext
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, err
	}
	if rc.SharedAuthTokens == nil {
		rc.SharedAuthTokens = make(map[string]string)
	}
	if rc.SharedVariables == nil {
		rc.SharedVariables = make(map[string]interface{})
	}
	if rc.CapturedData == nil {
		rc.CapturedData = make(map[string]map[string]interface{})
	}
	return &rc, nil
}
