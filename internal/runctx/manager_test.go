package runctx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testkit/internal/store"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore reports an infrastructure failure on every operation.
type failingStore struct{}

func (failingStore) Save(context.Context, string, store.Record) (store.Record, error) {
	return nil, store.ErrStorage
}
func (failingStore) Get(context.Context, string, store.Filter) (store.Record, error) {
	return nil, store.ErrStorage
}
func (failingStore) Delete(context.Context, string, string) (bool, error) {
	return false, store.ErrStorage
}
func (failingStore) Query(context.Context, string, store.Filter) ([]store.Record, error) {
	return nil, store.ErrStorage
}

func newTestManager(t *testing.T, cfg Config) (*Manager, store.Store) {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = store.NewFileStore(t.TempDir())
	}
	m := NewManager(cfg)
	t.Cleanup(m.Close)
	return m, cfg.Store
}

func TestInitializeAndGet(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	rc, err := m.InitializeRunContext(ctx, "run-1", "proj-1", "env-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", rc.RunID)
	assert.Equal(t, "proj-1", rc.ProjectID)
	assert.NotNil(t, rc.SharedVariables)

	got, err := m.GetRunContext(ctx, "run-1")
	require.NoError(t, err)
	assert.Same(t, rc, got, "second read should hit the cache")

	missing, err := m.GetRunContext(ctx, "run-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetSurvivesCacheLoss(t *testing.T) {
	fs := store.NewFileStore(t.TempDir())
	ctx := context.Background()

	m1, _ := newTestManager(t, Config{Store: fs})
	_, err := m1.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)
	require.NoError(t, m1.UpdateSharedVariables(ctx, "run-1", map[string]interface{}{"user": "alice"}))

	// A second manager over the same store simulates a restart.
	m2, _ := newTestManager(t, Config{Store: fs})
	rc, err := m2.GetRunContext(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.Equal(t, "alice", rc.SharedVariables["user"])
}

func TestConcurrentUpdatesAllMerged(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()
	_, err := m.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)

	// Each goroutine writes a distinct key; an update that clones a stale
	// snapshot would overwrite another goroutine's merge.
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			errs[i] = m.UpdateSharedVariables(ctx, "run-1", map[string]interface{}{key: i})
		}(i)
	}
	wg.Wait()

	rc, err := m.GetRunContext(ctx, "run-1")
	require.NoError(t, err)
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Contains(t, rc.SharedVariables, string(rune('a'+i)))
	}
}

func TestUpdateSharedVariablesMergesShallow(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()
	_, err := m.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)

	require.NoError(t, m.UpdateSharedVariables(ctx, "run-1", map[string]interface{}{"a": 1.0, "b": "x"}))
	require.NoError(t, m.UpdateSharedVariables(ctx, "run-1", map[string]interface{}{"b": "y", "c": true}))

	rc, err := m.GetRunContext(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rc.SharedVariables["a"])
	assert.Equal(t, "y", rc.SharedVariables["b"], "later update wins on key collision")
	assert.Equal(t, true, rc.SharedVariables["c"])
}

func TestVariableEntryCeilingRejectsWithoutPartialMerge(t *testing.T) {
	fs := store.NewFileStore(t.TempDir())
	m, _ := newTestManager(t, Config{Store: fs, MaxSharedVariables: 2})
	ctx := context.Background()
	_, err := m.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)
	require.NoError(t, m.UpdateSharedVariables(ctx, "run-1", map[string]interface{}{"a": 1.0}))

	err = m.UpdateSharedVariables(ctx, "run-1", map[string]interface{}{"b": 2.0, "c": 3.0})
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "update_variables", cerr.Operation)

	// Neither cache nor store picked up any part of the rejected merge.
	rc, err := m.GetRunContext(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1.0}, rc.SharedVariables)

	fresh, _ := newTestManager(t, Config{Store: fs})
	stored, err := fresh.GetRunContext(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1.0}, stored.SharedVariables)
}

func TestSizeCeilingRejectsBeforePersist(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxContextSize: 600})
	ctx := context.Background()
	_, err := m.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)

	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'x'
	}
	err = m.UpdateSharedVariables(ctx, "run-1", map[string]interface{}{"blob": string(big)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")

	rc, err := m.GetRunContext(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, rc.SharedVariables)
}

func TestUpdateUnknownRunFails(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	err := m.UpdateSharedVariables(context.Background(), "nope", map[string]interface{}{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestCaptureVariablesFromResponse(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()
	_, err := m.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)

	body := map[string]interface{}{
		"data": map[string]interface{}{
			"token": "tok-123",
			"items": []interface{}{
				map[string]interface{}{"id": "item-0"},
				map[string]interface{}{"id": "item-1"},
			},
		},
	}
	captured, err := m.CaptureVariablesFromResponse(ctx, "run-1", "T1", body, map[string]string{
		"authToken": "data.token",
		"firstItem": "data.items[0].id",
		"missing":   "data.nope.deeper",
		"outOfRange": "data.items[9].id",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"authToken": "tok-123",
		"firstItem": "item-0",
	}, captured, "unresolved paths are skipped, not errors")

	rc, err := m.GetRunContext(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", rc.CapturedData["T1"]["authToken"])
}

func TestResolveDependencies(t *testing.T) {
	m, st := newTestManager(t, Config{})
	ctx := context.Background()
	_, err := m.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)
	require.NoError(t, m.SetTestOrder(ctx, "run-1", []string{"T1", "T2"}))

	_, err = st.Save(ctx, RecordTypeDependency, store.Record{
		"id":                "dep-1",
		"run_id":            "run-1",
		"dependent_test_id": "T2",
		"required_test_id":  "T1",
		"dependency_type":   "token",
	})
	require.NoError(t, err)

	_, err = m.CaptureVariablesFromResponse(ctx, "run-1", "T1",
		map[string]interface{}{"token": "tok-1"}, map[string]string{"authToken": "token"})
	require.NoError(t, err)

	res, err := m.ResolveDependencies(ctx, "run-1", "T2")
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, res.DependsOn)
	assert.Equal(t, []string{"T1"}, res.ExecutionChain)
	assert.Equal(t, map[string]interface{}{"authToken": "tok-1"},
		res.RequiredVariables["test_T1"])
	assert.True(t, res.IsReady)

	// A test with no incoming dependency records is trivially ready.
	free, err := m.ResolveDependencies(ctx, "run-1", "T1")
	require.NoError(t, err)
	assert.Empty(t, free.DependsOn)
	assert.True(t, free.IsReady)
}

func TestCreateAggregatedContext(t *testing.T) {
	m, st := newTestManager(t, Config{})
	ctx := context.Background()
	_, err := m.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)
	require.NoError(t, m.UpdateSharedAuthTokens(ctx, "run-1", map[string]string{"api": "tok"}))

	_, err = st.Save(ctx, RecordTypeResult, store.Record{
		"id": "res-1", "run_id": "run-1", "test_case_id": "T1", "status": "passed",
	})
	require.NoError(t, err)

	agg, err := m.CreateAggregatedContext(ctx, "run-1", []string{"T1", "T2"})
	require.NoError(t, err)
	assert.Equal(t, "tok", agg.SharedAuthTokens["api"])
	assert.Equal(t, "passed", agg.Results["T1"]["status"])
	assert.NotContains(t, agg.Results, "T2", "tests without results are omitted")
}

func TestFinalizeBlocksUpdates(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()
	_, err := m.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)

	require.NoError(t, m.Finalize(ctx, "run-1"))
	err = m.UpdateSharedVariables(ctx, "run-1", map[string]interface{}{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finalized")
}

func TestCleanupExpiredContexts(t *testing.T) {
	clock := newMockClock()
	m, _ := newTestManager(t, Config{Clock: clock, TTL: time.Hour})
	ctx := context.Background()

	_, err := m.InitializeRunContext(ctx, "run-old", "p", "e")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = m.InitializeRunContext(ctx, "run-new", "p", "e")
	require.NoError(t, err)
	_, err = m.InitializeRunContext(ctx, "run-done", "p", "e")
	require.NoError(t, err)
	require.NoError(t, m.Finalize(ctx, "run-done"))

	removed, err := m.CleanupExpiredContexts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "expired and finalized contexts are swept")

	gone, err := m.GetRunContext(ctx, "run-old")
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := m.GetRunContext(ctx, "run-new")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestStorageFailuresSurfaceAsTypedErrors(t *testing.T) {
	m, _ := newTestManager(t, Config{Store: failingStore{}})
	_, err := m.GetRunContext(context.Background(), "run-1")
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "get", cerr.Operation)
	assert.ErrorIs(t, err, store.ErrStorage)
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()
	_, err := m.InitializeRunContext(ctx, "run-1", "p", "e")
	require.NoError(t, err)
	_, err = m.GetRunContext(ctx, "run-1")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 1, stats.CachedContexts)
	assert.Greater(t, stats.ApproxBytes, 0)
	assert.Equal(t, 1, stats.TotalAccessCount)
}

func TestEnvironmentVariableRedaction(t *testing.T) {
	m, st := newTestManager(t, Config{})
	ctx := context.Background()

	for _, rec := range []store.Record{
		{"id": "ev-1", "environment_id": "env-1", "key": "BASE_URL", "value": "https://example.test", "is_secret": false},
		{"id": "ev-2", "environment_id": "env-1", "key": "API_KEY", "value": "s3cr3t", "is_secret": true},
	} {
		_, err := st.Save(ctx, RecordTypeEnvVariable, rec)
		require.NoError(t, err)
	}

	vars, err := m.EnvironmentVariables(ctx, "env-1")
	require.NoError(t, err)
	byKey := make(map[string]EnvVariable, len(vars))
	for _, v := range vars {
		byKey[v.Key] = v
	}
	assert.Equal(t, "https://example.test", byKey["BASE_URL"].Value)
	assert.Equal(t, Redacted, byKey["API_KEY"].Value)

	raw, err := m.SecretValue(ctx, "env-1", "API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", raw)
}
