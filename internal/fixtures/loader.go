package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"testkit/pkg/logging"
)

// Type distinguishes file-backed fixtures from generator-backed ones.
type Type string

const (
	TypeStatic  Type = "static"
	TypeDynamic Type = "dynamic"
)

// DynamicPrefix marks identifiers that dispatch to a registered generator.
const DynamicPrefix = "dynamic:"

var (
	// ErrNotFound is returned when a static fixture file or category
	// directory does not exist, or when no generator is registered under a
	// requested name. Unlike the run-context layer, missing fixtures are
	// errors here: a test asking for input it cannot get must fail.
	ErrNotFound = errors.New("fixture not found")

	// ErrInvalidIdentifier is returned for identifiers that are neither
	// "dynamic:name" nor "category/name".
	ErrInvalidIdentifier = errors.New("invalid fixture identifier")

	// ErrCycle is returned when dynamic fixture generators transitively
	// request themselves.
	ErrCycle = errors.New("cyclic fixture dependency")
)

// Meta describes one loaded fixture.
type Meta struct {
	Name         string    `json:"name"`
	Type         Type      `json:"type"`
	Path         string    `json:"path,omitempty"`
	LoadedAt     time.Time `json:"loadedAt"`
	Dependencies []string  `json:"dependencies,omitempty"`
}

// Set is a named unit of test input data together with its metadata.
// Static fixture data is immutable once loaded; callers must not mutate it.
type Set struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

// GeneratorContext is handed to dynamic fixture generators. GetFixture lets
// a generator pull other fixtures (static or dynamic) by identifier,
// forming a dependency chain resolved lazily.
type GeneratorContext struct {
	Prefix    string
	Timestamp time.Time

	loader    *Loader
	resolving map[string]bool
}

// GetFixture resolves another fixture from inside a generator. Requesting a
// fixture that is currently being resolved fails with ErrCycle instead of
// recursing forever.
func (gc *GeneratorContext) GetFixture(ctx context.Context, identifier string) (*Set, error) {
	return gc.loader.get(ctx, identifier, gc.resolving)
}

// Generator produces dynamic fixture data. It may request other fixtures
// through the context.
type Generator func(ctx context.Context, gc *GeneratorContext) (interface{}, error)

// Options control caching for a single load or generation.
type Options struct {
	// NoCache bypasses the cache for this call: the result is neither read
	// from nor written to it.
	NoCache bool
	// ForceRegenerate re-runs a dynamic generator even when a cached result
	// exists, replacing the cached entry.
	ForceRegenerate bool
}

// CacheStats reports cache behavior for diagnostics and tests.
type CacheStats struct {
	Entries   int `json:"entries"`
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	FileReads int `json:"fileReads"`
}

// Loader supplies static (file-backed) and dynamic (generator-backed) test
// input data with caching and inter-fixture dependency resolution. Safe for
// concurrent use.
type Loader struct {
	mu           sync.Mutex
	staticDir    string
	prefix       string
	cacheEnabled bool
	generators   map[string]Generator
	cache        map[string]*Set
	hits         int
	misses       int
	fileReads    int
}

// NewLoader creates a Loader reading static fixtures from staticDir. The
// prefix is exposed to dynamic generators so generated data can embed
// context-scoped names.
func NewLoader(staticDir, prefix string) *Loader {
	return &Loader{
		staticDir:    staticDir,
		prefix:       prefix,
		cacheEnabled: true,
		generators:   make(map[string]Generator),
		cache:        make(map[string]*Set),
	}
}

// SetCacheEnabled toggles the cache globally.
func (l *Loader) SetCacheEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cacheEnabled = enabled
}

// LoadStatic loads {staticDir}/{category}/{name}.json with default caching.
func (l *Loader) LoadStatic(ctx context.Context, category, name string) (*Set, error) {
	return l.LoadStaticOpts(ctx, category, name, Options{})
}

// LoadStaticOpts is LoadStatic with explicit cache control.
func (l *Loader) LoadStaticOpts(ctx context.Context, category, name string, opts Options) (*Set, error) {
	key := category + "/" + name

	if cached := l.cacheLookup(key, opts); cached != nil {
		return cached, nil
	}

	path := filepath.Join(l.staticDir, category, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: static fixture %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read fixture %s: %w", key, err)
	}

	l.mu.Lock()
	l.fileReads++
	l.mu.Unlock()

	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", key, err)
	}

	set := &Set{
		Meta: Meta{Name: key, Type: TypeStatic, Path: path, LoadedAt: time.Now()},
		Data: parsed,
	}
	l.cacheStore(key, set, opts)

	logging.Debug("Fixtures", "Loaded static fixture %s from %s", key, path)
	return set, nil
}

// LoadStaticCategory loads every .json file in a category directory, keyed
// by filename without extension. A missing category directory is an error.
func (l *Loader) LoadStaticCategory(ctx context.Context, category string) (map[string]*Set, error) {
	dir := filepath.Join(l.staticDir, category)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: fixture category %s", ErrNotFound, category)
		}
		return nil, fmt.Errorf("failed to list fixture category %s: %w", category, err)
	}

	sets := make(map[string]*Set)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		set, err := l.LoadStatic(ctx, category, name)
		if err != nil {
			return nil, err
		}
		sets[name] = set
	}
	return sets, nil
}

// RegisterDynamic registers a generator under a name. Registering the same
// name again replaces the previous generator.
func (l *Loader) RegisterDynamic(name string, gen Generator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generators[name] = gen
}

// GenerateDynamic invokes the registered generator with a fresh context
// (new timestamp per invocation) unless a cached result is returned.
func (l *Loader) GenerateDynamic(ctx context.Context, name string, opts Options) (*Set, error) {
	return l.generateDynamic(ctx, name, opts, make(map[string]bool))
}

func (l *Loader) generateDynamic(ctx context.Context, name string, opts Options, resolving map[string]bool) (*Set, error) {
	key := DynamicPrefix + name

	if !opts.ForceRegenerate {
		if cached := l.cacheLookup(key, opts); cached != nil {
			return cached, nil
		}
	}

	l.mu.Lock()
	gen, ok := l.generators[name]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: dynamic fixture %s", ErrNotFound, name)
	}

	if resolving[name] {
		return nil, fmt.Errorf("%w: %s requested while resolving itself", ErrCycle, name)
	}
	resolving[name] = true
	defer delete(resolving, name)

	gc := &GeneratorContext{
		Prefix:    l.prefix,
		Timestamp: time.Now(),
		loader:    l,
		resolving: resolving,
	}

	data, err := gen(ctx, gc)
	if err != nil {
		return nil, fmt.Errorf("dynamic fixture %s failed: %w", name, err)
	}

	set := &Set{
		Meta: Meta{Name: name, Type: TypeDynamic, LoadedAt: gc.Timestamp},
		Data: data,
	}
	l.cacheStore(key, set, opts)

	logging.Debug("Fixtures", "Generated dynamic fixture %s", name)
	return set, nil
}

// Get dispatches on the identifier convention: "dynamic:name" invokes the
// registered generator, "category/name" loads a static fixture. Anything
// else fails with ErrInvalidIdentifier.
func (l *Loader) Get(ctx context.Context, identifier string) (*Set, error) {
	return l.get(ctx, identifier, make(map[string]bool))
}

func (l *Loader) get(ctx context.Context, identifier string, resolving map[string]bool) (*Set, error) {
	if name, ok := strings.CutPrefix(identifier, DynamicPrefix); ok {
		return l.generateDynamic(ctx, name, Options{}, resolving)
	}

	category, name, ok := strings.Cut(identifier, "/")
	if !ok || category == "" || name == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}
	return l.LoadStatic(ctx, category, name)
}

// Preload fetches many fixtures concurrently. The first failure cancels the
// batch and is returned wrapped with the identifier that caused it; there
// is no partial-result reporting.
func (l *Loader) Preload(ctx context.Context, identifiers []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range identifiers {
		id := id
		g.Go(func() error {
			if _, err := l.Get(ctx, id); err != nil {
				return fmt.Errorf("preload %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ClearCache drops every cached fixture.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Set)
}

// ClearCacheEntry drops one cached fixture by identifier ("category/name"
// or "dynamic:name").
func (l *Loader) ClearCacheEntry(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, identifier)
}

// Stats returns cache diagnostics.
func (l *Loader) Stats() CacheStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return CacheStats{
		Entries:   len(l.cache),
		Hits:      l.hits,
		Misses:    l.misses,
		FileReads: l.fileReads,
	}
}

// ListStaticFixtures walks the static directory and returns all
// "category/name" identifiers.
func (l *Loader) ListStaticFixtures() ([]string, error) {
	categories, err := os.ReadDir(l.staticDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list fixtures dir: %w", err)
	}

	var ids []string
	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(l.staticDir, cat.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list category %s: %w", cat.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			ids = append(ids, cat.Name()+"/"+strings.TrimSuffix(f.Name(), ".json"))
		}
	}
	return ids, nil
}

// ListDynamicGenerators returns the names of all registered generators.
func (l *Loader) ListDynamicGenerators() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.generators))
	for name := range l.generators {
		names = append(names, name)
	}
	return names
}

func (l *Loader) cacheLookup(key string, opts Options) *Set {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cacheEnabled || opts.NoCache {
		return nil
	}
	if set, ok := l.cache[key]; ok {
		l.hits++
		return set
	}
	l.misses++
	return nil
}

func (l *Loader) cacheStore(key string, set *Set, opts Options) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cacheEnabled || opts.NoCache {
		return
	}
	l.cache[key] = set
}
