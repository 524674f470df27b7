package testctx

import (
	"context"
	"sync"

	"testkit/internal/cleanup"
	"testkit/pkg/logging"
)

// Provider is a registry of active test contexts. It replaces ambient
// global state with an injectable instance owned by the test runner's top
// level scope; anything that needs "the current context" receives the
// provider by reference. Safe for concurrent use.
type Provider struct {
	mu       sync.Mutex
	contexts map[string]*Context
	order    []string
	current  string
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{
		contexts: make(map[string]*Context),
	}
}

// Create creates a context, registers it, and makes it current.
func (p *Provider) Create(cfg Config) *Context {
	c := New(cfg)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts[c.ID()] = c
	p.order = append(p.order, c.ID())
	p.current = c.ID()
	return c
}

// Get returns the registered context with the given id, or nil.
func (p *Provider) Get(contextID string) *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contexts[contextID]
}

// Current returns the current context, or nil when none is set.
func (p *Provider) Current() *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" {
		return nil
	}
	return p.contexts[p.current]
}

// SetCurrent makes the given registered context current.
func (p *Provider) SetCurrent(contextID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.contexts[contextID]; !ok {
		return false
	}
	p.current = contextID
	return true
}

// List returns all registered contexts in registration order.
func (p *Provider) List() []*Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Context, 0, len(p.order))
	for _, id := range p.order {
		if c, ok := p.contexts[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of registered contexts.
func (p *Provider) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}

// Cleanup cleans one context and removes it from the registry. The current
// pointer is cleared if it referenced the cleaned context. Returns false
// when the context is not registered.
func (p *Provider) Cleanup(ctx context.Context, contextID string) (cleanup.Result, bool) {
	p.mu.Lock()
	c, ok := p.contexts[contextID]
	p.mu.Unlock()
	if !ok {
		return cleanup.Result{}, false
	}

	result := c.Cleanup(ctx)

	p.mu.Lock()
	p.deregisterLocked(contextID)
	p.mu.Unlock()
	return result, true
}

// CleanupAll cleans every registered context in registration order. Each
// context is handled independently: one context's failures never prevent
// the others from being cleaned. Returns per-context results keyed by
// context id, then clears the registry and the current pointer.
func (p *Provider) CleanupAll(ctx context.Context) map[string]cleanup.Result {
	p.mu.Lock()
	queue := make([]*Context, 0, len(p.order))
	for _, id := range p.order {
		if c, ok := p.contexts[id]; ok {
			queue = append(queue, c)
		}
	}
	p.mu.Unlock()

	results := make(map[string]cleanup.Result, len(queue))
	for _, c := range queue {
		results[c.ID()] = c.Cleanup(ctx)
	}

	p.mu.Lock()
	p.contexts = make(map[string]*Context)
	p.order = nil
	p.current = ""
	p.mu.Unlock()

	logging.Info("TestContext", "Bulk cleanup finished for %d contexts", len(results))
	return results
}

// Reset hard-clears the registry without running any cleanup. Intended for
// test-harness resets between suite runs, not for production teardown.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts = make(map[string]*Context)
	p.order = nil
	p.current = ""
}

func (p *Provider) deregisterLocked(contextID string) {
	delete(p.contexts, contextID)
	for i, id := range p.order {
		if id == contextID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.current == contextID {
		p.current = ""
	}
}
