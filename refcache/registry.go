package refcache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jonwraymond/refcache/resolve"
	"github.com/jonwraymond/refcache/store"
)

// Registry holds named caches and resolves references across all of
// them. The cache-name segment of a reference id routes the lookup.
type Registry struct {
	mu       sync.RWMutex
	caches   map[string]*RefCache
	resolver *resolve.Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{caches: make(map[string]*RefCache)}
	r.resolver = resolve.New(r)
	return r
}

// Register adds a cache. Names are unique.
func (r *Registry) Register(c *RefCache) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caches[c.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name())
	}
	r.caches[c.Name()] = c
	return nil
}

// Get returns the cache registered under a name.
func (r *Registry) Get(name string) (*RefCache, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[name]
	return c, ok
}

// Remove drops a cache from the registry. Its entries are untouched.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.caches[name]; !ok {
		return false
	}
	delete(r.caches, name)
	return true
}

// Names lists registered cache names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry routes a reference id to its cache by name segment. It
// implements the resolver's lookup contract.
func (r *Registry) Entry(ctx context.Context, refID string) (*store.Entry, bool) {
	name, _, ok := strings.Cut(refID, ":")
	if !ok {
		return nil, false
	}
	cache, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return cache.Entry(ctx, refID)
}

// Resolve substitutes references from any registered cache nested in
// value.
func (r *Registry) Resolve(ctx context.Context, value any, opts resolve.Options) (*resolve.Result, error) {
	return r.resolver.Resolve(ctx, value, actorFrom(ctx), opts)
}
