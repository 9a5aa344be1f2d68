package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory backend. A single RWMutex guards the entry
// map; per-key linearizability follows from whole-map serialization.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	clock   Clock
}

// NewMemory creates an in-memory backend.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates an in-memory backend with an injected
// clock.
func NewMemoryWithClock(clock Clock) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		entries: make(map[string]*Entry),
		clock:   clock,
	}
}

// Get retrieves an entry. Expired entries are evicted lazily.
func (m *Memory) Get(_ context.Context, key string) (*Entry, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if entry.Expired(m.clock()) {
		m.mu.Lock()
		// Re-check under the write lock; another writer may have
		// replaced the entry meanwhile.
		if current, ok := m.entries[key]; ok && current.Expired(m.clock()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return entry, true
}

// Set stores an entry with overwrite semantics.
func (m *Memory) Set(_ context.Context, key string, entry *Entry) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if entry == nil {
		return ErrNilEntry
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete removes an entry. Returns true iff something was removed.
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	return ok, nil
}

// Exists reports whether a live entry is present.
func (m *Memory) Exists(ctx context.Context, key string) bool {
	_, ok := m.Get(ctx, key)
	return ok
}

// Keys lists live keys, filtered by namespace ("" means all). Expired
// entries are excluded without a separate sweep.
func (m *Memory) Keys(_ context.Context, namespace string) ([]string, error) {
	now := m.clock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for key, entry := range m.entries {
		if entry.Expired(now) {
			continue
		}
		if namespace != "" && entry.Namespace != namespace {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear removes all entries in the namespace ("" clears everything).
func (m *Memory) Clear(_ context.Context, namespace string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if namespace == "" {
		removed := len(m.entries)
		m.entries = make(map[string]*Entry)
		return removed, nil
	}

	removed := 0
	for key, entry := range m.entries {
		if entry.Namespace == namespace {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Ensure Memory implements Backend
var _ Backend = (*Memory)(nil)
