package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for store operations.
var (
	// ErrNotFound reports an absent or expired entry. Expired entries
	// are indistinguishable from never-stored ones.
	ErrNotFound = errors.New("store: entry not found")

	ErrInvalidKey = errors.New("store: key is invalid")
	ErrKeyTooLong = errors.New("store: key exceeds max length")
	ErrNilEntry   = errors.New("store: entry is nil")
	ErrClosed     = errors.New("store: backend is closed")
)

// Clock supplies the current time. Injectable for deterministic
// expiry tests.
type Clock func() time.Time

// Backend is the key-entry storage contract consumed by the cache
// layers above.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use;
//   writes to the same key must be linearizable (readers never see a
//   partially written entry).
// - Expiry: Get, Exists, and Keys treat expired entries as absent.
//   Eviction happens lazily at read time; no background sweep is
//   required.
// - Namespaces: Keys and Clear take a namespace filter; the empty
//   string means all namespaces.
type Backend interface {
	// Get retrieves an entry. Returns (nil, false) on miss or expiry,
	// evicting the expired entry.
	Get(ctx context.Context, key string) (*Entry, bool)

	// Set stores an entry, overwriting any previous entry at the key.
	Set(ctx context.Context, key string, entry *Entry) error

	// Delete removes an entry. Returns true iff something was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether a live (non-expired) entry is present.
	Exists(ctx context.Context, key string) bool

	// Keys lists live keys, optionally filtered by namespace.
	Keys(ctx context.Context, namespace string) ([]string, error)

	// Clear removes all entries in the namespace ("" clears
	// everything) and returns the number removed.
	Clear(ctx context.Context, namespace string) (int, error)
}

// ValidateKey checks whether a key is storable.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
