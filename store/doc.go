// Package store provides the key-entry storage layer for cached
// values.
//
// It defines the Entry record, the Backend contract with TTL-aware
// read-time eviction and namespace-scoped enumeration, an in-memory
// implementation, and a durable SQLite implementation safe across
// processes sharing the same database file.
package store
