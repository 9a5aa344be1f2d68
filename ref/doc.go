// Package ref defines the externally visible cache reference: an
// opaque handle standing in for a cached value, safe to pass between
// tool calls without exposing the value itself.
//
// It provides the reference id grammar (with its injection-safety
// guarantees), deterministic id minting from canonical JSON, and
// detection of reference-shaped values.
package ref
