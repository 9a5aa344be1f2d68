// Package access provides the permission model for cached values.
//
// It defines bit-flag permissions with CRUD/FULL unions, actor
// identities with glob pattern matching, namespace parsing with implied
// ownership, per-entry access policies, and a checker that resolves an
// access decision in a fixed rule order.
package access
