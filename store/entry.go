package store

import (
	"time"

	"github.com/jonwraymond/refcache/access"
)

// Well-known metadata keys.
const (
	MetaToolName      = "tool_name"
	MetaTotalItems    = "total_items"
	MetaResponseTypes = "allowed_response_types"
)

// Entry is the stored record for one cache key. Entries are immutable
// once stored; an overwrite replaces the whole entry.
type Entry struct {
	// Value is the cached payload. It must be JSON-serializable for
	// durable backends.
	Value any `json:"value"`

	// Namespace partitions the cache for isolation and implied
	// ownership.
	Namespace string `json:"namespace"`

	// Policy governs who may do what with the entry.
	Policy access.Policy `json:"policy"`

	// CreatedAt is when the entry was stored.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is the absolute expiry time. The zero value means the
	// entry never expires. Never a duration.
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	// Metadata is an open string-keyed map (tool name, item counts).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the entry has expired as of now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
