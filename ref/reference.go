package ref

import "time"

// ResponseType restricts which response shapes a consumer may request
// for a reference.
type ResponseType string

const (
	ResponseFull      ResponseType = "full"
	ResponsePreview   ResponseType = "preview"
	ResponseReference ResponseType = "reference"
)

// Reference is the externally visible handle for a cached value.
// Immutable once constructed.
type Reference struct {
	// ID is the opaque reference id, stable for a given cache name,
	// key, and value content.
	ID string `json:"ref_id"`

	// CacheName names the cache that minted the reference.
	CacheName string `json:"cache_name"`

	// Namespace the backing entry lives in. Defaults to "public".
	Namespace string `json:"namespace"`

	// ToolName is the tool that produced the value, when known.
	ToolName string `json:"tool_name,omitempty"`

	// CreatedAt is when the reference was minted.
	CreatedAt time.Time `json:"created_at"`

	// TotalItems and TotalTokens are optional size hints.
	TotalItems  int `json:"total_items,omitempty"`
	TotalTokens int `json:"total_tokens,omitempty"`

	// AllowedResponseTypes restricts the response shapes a consumer
	// may request. Empty means all shapes are allowed.
	AllowedResponseTypes []ResponseType `json:"allowed_response_types,omitempty"`
}

// Allows reports whether the reference permits the response shape.
func (r *Reference) Allows(rt ResponseType) bool {
	if len(r.AllowedResponseTypes) == 0 {
		return true
	}
	for _, allowed := range r.AllowedResponseTypes {
		if allowed == rt {
			return true
		}
	}
	return false
}

// FromMap detects a structured reference-shaped object: a string-keyed
// map carrying at least a valid ref_id and a cache_name. Returns
// (nil, false) for anything else.
func FromMap(m map[string]any) (*Reference, bool) {
	id, ok := m["ref_id"].(string)
	if !ok || !IsRefID(id) {
		return nil, false
	}
	cacheName, ok := m["cache_name"].(string)
	if !ok || cacheName == "" {
		return nil, false
	}

	r := &Reference{ID: id, CacheName: cacheName, Namespace: "public"}
	if ns, ok := m["namespace"].(string); ok && ns != "" {
		r.Namespace = ns
	}
	if tool, ok := m["tool_name"].(string); ok {
		r.ToolName = tool
	}
	return r, true
}
