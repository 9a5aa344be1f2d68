package access

import "strings"

// Well-known namespace prefixes. Anything else is a custom namespace
// with no special semantics.
const (
	NamespacePublic  = "public"
	NamespaceSession = "session"
	NamespaceUser    = "user"
	NamespaceAgent   = "agent"
	NamespaceShared  = "shared"
)

// NamespaceInfo is the parse result of a namespace string. It is
// derived on demand and never stored.
type NamespaceInfo struct {
	// Prefix is the text before the first colon, or the whole string
	// when no colon is present.
	Prefix string

	// Identifier is the remainder after the first colon. Further
	// colons stay inside the identifier, so "user:alice:extra" has
	// identifier "alice:extra".
	Identifier string

	// HasIdentifier distinguishes an empty identifier ("user:") from
	// an absent one ("public").
	HasIdentifier bool

	IsPublic        bool
	IsSessionScoped bool
	IsUserScoped    bool
	IsAgentScoped   bool

	// ImpliedOwner is "prefix:identifier" for user and agent
	// namespaces, empty otherwise. Session binding is not ownership.
	ImpliedOwner string
}

// ParseNamespace parses a namespace string into structural info.
// Prefix matching is case-sensitive and exact.
func ParseNamespace(namespace string) NamespaceInfo {
	prefix, identifier, hasID := strings.Cut(namespace, ":")
	info := NamespaceInfo{
		Prefix:        prefix,
		Identifier:    identifier,
		HasIdentifier: hasID,
	}

	switch prefix {
	case NamespacePublic:
		info.IsPublic = true
	case NamespaceSession:
		info.IsSessionScoped = true
	case NamespaceUser:
		info.IsUserScoped = true
		info.ImpliedOwner = NamespaceUser + ":" + identifier
	case NamespaceAgent:
		info.IsAgentScoped = true
		info.ImpliedOwner = NamespaceAgent + ":" + identifier
	}
	return info
}

// ValidateNamespaceAccess reports whether the actor may operate in the
// namespace. Public, shared, and custom namespaces are open to all.
// Session namespaces require a matching session id; user and agent
// namespaces require a matching actor type and id. SYSTEM actors pass
// unconditionally.
func ValidateNamespaceAccess(namespace string, actor Actor) bool {
	if actor.IsSystem() {
		return true
	}

	info := ParseNamespace(namespace)
	switch {
	case info.IsSessionScoped:
		return actor.SessionID == info.Identifier
	case info.IsUserScoped:
		return actor.Type == ActorUser && actor.ID == info.Identifier
	case info.IsAgentScoped:
		return actor.Type == ActorAgent && actor.ID == info.Identifier
	default:
		return true
	}
}

// NamespaceOwner returns the implied owner specifier for user and
// agent namespaces, or "" when the namespace implies no owner.
func NamespaceOwner(namespace string) string {
	return ParseNamespace(namespace).ImpliedOwner
}

// RequiredSession returns the session id a session-scoped namespace is
// pinned to, or "" for any other namespace.
func RequiredSession(namespace string) string {
	info := ParseNamespace(namespace)
	if !info.IsSessionScoped {
		return ""
	}
	return info.Identifier
}
