package refcache

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonwraymond/refcache/access"
)

// RequestContext carries per-request identity through a tool call.
// Namespace and owner templates expand against it.
type RequestContext struct {
	// Actor is the caller. Zero means an anonymous user.
	Actor access.Actor

	// SessionID identifies the conversation or connection.
	SessionID string

	// ClientID identifies the calling client application.
	ClientID string

	// RequestID identifies the individual request.
	RequestID string

	// GetState exposes arbitrary request-scoped state to template
	// expansion. May be nil.
	GetState func(key string) (any, bool)
}

type requestContextKey struct{}

// WithRequestContext attaches request identity to a context.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom extracts request identity from a context.
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}

// actorFrom derives the effective actor for a call. Without an
// explicit actor, calls run as an anonymous user bound to the
// request's session.
func actorFrom(ctx context.Context) access.Actor {
	rc, _ := RequestContextFrom(ctx)
	if rc.Actor.Type != "" {
		if rc.Actor.SessionID == "" && rc.SessionID != "" {
			return rc.Actor.WithSession(rc.SessionID)
		}
		return rc.Actor
	}
	return access.User("anonymous").WithSession(rc.SessionID)
}

// Template fallbacks for placeholders with no request state.
const (
	fallbackUser    = "anonymous"
	fallbackSession = "default"
	fallbackUnknown = "unknown"
)

// expandTemplate substitutes {placeholder} segments from the request
// context. Request state wins, then the well-known identity fields,
// then a per-placeholder fallback so templates always expand to a
// usable namespace.
func expandTemplate(tmpl string, rc RequestContext) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	var b strings.Builder
	rest := tmpl
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:open])
		name := rest[open+1 : open+closing]
		b.WriteString(expandPlaceholder(name, rc))
		rest = rest[open+closing+1:]
	}
}

func expandPlaceholder(name string, rc RequestContext) string {
	if rc.GetState != nil {
		if v, ok := rc.GetState(name); ok && v != nil {
			return fmt.Sprint(v)
		}
	}

	switch name {
	case "user_id":
		if rc.Actor.Type == access.ActorUser && rc.Actor.ID != "" {
			return rc.Actor.ID
		}
		return fallbackUser
	case "agent_id":
		if rc.Actor.Type == access.ActorAgent && rc.Actor.ID != "" {
			return rc.Actor.ID
		}
		return fallbackUnknown
	case "session_id":
		if rc.SessionID != "" {
			return rc.SessionID
		}
		return fallbackSession
	case "client_id":
		if rc.ClientID != "" {
			return rc.ClientID
		}
		return fallbackUnknown
	case "request_id":
		if rc.RequestID != "" {
			return rc.RequestID
		}
		return fallbackUnknown
	default:
		return fallbackUnknown
	}
}
