package access

import (
	"fmt"
	"path"
	"strings"
)

// ActorType classifies who is asking for access.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAgent  ActorType = "agent"
	ActorSystem ActorType = "system"
)

// Actor identifies the principal a cache operation is performed for.
//
// Actors are immutable values: two actors with the same type, id, and
// session are interchangeable and usable as map keys. A SYSTEM actor
// bypasses every permission check.
type Actor struct {
	Type      ActorType
	ID        string
	SessionID string
}

// User returns a USER actor. An empty id makes the actor anonymous.
func User(id string) Actor {
	return Actor{Type: ActorUser, ID: id}
}

// Agent returns an AGENT actor. An empty id makes the actor anonymous.
func Agent(id string) Actor {
	return Actor{Type: ActorAgent, ID: id}
}

// System returns the trusted SYSTEM actor.
func System() Actor {
	return Actor{Type: ActorSystem}
}

// WithSession returns a copy of the actor bound to the given session.
func (a Actor) WithSession(sessionID string) Actor {
	a.SessionID = sessionID
	return a
}

// IsSystem reports whether the actor is the trusted SYSTEM actor.
func (a Actor) IsSystem() bool {
	return a.Type == ActorSystem
}

// String returns the canonical "type:id" form. Anonymous actors render
// their id segment as "*", e.g. "agent:*".
func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Type, a.idOrStar())
}

func (a Actor) idOrStar() string {
	if a.ID == "" {
		return "*"
	}
	return a.ID
}

// Matches reports whether the actor matches an actor-specifier pattern.
//
// The pattern must contain a colon; patterns without one never match.
// The type segment must match exactly. The id segment is a glob
// (supporting *, ?, and character classes) matched against the actor's
// id-or-"*" string, so an anonymous actor only matches patterns whose
// id glob matches the literal "*".
func (a Actor) Matches(pattern string) bool {
	typePart, idPattern, ok := strings.Cut(pattern, ":")
	if !ok {
		return false
	}
	if typePart != string(a.Type) {
		return false
	}
	matched, err := path.Match(idPattern, a.idOrStar())
	if err != nil {
		return false
	}
	return matched
}

// MatchesAny reports whether the actor matches any of the patterns.
func (a Actor) MatchesAny(patterns []string) bool {
	for _, p := range patterns {
		if a.Matches(p) {
			return true
		}
	}
	return false
}

// ParseActor parses a canonical "type:id" specifier into an Actor. The
// id may be omitted ("user") or "*" for an anonymous actor. Unknown
// types are rejected.
func ParseActor(spec string) (Actor, error) {
	typePart, id, _ := strings.Cut(spec, ":")
	if id == "*" {
		id = ""
	}
	switch ActorType(typePart) {
	case ActorUser:
		return User(id), nil
	case ActorAgent:
		return Agent(id), nil
	case ActorSystem:
		return System(), nil
	default:
		return Actor{}, fmt.Errorf("access: unknown actor type %q", typePart)
	}
}
