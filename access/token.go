package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Token derivation errors.
var (
	ErrTokenMalformed = errors.New("access: token malformed")
	ErrTokenExpired   = errors.New("access: token expired")
)

// TokenConfig configures actor derivation from bearer tokens.
type TokenConfig struct {
	// Issuer is the expected token issuer (iss claim). Empty skips
	// the check.
	Issuer string

	// PrincipalClaim is the claim carrying the actor id.
	// Default: "sub"
	PrincipalClaim string

	// TypeClaim is the claim carrying the actor type.
	// Default: "actor_type"
	TypeClaim string

	// SessionClaim is the claim carrying the session id.
	// Default: "session_id"
	SessionClaim string
}

// KeyProvider retrieves signing keys for token validation.
type KeyProvider interface {
	// Key returns the verification key for the given key ID.
	Key(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider provides a single static signing key.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider creates a static key provider.
func NewStaticKeyProvider(key []byte) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// Key returns the static key.
func (p *StaticKeyProvider) Key(_ context.Context, _ string) (any, error) {
	return p.key, nil
}

// TokenActorSource derives Actors from JWT bearer tokens supplied by
// the host framework. Tokens may only mint USER and AGENT actors; the
// trusted SYSTEM actor is never derived from external input.
type TokenActorSource struct {
	config TokenConfig
	keys   KeyProvider
}

// NewTokenActorSource creates a token actor source.
func NewTokenActorSource(config TokenConfig, keys KeyProvider) *TokenActorSource {
	if config.PrincipalClaim == "" {
		config.PrincipalClaim = "sub"
	}
	if config.TypeClaim == "" {
		config.TypeClaim = "actor_type"
	}
	if config.SessionClaim == "" {
		config.SessionClaim = "session_id"
	}
	return &TokenActorSource{config: config, keys: keys}
}

// ActorFromToken validates the token and derives an Actor from its
// claims. A missing or unknown type claim yields a USER actor; a
// missing principal yields an anonymous one.
func (s *TokenActorSource) ActorFromToken(ctx context.Context, tokenString string) (Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return s.keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, ErrTokenExpired
		}
		return Actor{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !token.Valid {
		return Actor{}, ErrTokenMalformed
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Actor{}, ErrTokenMalformed
	}

	if s.config.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != s.config.Issuer {
			return Actor{}, fmt.Errorf("%w: unexpected issuer", ErrTokenMalformed)
		}
	}

	id, _ := claims[s.config.PrincipalClaim].(string)
	session, _ := claims[s.config.SessionClaim].(string)

	actor := User(id)
	if typ, _ := claims[s.config.TypeClaim].(string); ActorType(typ) == ActorAgent {
		actor = Agent(id)
	}
	if session != "" {
		actor = actor.WithSession(session)
	}
	return actor, nil
}
