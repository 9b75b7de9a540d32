package registry

import (
	"context"
	"time"
)

// FollowTTL is the lifetime of tokens minted by AuthorizeLink.
const FollowTTL = 24 * time.Hour

// RelTypeFollow is the relationship type AuthorizeLink records.
const RelTypeFollow = "follow"

// Service is the registry contract: identifier store, token lifecycle,
// relationship index and the link-authorization engine. Lookups signal a
// missing record with ErrNotFound; AuthorizeLink signals denial with
// ErrUnauthorized and no further detail.
type Service interface {
	// Identifier store.
	CreateIdentity(ctx context.Context, category Category, metadata map[string]any) (Identity, error)
	GetIdentity(ctx context.Context, value string) (Identity, error)
	IdentitiesByCategory(ctx context.Context, category Category) ([]Identity, error)
	// IdentityMetadata increments the identity's access counter and stamps
	// last-accessed on every call, even when the key is absent. The bool
	// reports key presence.
	IdentityMetadata(ctx context.Context, value, key string) (any, bool, error)
	SetIdentityMetadata(ctx context.Context, value, key string, val any) error

	// Token store and lifecycle. ttl <= 0 means the token never expires.
	CreateToken(ctx context.Context, source, target string, ttl time.Duration, relType string, metadata map[string]any) (Token, error)
	GetToken(ctx context.Context, value string) (Token, error)
	IsValid(ctx context.Context, value string) (bool, error)
	// Revoke is terminal and idempotent; the bool reports whether the token
	// existed.
	Revoke(ctx context.Context, value string) (bool, error)
	// ExtendExpiry adds delta to an existing deadline. Tokens without a
	// deadline are left untouched.
	ExtendExpiry(ctx context.Context, value string, delta time.Duration) error
	// CleanupExpired flips ACTIVE tokens past their deadline to EXPIRED and
	// returns the number of transitions. Records are never removed.
	CleanupExpired(ctx context.Context) (int, error)

	// Relationship index. The link queries are filtered to live tokens at
	// call time; RelationshipsByType is deliberately unfiltered history
	// (empty relType returns every token).
	LinkedTargets(ctx context.Context, source string) ([]string, error)
	LinkedSources(ctx context.Context, target string) ([]string, error)
	RelationshipsByType(ctx context.Context, relType string) ([]Token, error)

	// AuthorizeLink validates the authorizer token and, if it is live, mints
	// a follow token from follower to followee recording who authorized it
	// and when. Possession of any live token is sufficient authorization.
	AuthorizeLink(ctx context.Context, follower, followee, authorizerToken string) (Token, error)

	Stats(ctx context.Context) (Stats, error)
}
