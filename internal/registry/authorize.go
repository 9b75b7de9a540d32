package registry

import "context"

// Metadata keys recorded on tokens minted by AuthorizeLink.
const (
	MetaAuthorizedBy = "authorized_by"
	MetaAuthorizedAt = "authorized_at"
)

// AuthorizeLink gates link creation on possession of a live token. The
// authorizer token's metadata is never inspected: the token itself is the
// capability. Denial is the bare ErrUnauthorized so callers cannot tell a
// missing token from an expired or revoked one.
func (s *InMemory) AuthorizeLink(ctx context.Context, follower, followee, authorizerToken string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.tokens[authorizerToken]
	if !ok {
		return Token{}, ErrUnauthorized
	}
	now := s.now().UTC()
	if !auth.Live(now) {
		return Token{}, ErrUnauthorized
	}

	// Provenance names the authorizer's source identity, not the token value.
	return s.createTokenLocked(follower, followee, FollowTTL, RelTypeFollow, map[string]any{
		MetaAuthorizedBy: auth.Source,
		MetaAuthorizedAt: now,
	})
}
