package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Service = (*InMemory)(nil)

// InMemory implements Service with in-process concurrency safety. One mutex
// guards the identity table, the token table and both index buckets, so a
// token is never visible in the table without its index entries or the other
// way around. Records are never removed, only status-flipped.
type InMemory struct {
	mu         sync.RWMutex
	identities map[string]*Identity
	tokens     map[string]*Token
	byType     map[string][]*Token // relationship type -> tokens, unfiltered
	byTarget   map[string][]*Token // target value -> tokens, unfiltered

	now func() time.Time
	gen func() string
}

// Option configures InMemory.
type Option func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithGenerator overrides the identifier/token value generator.
func WithGenerator(fn func() string) Option {
	return func(s *InMemory) {
		if fn != nil {
			s.gen = fn
		}
	}
}

// NewInMemory creates an empty registry.
func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{
		identities: make(map[string]*Identity),
		tokens:     make(map[string]*Token),
		byType:     make(map[string][]*Token),
		byTarget:   make(map[string][]*Token),
		now:        time.Now,
		gen:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func tokenHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func copyMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIdentity(id *Identity) Identity {
	out := *id
	out.Metadata = copyMeta(id.Metadata)
	return out
}

func copyToken(t *Token) Token {
	out := *t
	out.Metadata = copyMeta(t.Metadata)
	return out
}

func (s *InMemory) CreateIdentity(ctx context.Context, category Category, metadata map[string]any) (Identity, error) {
	if category == "" {
		category = CategoryGeneric
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := &Identity{
		Value:     s.gen(),
		Category:  category,
		Metadata:  copyMeta(metadata),
		CreatedAt: s.now().UTC(),
	}
	s.identities[id.Value] = id
	return copyIdentity(id), nil
}

func (s *InMemory) GetIdentity(ctx context.Context, value string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[value]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return copyIdentity(id), nil
}

func (s *InMemory) IdentitiesByCategory(ctx context.Context, category Category) ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Identity
	for _, id := range s.identities {
		if id.Category == category {
			res = append(res, copyIdentity(id))
		}
	}
	return res, nil
}

func (s *InMemory) IdentityMetadata(ctx context.Context, value, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[value]
	if !ok {
		return nil, false, ErrNotFound
	}
	// Access tracking fires on every read, hit or miss.
	id.AccessCount++
	id.LastAccessed = s.now().UTC()
	v, ok := id.Metadata[key]
	return v, ok, nil
}

func (s *InMemory) SetIdentityMetadata(ctx context.Context, value, key string, val any) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[value]
	if !ok {
		return ErrNotFound
	}
	id.Metadata[key] = val
	return nil
}

func (s *InMemory) CreateToken(ctx context.Context, source, target string, ttl time.Duration, relType string, metadata map[string]any) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTokenLocked(source, target, ttl, relType, metadata)
}

// createTokenLocked registers a token in the table and both index buckets
// under the already-held write lock.
func (s *InMemory) createTokenLocked(source, target string, ttl time.Duration, relType string, metadata map[string]any) (Token, error) {
	now := s.now().UTC()
	t := &Token{
		Value:            s.gen(),
		Source:           source,
		Target:           target,
		RelationshipType: relType,
		Metadata:         copyMeta(metadata),
		CreatedAt:        now,
		Status:           StatusActive,
	}
	if ttl > 0 {
		t.ExpiresAt = now.Add(ttl)
	}
	t.Hash = tokenHash(t.Value)

	s.tokens[t.Value] = t
	s.byType[relType] = append(s.byType[relType], t)
	s.byTarget[target] = append(s.byTarget[target], t)
	return copyToken(t), nil
}

func (s *InMemory) GetToken(ctx context.Context, value string) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	return copyToken(t), nil
}

func (s *InMemory) IsValid(ctx context.Context, value string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[value]
	if !ok {
		return false, nil
	}
	return t.Live(s.now().UTC()), nil
}

func (s *InMemory) Revoke(ctx context.Context, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok {
		return false, nil
	}
	t.Status = StatusRevoked
	return true, nil
}

func (s *InMemory) ExtendExpiry(ctx context.Context, value string, delta time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok {
		return ErrNotFound
	}
	// Never-expiring tokens cannot gain a deadline.
	if t.ExpiresAt.IsZero() {
		return nil
	}
	t.ExpiresAt = t.ExpiresAt.Add(delta)
	return nil
}

func (s *InMemory) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	count := 0
	for _, t := range s.tokens {
		if t.Status == StatusActive && t.Expired(now) {
			t.Status = StatusExpired
			count++
		}
	}
	return count, nil
}

func (s *InMemory) LinkedTargets(ctx context.Context, source string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now().UTC()
	var res []string
	for _, t := range s.tokens {
		if t.Source == source && t.Live(now) {
			res = append(res, t.Target)
		}
	}
	return res, nil
}

func (s *InMemory) LinkedSources(ctx context.Context, target string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now().UTC()
	var res []string
	for _, t := range s.byTarget[target] {
		if t.Live(now) {
			res = append(res, t.Source)
		}
	}
	return res, nil
}

func (s *InMemory) RelationshipsByType(ctx context.Context, relType string) ([]Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Token
	if relType == "" {
		for _, t := range s.tokens {
			res = append(res, copyToken(t))
		}
		return res, nil
	}
	// History view: expired and revoked tokens stay visible here.
	for _, t := range s.byType[relType] {
		res = append(res, copyToken(t))
	}
	return res, nil
}

func (s *InMemory) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now().UTC()
	st := Stats{
		Identities: len(s.identities),
		Tokens:     len(s.tokens),
	}
	for _, t := range s.tokens {
		if t.Live(now) {
			st.ActiveTokens++
		}
		if t.Expired(now) {
			st.ExpiredTokens++
		}
		if t.Status == StatusRevoked {
			st.RevokedTokens++
		}
	}
	return st, nil
}
