package registry

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestCreateAndGetIdentity(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	id, err := s.CreateIdentity(ctx, CategoryUser, map[string]any{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if id.Value == "" {
		t.Fatal("empty identity value")
	}
	got, err := s.GetIdentity(ctx, id.Value)
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != id.Value || got.Category != CategoryUser {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if _, err := s.GetIdentity(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIdentityValueUniqueness(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := s.CreateIdentity(ctx, CategoryGeneric, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[id.Value]; dup {
			t.Fatalf("duplicate identity value after %d creations: %s", i, id.Value)
		}
		seen[id.Value] = struct{}{}
	}
}

func TestIdentitiesByCategory(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.CreateIdentity(ctx, CategoryQuest, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.CreateIdentity(ctx, CategoryUser, nil); err != nil {
		t.Fatal(err)
	}
	quests, err := s.IdentitiesByCategory(ctx, CategoryQuest)
	if err != nil {
		t.Fatal(err)
	}
	if len(quests) != 3 {
		t.Fatalf("expected 3 quest identities, got %d", len(quests))
	}
}

func TestMetadataAccessTracking(t *testing.T) {
	clk := newFakeClock()
	s := NewInMemory(WithClock(clk.Now))
	ctx := context.Background()

	id, _ := s.CreateIdentity(ctx, CategoryUser, map[string]any{"role": "admin"})

	v, ok, err := s.IdentityMetadata(ctx, id.Value, "role")
	if err != nil || !ok || v != "admin" {
		t.Fatalf("metadata read: v=%v ok=%v err=%v", v, ok, err)
	}
	// Misses still count as accesses.
	if _, ok, err := s.IdentityMetadata(ctx, id.Value, "absent"); err != nil || ok {
		t.Fatalf("expected miss without error, got ok=%v err=%v", ok, err)
	}

	got, _ := s.GetIdentity(ctx, id.Value)
	if got.AccessCount != 2 {
		t.Fatalf("expected access count 2, got %d", got.AccessCount)
	}
	if !got.LastAccessed.Equal(clk.Now().UTC()) {
		t.Fatalf("last accessed not stamped: %v", got.LastAccessed)
	}

	// Writes do not touch the counter.
	if err := s.SetIdentityMetadata(ctx, id.Value, "role", "viewer"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetIdentity(ctx, id.Value)
	if got.AccessCount != 2 {
		t.Fatalf("set must not count as access, got %d", got.AccessCount)
	}
	if got.Metadata["role"] != "viewer" {
		t.Fatalf("set did not overwrite: %v", got.Metadata["role"])
	}
}

func TestTokenExpiry(t *testing.T) {
	clk := newFakeClock()
	s := NewInMemory(WithClock(clk.Now))
	ctx := context.Background()

	forever, _ := s.CreateToken(ctx, "a", "b", 0, "link", nil)
	timed, _ := s.CreateToken(ctx, "a", "b", time.Hour, "link", nil)

	clk.Advance(100 * 365 * 24 * time.Hour)
	if forever.Expired(clk.Now()) {
		t.Fatal("ttl<=0 token must never expire")
	}
	if ok, _ := s.IsValid(ctx, forever.Value); !ok {
		t.Fatal("never-expiring token should stay valid")
	}
	if ok, _ := s.IsValid(ctx, timed.Value); ok {
		t.Fatal("timed token should be invalid past its deadline")
	}

	// Stored status still says ACTIVE until cleanup runs; validity must not
	// trust it.
	got, _ := s.GetToken(ctx, timed.Value)
	if got.Status != StatusActive {
		t.Fatalf("expected stored status active, got %s", got.Status)
	}
}

func TestTokenHash(t *testing.T) {
	s := NewInMemory()
	tok, _ := s.CreateToken(context.Background(), "a", "b", 0, "link", nil)
	if tok.Hash != tokenHash(tok.Value) {
		t.Fatalf("hash mismatch: %s", tok.Hash)
	}
	if len(tok.Hash) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", tok.Hash)
	}
}

func TestRevokeIsTerminalAndIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	tok, _ := s.CreateToken(ctx, "a", "b", time.Hour, "link", nil)

	found, err := s.Revoke(ctx, tok.Value)
	if err != nil || !found {
		t.Fatalf("revoke: found=%v err=%v", found, err)
	}
	if ok, _ := s.IsValid(ctx, tok.Value); ok {
		t.Fatal("revoked token must be invalid")
	}
	// Second revoke still reports the token exists and changes nothing.
	found, err = s.Revoke(ctx, tok.Value)
	if err != nil || !found {
		t.Fatalf("second revoke: found=%v err=%v", found, err)
	}
	got, _ := s.GetToken(ctx, tok.Value)
	if got.Status != StatusRevoked {
		t.Fatalf("expected revoked, got %s", got.Status)
	}

	if found, _ := s.Revoke(ctx, "missing"); found {
		t.Fatal("revoking a missing token must report false")
	}
}

func TestExtendExpiry(t *testing.T) {
	clk := newFakeClock()
	s := NewInMemory(WithClock(clk.Now))
	ctx := context.Background()

	forever, _ := s.CreateToken(ctx, "a", "b", 0, "link", nil)
	if err := s.ExtendExpiry(ctx, forever.Value, time.Hour); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetToken(ctx, forever.Value)
	if !got.ExpiresAt.IsZero() {
		t.Fatal("extend must be a no-op on never-expiring tokens")
	}

	timed, _ := s.CreateToken(ctx, "a", "b", time.Hour, "link", nil)
	if err := s.ExtendExpiry(ctx, timed.Value, 30*time.Minute); err != nil {
		t.Fatal(err)
	}
	clk.Advance(80 * time.Minute)
	if ok, _ := s.IsValid(ctx, timed.Value); !ok {
		t.Fatal("token should still be valid inside the extended window")
	}
	clk.Advance(11 * time.Minute)
	if ok, _ := s.IsValid(ctx, timed.Value); ok {
		t.Fatal("token should expire exactly past the extended deadline")
	}

	if err := s.ExtendExpiry(ctx, "missing", time.Hour); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLinkViewsFilteredVsUnfiltered(t *testing.T) {
	clk := newFakeClock()
	s := NewInMemory(WithClock(clk.Now))
	ctx := context.Background()

	tok, _ := s.CreateToken(ctx, "A", "B", time.Hour, "follow", nil)

	targets, _ := s.LinkedTargets(ctx, "A")
	sources, _ := s.LinkedSources(ctx, "B")
	if len(targets) != 1 || targets[0] != "B" {
		t.Fatalf("expected targets [B], got %v", targets)
	}
	if len(sources) != 1 || sources[0] != "A" {
		t.Fatalf("expected sources [A], got %v", sources)
	}

	if _, err := s.Revoke(ctx, tok.Value); err != nil {
		t.Fatal(err)
	}
	targets, _ = s.LinkedTargets(ctx, "A")
	sources, _ = s.LinkedSources(ctx, "B")
	if len(targets) != 0 || len(sources) != 0 {
		t.Fatalf("revoked token must leave the live views: %v %v", targets, sources)
	}

	// The history view keeps it.
	follows, _ := s.RelationshipsByType(ctx, "follow")
	if len(follows) != 1 || follows[0].Value != tok.Value {
		t.Fatalf("history view lost the token: %v", follows)
	}

	// Expiry excludes from live views the same way.
	s.CreateToken(ctx, "A", "C", time.Minute, "follow", nil)
	clk.Advance(2 * time.Minute)
	targets, _ = s.LinkedTargets(ctx, "A")
	if len(targets) != 0 {
		t.Fatalf("expired token must leave the live views: %v", targets)
	}
	follows, _ = s.RelationshipsByType(ctx, "follow")
	if len(follows) != 2 {
		t.Fatalf("history view must keep expired tokens: %d", len(follows))
	}
}

func TestRelationshipsByTypeEmptyReturnsAll(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	s.CreateToken(ctx, "a", "b", 0, "follow", nil)
	s.CreateToken(ctx, "a", "b", 0, "authorization", nil)

	all, _ := s.RelationshipsByType(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(all))
	}
	none, _ := s.RelationshipsByType(ctx, "unknown")
	if len(none) != 0 {
		t.Fatalf("expected empty bucket, got %d", len(none))
	}
}

func TestCleanupExpiredIsIdempotent(t *testing.T) {
	clk := newFakeClock()
	s := NewInMemory(WithClock(clk.Now))
	ctx := context.Background()

	s.CreateToken(ctx, "a", "b", time.Minute, "link", nil)
	s.CreateToken(ctx, "a", "c", time.Minute, "link", nil)
	s.CreateToken(ctx, "a", "d", 0, "link", nil)

	clk.Advance(2 * time.Minute)
	n, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 transitions, got %d", n)
	}
	n, _ = s.CleanupExpired(ctx)
	if n != 0 {
		t.Fatalf("second cleanup must report 0, got %d", n)
	}

	// Cleanup flips status but removes nothing.
	st, _ := s.Stats(ctx)
	if st.Tokens != 3 {
		t.Fatalf("cleanup must not delete tokens: %d", st.Tokens)
	}
}

func TestStatsSnapshot(t *testing.T) {
	clk := newFakeClock()
	s := NewInMemory(WithClock(clk.Now))
	ctx := context.Background()

	s.CreateIdentity(ctx, CategoryUser, nil)
	s.CreateIdentity(ctx, CategoryUser, nil)
	s.CreateToken(ctx, "a", "b", 0, "link", nil)
	s.CreateToken(ctx, "a", "c", time.Minute, "link", nil)
	revoked, _ := s.CreateToken(ctx, "a", "d", 0, "link", nil)
	s.Revoke(ctx, revoked.Value)

	clk.Advance(2 * time.Minute)
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Identities: 2, Tokens: 3, ActiveTokens: 1, ExpiredTokens: 1, RevokedTokens: 1}
	if st != want {
		t.Fatalf("stats mismatch: got %+v want %+v", st, want)
	}
}

func TestConcurrentTokenCreationKeepsIndexConsistent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	const n = 100
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateToken(ctx, "src", "dst", time.Hour, "follow", nil); err != nil {
				t.Error(err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Readers must never see a token in one structure but not the
			// other; counts are compared after the dust settles below.
			_, _ = s.LinkedSources(ctx, "dst")
			_, _ = s.RelationshipsByType(ctx, "follow")
		}()
	}
	wg.Wait()

	all, _ := s.RelationshipsByType(ctx, "")
	bucket, _ := s.RelationshipsByType(ctx, "follow")
	sources, _ := s.LinkedSources(ctx, "dst")
	if len(all) != n || len(bucket) != n || len(sources) != n {
		t.Fatalf("index diverged: table=%d bucket=%d reverse=%d", len(all), len(bucket), len(sources))
	}
}

func TestDefaultSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default must return one shared instance")
	}
}
