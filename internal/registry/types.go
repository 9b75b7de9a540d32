package registry

import (
	"errors"
	"time"
)

// Category classifies an identity record.
type Category string

const (
	CategoryGeneric     Category = "generic"
	CategoryUser        Category = "user"
	CategorySession     Category = "session"
	CategoryQuest       Category = "quest"
	CategoryAchievement Category = "achievement"
	CategoryCustom      Category = "custom"
)

// TokenStatus is the stored lifecycle state of a token. The stored value can
// lag behind real time: an ACTIVE token past its deadline is already expired
// for every validity check, whether or not CleanupExpired has run.
type TokenStatus string

const (
	StatusActive  TokenStatus = "active"
	StatusExpired TokenStatus = "expired"
	StatusRevoked TokenStatus = "revoked"
	// StatusPending is declared for future workflow use; no operation
	// currently produces it.
	StatusPending TokenStatus = "pending"
)

// Identity is an opaque registered identifier with metadata and access
// tracking. The Value is immutable and unique for the process lifetime.
type Identity struct {
	Value        string         `json:"value"`
	Category     Category       `json:"category"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	AccessCount  int64          `json:"access_count"`
	LastAccessed time.Time      `json:"last_accessed,omitzero"`
}

// Token is a directed, typed, time-bounded edge between two identity values.
// It doubles as a capability credential and as a relationship record.
type Token struct {
	Value            string         `json:"value"`
	Source           string         `json:"source"`
	Target           string         `json:"target"`
	RelationshipType string         `json:"relationship_type"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	// ExpiresAt zero means the token never expires.
	ExpiresAt time.Time   `json:"expires_at,omitzero"`
	Status    TokenStatus `json:"status"`
	// Hash is a sha256 hex digest of Value, for display and audit output.
	// Authentication always compares the value itself, never the hash.
	Hash string `json:"hash"`
}

// Expired reports whether the token's deadline has passed at now. A token
// without a deadline never expires. This is the lazy check: it ignores the
// stored Status field entirely.
func (t Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}

// Live reports whether the token authorizes anything at now: stored status
// ACTIVE and not lazily expired.
func (t Token) Live(now time.Time) bool {
	return t.Status == StatusActive && !t.Expired(now)
}

// Stats is a point-in-time snapshot of registry counts. Active and Expired
// are computed against the clock, not the stored status fields.
type Stats struct {
	Identities    int `json:"identities"`
	Tokens        int `json:"tokens"`
	ActiveTokens  int `json:"active_tokens"`
	ExpiredTokens int `json:"expired_tokens"`
	RevokedTokens int `json:"revoked_tokens"`
}

var (
	ErrNotFound     = errors.New("registry: not found")
	ErrUnauthorized = errors.New("registry: unauthorized")
	ErrInvalidInput = errors.New("registry: invalid input")
)
