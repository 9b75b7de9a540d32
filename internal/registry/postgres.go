package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

var _ Service = (*PGStore)(nil)

// PGStore implements Service using PostgreSQL. It keeps the same contract as
// InMemory, including lazy expiry: the stored status column can lag behind
// real time and every validity check recomputes against the clock.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
	gen func() string
}

func NewPGStore(db *sql.DB, opts ...PGOption) *PGStore {
	s := &PGStore{db: db, now: time.Now, gen: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PGOption configures PGStore.
type PGOption func(*PGStore)

// WithPGClock overrides the time source (useful for tests).
func WithPGClock(fn func() time.Time) PGOption {
	return func(s *PGStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithPGGenerator overrides the identifier/token value generator.
func WithPGGenerator(fn func() string) PGOption {
	return func(s *PGStore) {
		if fn != nil {
			s.gen = fn
		}
	}
}

const tokenColumns = `value, source_id, target_id, relationship_type, metadata, created_at, expires_at, status, hash`

func (s *PGStore) CreateIdentity(ctx context.Context, category Category, metadata map[string]any) (Identity, error) {
	if category == "" {
		category = CategoryGeneric
	}
	id := Identity{
		Value:     s.gen(),
		Category:  category,
		Metadata:  copyMeta(metadata),
		CreatedAt: s.now().UTC(),
	}
	meta, _ := json.Marshal(id.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into identities(value, category, metadata, created_at, access_count) values($1,$2,$3,$4,0)`,
		id.Value, string(id.Category), meta, id.CreatedAt,
	)
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (s *PGStore) GetIdentity(ctx context.Context, value string) (Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select value, category, metadata, created_at, access_count, last_accessed from identities where value=$1`, value)
	return scanIdentity(row)
}

func (s *PGStore) IdentitiesByCategory(ctx context.Context, category Category) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`select value, category, metadata, created_at, access_count, last_accessed from identities where category=$1`,
		string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (s *PGStore) IdentityMetadata(ctx context.Context, value, key string) (any, bool, error) {
	// Access tracking and the read happen in one statement.
	row := s.db.QueryRowContext(ctx,
		`update identities set access_count = access_count + 1, last_accessed = $2 where value=$1 returning metadata`,
		value, s.now().UTC())
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	var meta map[string]any
	_ = json.Unmarshal(raw, &meta)
	v, ok := meta[key]
	return v, ok, nil
}

func (s *PGStore) SetIdentityMetadata(ctx context.Context, value, key string, val any) error {
	if key == "" {
		return ErrInvalidInput
	}
	encoded, err := json.Marshal(val)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`update identities set metadata = jsonb_set(coalesce(metadata, '{}'::jsonb), array[$2], $3::jsonb, true) where value=$1`,
		value, key, encoded)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CreateToken(ctx context.Context, source, target string, ttl time.Duration, relType string, metadata map[string]any) (Token, error) {
	t := s.buildToken(source, target, ttl, relType, metadata)
	if err := insertToken(ctx, s.db, t); err != nil {
		return Token{}, err
	}
	return t, nil
}

func (s *PGStore) buildToken(source, target string, ttl time.Duration, relType string, metadata map[string]any) Token {
	now := s.now().UTC()
	t := Token{
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
	return t
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, t Token) error {
	meta, _ := json.Marshal(t.Metadata)
	var expires any
	if !t.ExpiresAt.IsZero() {
		expires = t.ExpiresAt
	}
	_, err := db.ExecContext(ctx,
		`insert into tokens(`+tokenColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.Value, t.Source, t.Target, t.RelationshipType, meta, t.CreatedAt, expires, string(t.Status), t.Hash,
	)
	return err
}

func (s *PGStore) GetToken(ctx context.Context, value string) (Token, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from tokens where value=$1`, value)
	return scanToken(row)
}

func (s *PGStore) IsValid(ctx context.Context, value string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`select status, expires_at from tokens where value=$1`, value)
	var (
		status  string
		expires sql.NullTime
	)
	if err := row.Scan(&status, &expires); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	t := Token{Status: TokenStatus(status)}
	if expires.Valid {
		t.ExpiresAt = expires.Time
	}
	return t.Live(s.now().UTC()), nil
}

func (s *PGStore) Revoke(ctx context.Context, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update tokens set status=$2 where value=$1`, value, string(StatusRevoked))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PGStore) ExtendExpiry(ctx context.Context, value string, delta time.Duration) error {
	// Deadline-less tokens are skipped by the predicate; distinguish that
	// from a missing token afterwards.
	res, err := s.db.ExecContext(ctx,
		`update tokens set expires_at = expires_at + $2::interval where value=$1 and expires_at is not null`,
		value, delta.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from tokens where value=$1)`, value).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CleanupExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update tokens set status=$2 where status=$3 and expires_at is not null and expires_at < $1`,
		s.now().UTC(), string(StatusExpired), string(StatusActive))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *PGStore) LinkedTargets(ctx context.Context, source string) ([]string, error) {
	return s.linkedValues(ctx,
		`select target_id from tokens where source_id=$1 and status=$2 and (expires_at is null or expires_at >= $3)`,
		source)
}

func (s *PGStore) LinkedSources(ctx context.Context, target string) ([]string, error) {
	return s.linkedValues(ctx,
		`select source_id from tokens where target_id=$1 and status=$2 and (expires_at is null or expires_at >= $3)`,
		target)
}

func (s *PGStore) linkedValues(ctx context.Context, query, anchor string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, anchor, string(StatusActive), s.now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (s *PGStore) RelationshipsByType(ctx context.Context, relType string) ([]Token, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if relType == "" {
		rows, err = s.db.QueryContext(ctx, `select `+tokenColumns+` from tokens`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`select `+tokenColumns+` from tokens where relationship_type=$1`, relType)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *PGStore) AuthorizeLink(ctx context.Context, follower, followee, authorizerToken string) (Token, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Token{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`select source_id, status, expires_at from tokens where value=$1`, authorizerToken)
	var (
		authSource string
		status     string
		expires    sql.NullTime
	)
	if err := row.Scan(&authSource, &status, &expires); err != nil {
		if err == sql.ErrNoRows {
			return Token{}, ErrUnauthorized
		}
		return Token{}, err
	}
	now := s.now().UTC()
	auth := Token{Status: TokenStatus(status)}
	if expires.Valid {
		auth.ExpiresAt = expires.Time
	}
	if !auth.Live(now) {
		return Token{}, ErrUnauthorized
	}

	follow := s.buildToken(follower, followee, FollowTTL, RelTypeFollow, map[string]any{
		MetaAuthorizedBy: authSource,
		MetaAuthorizedAt: now,
	})
	if err := insertToken(ctx, tx, follow); err != nil {
		return Token{}, err
	}
	if err := tx.Commit(); err != nil {
		return Token{}, err
	}
	return follow, nil
}

func (s *PGStore) Stats(ctx context.Context) (Stats, error) {
	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx, `
		select
			(select count(*) from identities),
			count(*),
			count(*) filter (where status=$1 and (expires_at is null or expires_at >= $2)),
			count(*) filter (where expires_at is not null and expires_at < $2),
			count(*) filter (where status=$3)
		from tokens`,
		string(StatusActive), now, string(StatusRevoked))
	var st Stats
	if err := row.Scan(&st.Identities, &st.Tokens, &st.ActiveTokens, &st.ExpiredTokens, &st.RevokedTokens); err != nil {
		return Stats{}, err
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (Identity, error) {
	var (
		id       Identity
		category string
		meta     []byte
		last     sql.NullTime
	)
	if err := row.Scan(&id.Value, &category, &meta, &id.CreatedAt, &id.AccessCount, &last); err != nil {
		if err == sql.ErrNoRows {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}
	id.Category = Category(category)
	_ = json.Unmarshal(meta, &id.Metadata)
	if last.Valid {
		id.LastAccessed = last.Time
	}
	return id, nil
}

func scanToken(row rowScanner) (Token, error) {
	var (
		t       Token
		meta    []byte
		expires sql.NullTime
		status  string
	)
	if err := row.Scan(&t.Value, &t.Source, &t.Target, &t.RelationshipType, &meta, &t.CreatedAt, &expires, &status, &t.Hash); err != nil {
		if err == sql.ErrNoRows {
			return Token{}, ErrNotFound
		}
		return Token{}, err
	}
	_ = json.Unmarshal(meta, &t.Metadata)
	if expires.Valid {
		t.ExpiresAt = expires.Time
	}
	t.Status = TokenStatus(status)
	return t, nil
}
