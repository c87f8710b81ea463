package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jackc/pgx/v5"
)

// APIToken is the API token entity from §3.
type APIToken struct {
	UUID        string
	SystemID    string
	Description string
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
}

// HashSecret stably hashes a bearer token secret's bytes, as given, so the
// digest can be used in an equality-indexed lookup (§4.4 step 2). Unlike
// the teacher's bcrypt-based API keys (internal/controlplane/auth/keys.go),
// bcrypt's per-row salted digest cannot support `WHERE secret_hash = $`, so
// a stable SHA-256 digest is used here instead; see DESIGN.md.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ResolveToken implements §4.4 step 2: atomically bump last_used_at and
// return the token's (id, system_id) iff secretHash matches an unexpired
// token. Returns ok=false with a nil error on no match (the caller renders
// api.unauthorized).
func (s *Store) ResolveToken(ctx context.Context, secretHash string, now time.Time) (id, systemID string, ok bool, err error) {
	row := s.pool.QueryRow(ctx, `UPDATE api_tokens SET last_used_at = $2
		WHERE secret_hash = $1 AND (expires_at IS NULL OR expires_at >= $2)
		RETURNING uuid, system_id`, secretHash, now)
	if err := row.Scan(&id, &systemID); err != nil {
		if err == pgx.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	return id, systemID, true, nil
}

// GetTokenByID loads a token by its uuid, or nil if unknown.
func (s *Store) GetTokenByID(ctx context.Context, q Querier, id string) (*APIToken, error) {
	row := q.QueryRow(ctx, `SELECT uuid, system_id, description, expires_at, last_used_at
		FROM api_tokens WHERE uuid = $1`, id)
	var t APIToken
	if err := row.Scan(&t.UUID, &t.SystemID, &t.Description, &t.ExpiresAt, &t.LastUsedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetTokenBySecretHash loads a token by its bearer secret's hash, without
// bumping last_used_at. Used by the "operate on an arbitrary token" API
// paths (`/api/v{0,1}/token/{secret}/...`), which inspect a token named in
// the URL rather than authenticate the caller — ResolveToken is reserved for
// that latter, consumer-authenticating path.
func (s *Store) GetTokenBySecretHash(ctx context.Context, q Querier, secretHash string) (*APIToken, error) {
	row := q.QueryRow(ctx, `SELECT uuid, system_id, description, expires_at, last_used_at
		FROM api_tokens WHERE secret_hash = $1`, secretHash)
	var t APIToken
	if err := row.Scan(&t.UUID, &t.SystemID, &t.Description, &t.ExpiresAt, &t.LastUsedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// InsertAPIToken inserts a new API token. description is unique per
// system_id per §3; unique-constraint violations are translated into
// hiveerr.KeyAPITokenDescriptionAmbiguous by the services layer.
func (s *Store) InsertAPIToken(ctx context.Context, tx pgx.Tx, t APIToken, secretHash string) error {
	_, err := tx.Exec(ctx, `INSERT INTO api_tokens (uuid, secret_hash, system_id, description, expires_at)
		VALUES ($1, $2, $3, $4, $5)`, t.UUID, secretHash, t.SystemID, t.Description, t.ExpiresAt)
	return err
}

// DeleteAPIToken deletes a token by id.
func (s *Store) DeleteAPIToken(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM api_tokens WHERE uuid = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
