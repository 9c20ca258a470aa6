package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"apiforge/internal/auth"
)

// KeySchema creates the table used by KeyStore
const KeySchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id         TEXT        PRIMARY KEY,
    hash       TEXT        NOT NULL,
    subject    TEXT        NOT NULL,
    role       TEXT        NOT NULL DEFAULT 'user',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    revoked_at TIMESTAMPTZ
);
`

// keyRow is a row of api_keys
type keyRow struct {
	ID        string       `db:"id"`
	Hash      string       `db:"hash"`
	Subject   string       `db:"subject"`
	Role      string       `db:"role"`
	CreatedAt time.Time    `db:"created_at"`
	RevokedAt sql.NullTime `db:"revoked_at"`
}

// KeyStore keeps API keys in postgres. Revoked keys are never returned.
type KeyStore struct {
	db *sqlx.DB
}

// NewKeyStore creates a store over db
func NewKeyStore(db *sqlx.DB) *KeyStore {
	return &KeyStore{db: db}
}

// Save inserts k, replacing the hash, subject and role of an existing id.
// A revoked id stays revoked.
func (s *KeyStore) Save(ctx context.Context, k auth.Key) error {
	query := `
        INSERT INTO api_keys (id, hash, subject, role)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE
        SET hash = EXCLUDED.hash, subject = EXCLUDED.subject, role = EXCLUDED.role`

	_, err := s.db.ExecContext(ctx, query, k.ID, k.Hash, k.Subject, k.Role)
	return translate(err)
}

// Lookup returns the active key with id
func (s *KeyStore) Lookup(ctx context.Context, id string) (auth.Key, bool, error) {
	query := `SELECT id, hash, subject, role, created_at, revoked_at FROM api_keys WHERE id = $1 AND revoked_at IS NULL`

	var row keyRow
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Key{}, false, nil
	}
	if err != nil {
		return auth.Key{}, false, translate(err)
	}

	return auth.Key{ID: row.ID, Hash: row.Hash, Subject: row.Subject, Role: row.Role}, true, nil
}

// Revoke disables the key with id
func (s *KeyStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return translate(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound(id)
	}
	return nil
}
