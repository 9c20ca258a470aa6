package db

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// DB holds the database connection
type DB struct {
	*sqlx.DB
}

// Connect establishes a connection to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	sqlxDB, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	// Test the connection
	if err := sqlxDB.PingContext(ctx); err != nil {
		sqlxDB.Close()
		return nil, err
	}

	return &DB{sqlxDB}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health checks if the database connection is healthy
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Schema creates the table used by PostgresProvider
const Schema = `
CREATE TABLE IF NOT EXISTS resource_documents (
    resource   TEXT        NOT NULL,
    id         UUID        NOT NULL,
    data       JSONB       NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (resource, id)
);
CREATE INDEX IF NOT EXISTS resource_documents_data_idx ON resource_documents USING GIN (data);
CREATE INDEX IF NOT EXISTS resource_documents_created_idx ON resource_documents (resource, created_at DESC);
`

// Migrate creates the documents and api key tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range []string{Schema, KeySchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
