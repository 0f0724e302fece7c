package securestore

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresBackend keeps blobs in the secure_objects table. The schema is
// owned by the goose migrations.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend creates a PostgreSQL-backed blob store.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Put(ctx context.Context, key string, blob []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO secure_objects (storage_key, blob, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (storage_key) DO UPDATE SET blob = EXCLUDED.blob, updated_at = NOW()
	`, key, blob)
	return err
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := b.db.QueryRowContext(ctx, `SELECT blob FROM secure_objects WHERE storage_key = $1`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return blob, err
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM secure_objects WHERE storage_key = $1`, key)
	return err
}
