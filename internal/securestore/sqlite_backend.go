package securestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps blobs in a device-local SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite file at path and
// ensures the schema exists. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("securestore: open sqlite: %w", err)
	}
	// One writer keeps WAL contention away and makes :memory: usable.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// Migrate creates the secure_objects table if it doesn't exist.
func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS secure_objects (
			storage_key TEXT PRIMARY KEY,
			blob        BLOB NOT NULL,
			updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("securestore: migrate sqlite: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, blob []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO secure_objects (storage_key, blob, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(storage_key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at
	`, key, blob)
	return err
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := b.db.QueryRowContext(ctx, `SELECT blob FROM secure_objects WHERE storage_key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return blob, err
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM secure_objects WHERE storage_key = ?`, key)
	return err
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
