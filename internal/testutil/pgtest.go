// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mbd888/tiptap/migrations"
)

// PGTest returns a migrated Postgres database and a cleanup function.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// POSTGRES_URL selects an existing server. Without it a throwaway
// container is started through testcontainers unless -short is set or
// TIPTAP_SKIP_CONTAINERS is non-empty, in which case the test is skipped.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	dbURL := os.Getenv("POSTGRES_URL")
	var terminate func()
	if dbURL == "" {
		if testing.Short() || os.Getenv("TIPTAP_SKIP_CONTAINERS") != "" {
			t.Skip("no POSTGRES_URL and containers disabled, skipping integration test")
		}
		dbURL, terminate = startContainer(t, ctx)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}

	return db, func() {
		truncateAll(ctx, db)
		_ = db.Close()
		if terminate != nil {
			terminate()
		}
	}
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	return migrations.Up(ctx, db)
}

func startContainer(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tiptap_test"),
		postgres.WithUsername("tiptap"),
		postgres.WithPassword("tiptap"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("pgtest: postgres container unavailable: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		t.Fatalf("pgtest: connection string: %v", err)
	}

	return dsn, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = ctr.Terminate(stopCtx)
	}
}

// truncateAll empties every application table between tests.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	if len(tables) > 0 {
		stmt := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE" // #nosec G202 -- names from pg_tables
		_, _ = db.ExecContext(ctx, stmt)
	}
}
