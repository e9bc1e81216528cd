package testutil

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/senepa/Firebot/db"
	"github.com/senepa/Firebot/store"
)

// SetupTestDB creates a Postgres connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(context.Background(), db.DialectPostgres, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// NewStore returns a store over a fresh in-memory SQLite database.
func NewStore(t *testing.T) *store.SQLStore {
	t.Helper()
	database, err := db.Connect(context.Background(), db.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return store.New(database, db.DialectSQLite)
}

// AddViewer upserts a viewer and fails the test on error.
func AddViewer(t *testing.T, s *store.SQLStore, id, username string, online bool, roles ...string) *store.Viewer {
	t.Helper()
	ctx := context.Background()
	if _, err := s.UpsertViewer(ctx, store.Viewer{ID: id, Username: username, DisplayName: username, Online: online, Roles: roles}); err != nil {
		t.Fatalf("upsert viewer %s: %v", username, err)
	}
	v, err := s.GetViewer(ctx, id)
	if err != nil {
		t.Fatalf("get viewer %s: %v", username, err)
	}
	return v
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
