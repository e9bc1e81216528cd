package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{DialectSQLite, "SELECT ? , ?", "SELECT ? , ?"},
		{DialectPostgres, "SELECT ? , ?", "SELECT $1 , $2"},
		{DialectPostgres, "UPDATE t SET a = ? WHERE b = ? AND c = ?", "UPDATE t SET a = $1 WHERE b = $2 AND c = $3"},
		{DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := Rebind(tt.dialect, tt.in); got != tt.want {
			t.Errorf("Rebind(%s, %q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": DialectSQLite, "sqlite": DialectSQLite, "pgx": DialectPostgres, "Postgres": DialectPostgres} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Errorf("ParseDialect(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestMigrateSQLiteIdempotent(t *testing.T) {
	ctx := context.Background()
	database, err := Connect(ctx, DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			t.Errorf("failed to close db: %v", err)
		}
	}()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, database); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}

	for _, table := range []string{"viewers", "viewer_balances", "documents"} {
		var n int
		if err := database.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestRunMigrationsPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = database.Close() }()

	if err := RunMigrations(database); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := RunMigrations(database); err != nil {
		t.Fatalf("second run should be a no-op: %v", err)
	}
	v, dirty, err := GetMigrationVersion(database)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if dirty || v < 1 {
		t.Fatalf("version=%d dirty=%v", v, dirty)
	}
	// embedded statements must tolerate the versioned schema already existing
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("embedded migrate after versioned: %v", err)
	}
}
