// Package db provides database connection helpers and schema migration for the
// profile store. Postgres (pgx) and SQLite (modernc) share one schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the database/sql driver in use.
type Dialect string

const (
	DialectPostgres Dialect = "pgx"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a DB_DRIVER value onto a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or pgx)", driver)
}

// Connect opens the database for the given dialect and verifies connectivity.
func Connect(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty dsn")
	}
	if dialect == DialectSQLite && !strings.Contains(dsn, "_pragma=") && dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	database, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// modernc serializes writers; one connection avoids SQLITE_BUSY churn.
		database.SetMaxOpenConns(1)
	} else {
		database.SetMaxOpenConns(10)
		database.SetConnMaxIdleTime(5 * time.Minute)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return database, nil
}

// Rebind rewrites ? placeholders into $n for Postgres.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// schema is shared by both dialects: no autoincrement, no dialect types.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS viewers (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		online BOOLEAN NOT NULL DEFAULT FALSE,
		disable_auto_stat_accrual BOOLEAN NOT NULL DEFAULT FALSE,
		roles TEXT NOT NULL DEFAULT '[]',
		seq BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL DEFAULT 0,
		last_seen BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_viewers_username ON viewers (username)`,
	`CREATE INDEX IF NOT EXISTS idx_viewers_seq ON viewers (seq)`,
	`CREATE TABLE IF NOT EXISTS viewer_balances (
		viewer_id TEXT NOT NULL,
		currency_id TEXT NOT NULL,
		amount BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (viewer_id, currency_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_viewer_balances_currency ON viewer_balances (currency_id, amount)`,
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		seq BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (collection, id)
	)`,
}

// Migrate applies the embedded schema statements. Every statement is
// idempotent so this is safe on every start.
func Migrate(ctx context.Context, database *sql.DB) error {
	for _, stmt := range schema {
		if _, err := database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
