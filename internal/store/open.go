package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"  // postgres driver, registered under "postgres"
	_ "modernc.org/sqlite" // pure-Go sqlite driver, registered under "sqlite"
)

// OpenSQLite opens (or creates) a SQLite database file at path and wraps it
// as the embedded tagged variant (§9). Use ":memory:" for an ephemeral
// single-process store.
func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// modernc.org/sqlite's single-connection-per-process recommendation for
	// write-heavy workloads; readers share via WAL once the caller enables
	// it via a DSN param (e.g. "file:path?_pragma=journal_mode(WAL)").
	db.SetMaxOpenConns(1)
	return NewSQLite(db), nil
}

// OpenPostgres opens a Postgres connection and wraps it as the server-DB
// tagged variant (§9), for production multi-writer deployments.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return NewPostgres(db), nil
}
