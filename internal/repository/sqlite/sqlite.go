// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain and the cache can live in a single file next to it (or in
// memory, with ":memory:", for tests).
//
// The pattern is the usual database/sql one:
//  1. sql.Open(driverName, dataSourceName) creates a pool
//  2. db.QueryRowContext / db.ExecContext run statements
//  3. row.Scan(&field1, &field2) reads results into Go variables
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// pragmas run once on open. WAL lets readers proceed while a request is
// writing its result.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
}

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS results (
		key        TEXT PRIMARY KEY,
		language   TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_results_expires_at ON results(expires_at)`,
}

// New opens the database at dbPath and brings its schema up to date.
//
// dbPath examples:
//   - "data/cache.db" → file-based database (persistent)
//   - ":memory:"      → in-memory database (lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) init() error {
	// sql.Open does not connect; Ping surfaces a bad path right away.
	if err := db.conn.Ping(); err != nil {
		return fmt.Errorf("sqlite: pinging database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p); err != nil {
			return fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if err := db.migrate(); err != nil {
		return fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate applies the migrations past the stored user_version.
func (db *DB) migrate() error {
	var version int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := db.conn.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := db.conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("recording schema version %d: %w", i+1, err)
		}
	}
	return nil
}
