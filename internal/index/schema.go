// Package index provides the SQLite-backed annotation rule store.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Criteria columns are NULL when the rule leaves that dimension unconstrained.
const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS rules (
	id             TEXT PRIMARY KEY,
	path           TEXT,
	under          TEXT,
	ext            TEXT,
	larger         INTEGER,
	smaller        INTEGER,
	before_date    TEXT,
	after_date     TEXT,
	younger_days   INTEGER,
	older_days     INTEGER,
	annotation     TEXT NOT NULL DEFAULT '{}',
	merge_strategy TEXT NOT NULL DEFAULT 'default',
	metadata       TEXT NOT NULL DEFAULT '{}',
	source         TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_rules_path ON rules(path);
CREATE INDEX IF NOT EXISTS idx_rules_under ON rules(under);
CREATE INDEX IF NOT EXISTS idx_rules_ext ON rules(ext);
CREATE INDEX IF NOT EXISTS idx_rules_expires ON rules(expires_at);
CREATE INDEX IF NOT EXISTS idx_rules_source ON rules(source);

CREATE TABLE IF NOT EXISTS sources (
	path       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
`

// DB wraps a sql.DB with rule-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("index: ping: %w", err)
	}
	return nil
}
