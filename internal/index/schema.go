// Package index persists the link graph and the source checksum ledger in
// SQLite.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entities (
	id         INTEGER PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_dates (
	entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	date      TEXT NOT NULL,
	UNIQUE(entity_id, date)
);

CREATE TABLE IF NOT EXISTS entity_names (
	entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	name      TEXT NOT NULL,
	UNIQUE(entity_id, name)
);

CREATE TABLE IF NOT EXISTS entity_labels (
	entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	label     TEXT NOT NULL,
	UNIQUE(entity_id, label)
);

CREATE TABLE IF NOT EXISTS edges (
	source   INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	target   INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	UNIQUE(source, target)
);

CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target);

CREATE TABLE IF NOT EXISTS sources (
	path       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL,
	indexed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS snapshots (
	id       TEXT PRIMARY KEY,
	taken_at DATETIME NOT NULL,
	entities INTEGER NOT NULL,
	edges    INTEGER NOT NULL
);
`

// DB wraps a sql.DB with index-specific operations.
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
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// PingContext checks that the database is reachable.
func (db *DB) PingContext(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
