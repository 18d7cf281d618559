// Package rowstore is the SQLite-backed row store of the remote backend.
// Every row is owned by a user id and every query is scoped by it.
package rowstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	user_id   TEXT    NOT NULL,
	ts        INTEGER NOT NULL,
	date      TEXT    NOT NULL DEFAULT '',
	content   TEXT    NOT NULL DEFAULT '',
	file_path TEXT,
	file_name TEXT,
	file_type TEXT,
	PRIMARY KEY (user_id, ts)
);

CREATE TABLE IF NOT EXISTS activity (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT    NOT NULL,
	ts      INTEGER NOT NULL,
	kind    TEXT    NOT NULL DEFAULT 'misc',
	text    TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_entries_user_ts ON entries(user_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_activity_user_ts ON activity(user_id, ts DESC);
`

// DB wraps a sql.DB with the entry and activity tables.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database at dsn and applies the schema.
func Open(dsn string) (*DB, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("rowstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rowstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rowstore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
