// Package sqlite implements the repository interfaces on SQLite through
// modernc.org/sqlite, a pure Go port that needs no C toolchain.
//
// Contributions are stored as one row per record plus child tables for the
// two growing arrays (messages and the rate set). Appending to or removing
// from those arrays is a single INSERT or DELETE, never a rewrite of the
// whole record.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/sakif/automata/internal/repository"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database. Used by tests.
const MemoryPath = ":memory:"

// DB wraps a sql.DB connection pool and implements the repositories.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// Pragmas are passed in the DSN so that every pooled connection gets them,
// not only the first one. Transactions begin IMMEDIATE: a deferred
// transaction that reads first and writes later fails with SQLITE_BUSY
// under WAL instead of waiting for busy_timeout.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Each connection to ":memory:" is its own empty database.
	if dbPath == MemoryPath {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func dsn(dbPath string) string {
	return dbPath +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			public_id     TEXT NOT NULL UNIQUE,
			username      TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL DEFAULT '',
			email         TEXT NOT NULL DEFAULT '',
			title         TEXT NOT NULL DEFAULT '',
			avatar        TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			is_moderator  INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// tags is a JSON array; review_* stay NULL until a moderator acts.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS contributions (
			id               TEXT PRIMARY KEY,
			public_id        TEXT NOT NULL UNIQUE,
			title            TEXT NOT NULL,
			date_added       DATETIME NOT NULL,
			author_public_id TEXT NOT NULL,
			author_title     TEXT NOT NULL DEFAULT '',
			author_avatar    TEXT NOT NULL DEFAULT '',
			author_username  TEXT NOT NULL,
			tags             TEXT NOT NULL DEFAULT '[]',
			data_type        TEXT NOT NULL DEFAULT '',
			data_info        TEXT NOT NULL DEFAULT '',
			data_image       TEXT NOT NULL DEFAULT '',
			review_message   TEXT,
			review_approved  INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_contributions_date_added ON contributions(date_added);
		CREATE INDEX IF NOT EXISTS idx_contributions_author ON contributions(author_username);
	`)
	if err != nil {
		return fmt.Errorf("creating contributions table: %w", err)
	}

	// seq keeps messages in append order.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS contribution_messages (
			seq              INTEGER PRIMARY KEY AUTOINCREMENT,
			id               TEXT NOT NULL UNIQUE,
			contribution_id  TEXT NOT NULL REFERENCES contributions(id) ON DELETE CASCADE,
			content          TEXT NOT NULL,
			created_at       DATETIME NOT NULL,
			author_username  TEXT NOT NULL,
			author_public_id TEXT NOT NULL DEFAULT '',
			author_avatar    TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_messages_contribution ON contribution_messages(contribution_id);
	`)
	if err != nil {
		return fmt.Errorf("creating contribution_messages table: %w", err)
	}

	// The primary key makes the rate a set: a username appears at most once.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS contribution_rates (
			contribution_id TEXT NOT NULL REFERENCES contributions(id) ON DELETE CASCADE,
			username        TEXT NOT NULL,
			rated_at        DATETIME NOT NULL,
			PRIMARY KEY (contribution_id, username)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating contribution_rates table: %w", err)
	}

	return nil
}

// clamp applies the shared page-size rules to opts.
func clamp(opts repository.ListOptions) (int, int) {
	opts = opts.Normalize()
	return opts.Limit, opts.Offset
}
