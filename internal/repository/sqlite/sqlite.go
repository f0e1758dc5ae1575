// Package sqlite implements the repository interfaces using SQLite as the
// storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code — no C compiler needed, works everywhere
// Go works.
//
// TRANSACTIONS:
// Every multi-statement invariant (quota check + insert, dedup lookup +
// insert, cascade delete + refcount) runs inside a single transaction via
// withTx. SQLite serialises writers, so those transactions are observed as
// if serialised per user — which is exactly the ordering guarantee the
// retention engine needs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Side-effect import: registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/cliplru.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests, lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// A single connection, for three reasons: PRAGMAs only apply to the
	// connection that ran them, ":memory:" databases exist per-connection,
	// and SQLite allows one writer at a time anyway — the pool would just
	// hand out connections that block on each other.
	conn.SetMaxOpenConns(1)

	// Ping forces an immediate connection so a bad path or permissions
	// problem surfaces here instead of on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode allows concurrent reads while a write is in progress —
	// important for a web server where every request hits the DB.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. We rely on referential
	// integrity between users, clips, and files, so turn them on.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE,
			email         TEXT UNIQUE,
			password_hash TEXT,
			full_name     TEXT NOT NULL DEFAULT '',
			is_active     INTEGER NOT NULL DEFAULT 1,
			is_admin      INTEGER NOT NULL DEFAULT 0,
			is_anonymous  INTEGER NOT NULL DEFAULT 0,
			session_id    TEXT UNIQUE,
			max_clips     INTEGER NOT NULL,
			storage_quota INTEGER NOT NULL,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL,
			last_login    DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_users_session_id ON users(session_id);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS clips (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL REFERENCES users(id),
			title         TEXT NOT NULL DEFAULT '',
			content       TEXT NOT NULL DEFAULT '',
			clip_type     TEXT NOT NULL,
			access_level  TEXT NOT NULL,
			password_hash TEXT,
			share_token   TEXT UNIQUE,
			is_pinned     INTEGER NOT NULL DEFAULT 0,
			access_count  INTEGER NOT NULL DEFAULT 0,
			last_accessed DATETIME NOT NULL,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL,
			expires_at    DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_clips_owner_id ON clips(owner_id);
		CREATE INDEX IF NOT EXISTS idx_clips_share_token ON clips(share_token);
		CREATE INDEX IF NOT EXISTS idx_clips_last_accessed ON clips(last_accessed);
		CREATE INDEX IF NOT EXISTS idx_clips_expires_at ON clips(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating clips table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			id                TEXT PRIMARY KEY,
			owner_id          TEXT NOT NULL REFERENCES users(id),
			clip_id           TEXT REFERENCES clips(id),
			filename          TEXT NOT NULL,
			original_filename TEXT NOT NULL,
			file_path         TEXT NOT NULL,
			file_size         INTEGER NOT NULL,
			mime_type         TEXT NOT NULL,
			file_hash         TEXT NOT NULL,
			is_image          INTEGER NOT NULL DEFAULT 0,
			is_video          INTEGER NOT NULL DEFAULT 0,
			is_audio          INTEGER NOT NULL DEFAULT 0,
			download_count    INTEGER NOT NULL DEFAULT 0,
			last_downloaded   DATETIME,
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_files_file_hash ON files(file_hash);
		CREATE INDEX IF NOT EXISTS idx_files_owner_id ON files(owner_id);
		CREATE INDEX IF NOT EXISTS idx_files_clip_id ON files(clip_id);
	`)
	if err != nil {
		return fmt.Errorf("creating files table: %w", err)
	}

	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. All multi-statement repository methods go through
// this helper so the commit/rollback handling lives in one place.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}

	return nil
}

// nullable maps Go's empty string to SQL NULL. Used for columns with UNIQUE
// constraints on optional values (username, email, session_id, share_token) —
// two empty strings would collide, two NULLs don't.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
