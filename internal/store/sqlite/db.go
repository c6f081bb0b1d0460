// Package sqlite persists bookmarks, collections, folder mappings and
// media assets in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store wraps the database handle. SQLite allows one writer, so the pool
// is capped at a single connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the database handle
func (s *Store) Close() error { return s.db.Close() }

// InitSchema creates the tables if they do not exist yet.
func InitSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bookmarks (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            external_source TEXT,
            external_id TEXT,
            url TEXT NOT NULL,
            normalized_url TEXT NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            title_edited INTEGER NOT NULL DEFAULT 0,
            description_edited INTEGER NOT NULL DEFAULT 0,
            author TEXT NOT NULL DEFAULT '',
            source TEXT NOT NULL,
            like_count INTEGER NOT NULL DEFAULT 0,
            repost_count INTEGER NOT NULL DEFAULT 0,
            reply_count INTEGER NOT NULL DEFAULT 0,
            quote_count INTEGER NOT NULL DEFAULT 0,
            media_hashes TEXT NOT NULL DEFAULT '[]',
            posted_at TIMESTAMP,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookmarks_user_url ON bookmarks(user_id, normalized_url)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookmarks_user_external
            ON bookmarks(user_id, external_source, external_id) WHERE external_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS collections (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            name TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_collections_user ON collections(user_id)`,
		`CREATE TABLE IF NOT EXISTS collection_bookmarks (
            collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
            bookmark_id TEXT NOT NULL REFERENCES bookmarks(id) ON DELETE CASCADE,
            created_at TIMESTAMP NOT NULL,
            PRIMARY KEY (collection_id, bookmark_id)
        )`,
		`CREATE TABLE IF NOT EXISTS folder_mappings (
            user_id TEXT NOT NULL,
            platform TEXT NOT NULL,
            remote_folder_id TEXT NOT NULL,
            remote_folder_name TEXT NOT NULL DEFAULT '',
            collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
            updated_at TIMESTAMP NOT NULL,
            PRIMARY KEY (user_id, platform, remote_folder_id)
        )`,
		`CREATE TABLE IF NOT EXISTS media_assets (
            content_hash TEXT PRIMARY KEY,
            source_url TEXT NOT NULL,
            local_path TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        )`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// isUniqueViolation reports whether err comes from a UNIQUE/PRIMARY KEY constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// extended codes disabled
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
