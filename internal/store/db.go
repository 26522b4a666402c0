package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the foresight SQLite database. It is the
// Durable tier: the single source of truth for content, plus the access event
// log, detected patterns, tier placement state and device contexts.
type DB struct {
	*sql.DB
	Path string
}

// DefaultDBPath returns the default database path: ~/.foresight/foresight.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".foresight", "foresight.db"), nil
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(path, path, 0)
}

// OpenMemory opens an in-memory SQLite database for testing.
// Each pooled connection would get its own empty database, so the pool is
// pinned to a single connection.
func OpenMemory() (*DB, error) {
	return open(":memory:", ":memory:", 1)
}

func open(dsn, path string, maxConns int) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		// access_events is append-heavy; keep the WAL from growing unbounded.
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// Close folds the WAL back into the main file and closes the pool.
func (db *DB) Close() error {
	if db.Path != ":memory:" {
		// Best effort; a busy database simply keeps its WAL.
		db.Exec("PRAGMA optimize")
		db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return db.DB.Close()
}
