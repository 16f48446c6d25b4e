// Package database opens the SQL stores used by the agenda services and
// applies their embedded schema migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/security"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// sqlitePragmas tunes the on-device cache:
//   - journal_mode=WAL lets reads continue while a write is in progress
//   - foreign_keys=ON enforces references between tables
//   - busy_timeout=5000 waits on a lock instead of failing immediately
//   - synchronous=NORMAL is durable enough under WAL
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// DefaultSQLitePath returns where the local cache lives when no path is
// configured.
func DefaultSQLitePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".agenda", "cache.db")
}

// OpenSQLite opens the database file at path, creating its directory when
// needed. SQLite allows a single writer, so the pool holds one connection.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultSQLitePath()
	}
	path, err := security.ValidateFilePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid SQLite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?"+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	return db, nil
}
