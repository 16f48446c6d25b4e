package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "cache.db")

		db, err := OpenSQLite(ctx, path)
		require.NoError(t, err)
		defer db.Close()

		assert.NoError(t, db.PingContext(ctx))
	})

	t.Run("enables foreign keys", func(t *testing.T) {
		db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
		require.NoError(t, err)
		defer db.Close()

		var enabled int
		require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled))
		assert.Equal(t, 1, enabled)
	})

	t.Run("rejects paths carrying options", func(t *testing.T) {
		_, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db?_pragma=foreign_keys(0)"))
		assert.ErrorContains(t, err, "invalid SQLite path")
	})
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"migrations/0002_second.up.sql":  {Data: []byte(`CREATE TABLE IF NOT EXISTS second (id TEXT PRIMARY KEY, first_id TEXT REFERENCES first(id));`)},
		"migrations/0001_first.up.sql":   {Data: []byte(`CREATE TABLE IF NOT EXISTS first (id TEXT PRIMARY KEY);`)},
		"migrations/0001_first.down.sql": {Data: []byte(`DROP TABLE first;`)},
	}

	require.NoError(t, Migrate(ctx, db, fsys, "migrations"))
	// Running again is a no-op.
	require.NoError(t, Migrate(ctx, db, fsys, "migrations"))

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('first', 'second')`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestMigrate_MissingDirectory(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer db.Close()

	err = Migrate(ctx, db, fstest.MapFS{}, "migrations")
	assert.Error(t, err)
}

func TestOpenPostgres_RequiresURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "", PoolConfig{})
	assert.ErrorIs(t, err, ErrMissingURL)
}

func TestNewPostgres_DoesNotDial(t *testing.T) {
	// Nothing listens on port 1; preparing the pool must still succeed.
	db, err := NewPostgres("postgres://agenda@127.0.0.1:1/agenda?sslmode=disable&connect_timeout=1", PoolConfig{MaxOpenConns: 2})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 2, db.Stats().MaxOpenConnections)
	assert.Error(t, db.PingContext(context.Background()))
}
