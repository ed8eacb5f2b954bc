// Package databasetest provides migrated databases for store tests.
package databasetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"relaygate/internal/platform/config"
	"relaygate/internal/platform/database"
)

// NewSQLite opens a private in-memory sqlite database with the schema applied.
func NewSQLite(t testing.TB) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.Database{Driver: "sqlite3", DSN: "file::memory:?_foreign_keys=on"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, "sqlite3"))
	return db
}

// NewPostgres migrates the database behind dsn (a testcontainers instance).
func NewPostgres(t testing.TB, dsn string) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.Database{Driver: "pgx", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, "pgx"))
	return db
}
