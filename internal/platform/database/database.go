// Package database opens the durable store and owns its schema.
//
// Three drivers are supported: sqlite3 (single-file deployments), pgx and
// postgres (both PostgreSQL). Queries in the stores are written once in the
// common dialect: $N placeholders in ascending order of first use,
// ON CONFLICT DO NOTHING and RETURNING.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"relaygate/internal/platform/config"
	"relaygate/pkg/platform/sentinel"
)

// ErrStorageUnavailable is returned at startup when the configured driver is
// not compiled in or the database cannot be reached.
var ErrStorageUnavailable = fmt.Errorf("storage unavailable: %w", sentinel.ErrUnavailable)

// Open connects to the configured database and verifies it with a ping.
func Open(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	if !slices.Contains(sql.Drivers(), cfg.Driver) {
		return nil, fmt.Errorf("%w: driver %q is not registered", ErrStorageUnavailable, cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Join(ErrStorageUnavailable, err)
	}

	if IsSQLite(cfg.Driver) {
		// sqlite allows one writer at a time; a single connection turns lock
		// contention into queueing inside database/sql.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrStorageUnavailable, err)
	}
	return db, nil
}

// IsSQLite reports whether driver is the sqlite driver.
func IsSQLite(driver string) bool {
	return driver == "sqlite3"
}
