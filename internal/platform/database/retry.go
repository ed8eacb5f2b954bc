package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/sethvargo/go-retry"
)

// Retry policy at the storage boundary: a fixed delay and a small bound.
// Anything still failing after the last attempt is surfaced to the caller.
const (
	DefaultRetryDelay = 200 * time.Millisecond
	DefaultMaxRetries = 3
)

// Retrier re-runs storage operations that failed with a transient error.
type Retrier struct {
	delay      time.Duration
	maxRetries uint64
	onRetry    func()
}

type RetryOption func(*Retrier)

func WithRetryDelay(d time.Duration) RetryOption {
	return func(r *Retrier) { r.delay = d }
}

func WithMaxRetries(n uint64) RetryOption {
	return func(r *Retrier) { r.maxRetries = n }
}

// WithRetryHook is called once per retried attempt (metrics).
func WithRetryHook(fn func()) RetryOption {
	return func(r *Retrier) { r.onRetry = fn }
}

func NewRetrier(opts ...RetryOption) *Retrier {
	r := &Retrier{delay: DefaultRetryDelay, maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn, retrying transient failures. A nil Retrier runs fn once.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil {
		return fn(ctx)
	}
	attempt := 0
	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewConstant(r.delay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 && r.onRetry != nil {
			r.onRetry()
		}
		attempt++
		err := fn(ctx)
		if err != nil && IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// IsTransient reports whether err is worth retrying: dropped connections,
// sqlite lock contention, postgres connection or serialization failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isRetryableSQLState(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isRetryableSQLState(string(pqErr.Code))
	}

	return pgconn.SafeToRetry(err)
}

func isRetryableSQLState(code string) bool {
	switch {
	case len(code) >= 2 && code[:2] == "08": // connection exception
		return true
	case code == "40001", code == "40P01": // serialization failure, deadlock
		return true
	case code == "57P03": // cannot connect now
		return true
	}
	return false
}
