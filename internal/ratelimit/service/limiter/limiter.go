// Package limiter binds a bucket store to one budget: "at most Limit calls in
// any Window". A call arriving when the window is full is rejected, never
// queued.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaygate/internal/ratelimit/models"
)

// Store is the sliding-window counter a limiter draws from. Both the
// in-memory and the Redis bucket stores satisfy it.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Limiter struct {
	store  Store
	key    string
	limit  int
	window time.Duration
}

// New creates a limiter admitting at most limit calls per window under key.
func New(store Store, key string, limit int, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("limiter store is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("limiter %s: limit and window must be positive", key)
	}
	return &Limiter{store: store, key: key, limit: limit, window: window}, nil
}

// Allow consumes one slot if available.
func (l *Limiter) Allow(ctx context.Context) (*models.Result, error) {
	return l.store.Allow(ctx, l.key, l.limit, l.window)
}
