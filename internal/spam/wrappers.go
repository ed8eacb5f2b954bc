package spam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaygate/internal/ratelimit/models"
)

// Admitter grants or refuses a single call (ratelimit limiter.Limiter).
type Admitter interface {
	Allow(ctx context.Context) (*models.Result, error)
}

type rateLimited struct {
	next  Strategy
	admit Admitter
}

// RateLimited asks admit before every call. A refusal is returned as
// ErrClassifierRateLimited right away; calls are never queued.
func RateLimited(next Strategy, admit Admitter) Strategy {
	return &rateLimited{next: next, admit: admit}
}

func (r *rateLimited) Name() string { return r.next.Name() }

func (r *rateLimited) Classify(ctx context.Context, text string) (*Verdict, error) {
	res, err := r.admit.Allow(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: limiter: %w", ErrClassifierUnavailable, err)
	}
	if !res.Allowed {
		return nil, ErrClassifierRateLimited
	}
	return r.next.Classify(ctx, text)
}

type timeout struct {
	next Strategy
	d    time.Duration
}

// Timeout bounds each call. The request context is cancelled on expiry, so
// nothing keeps running in the background.
func Timeout(next Strategy, d time.Duration) Strategy {
	return &timeout{next: next, d: d}
}

func (t *timeout) Name() string { return t.next.Name() }

func (t *timeout) Classify(ctx context.Context, text string) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	v, err := t.next.Classify(ctx, text)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %w", ErrClassifierUnavailable, context.DeadlineExceeded)
	}
	return v, err
}
