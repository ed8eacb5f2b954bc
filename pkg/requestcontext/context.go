// Package requestcontext provides transport-independent context accessors for
// values scoped to a single inbound event (a platform update or an admin request).
//
// The update dispatcher and the HTTP middleware set these values; services read
// them without depending on either entry point.
//
//	ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
//	ctx = requestcontext.WithTime(ctx, fixedTime) // tests
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"

	id "relaygate/pkg/domain"
)

type (
	requestIDKey   struct{}
	requestTimeKey struct{}
	actorKey       struct{}
	updateIDKey    struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeyActor       = actorKey{}
	ContextKeyUpdateID    = updateIDKey{}
)

// RequestID retrieves the correlation id from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Actor returns the operator acting on a user, or zero when the event comes
// from the user themselves or from the system.
func Actor(ctx context.Context) id.UserID {
	if actor, ok := ctx.Value(ContextKeyActor).(id.UserID); ok {
		return actor
	}
	return 0
}

// WithActor records the operator performing an action.
func WithActor(ctx context.Context, actor id.UserID) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// UpdateID returns the platform update id being handled, if any.
func UpdateID(ctx context.Context) int64 {
	if u, ok := ctx.Value(ContextKeyUpdateID).(int64); ok {
		return u
	}
	return 0
}

// WithUpdateID stores the platform update id being handled.
func WithUpdateID(ctx context.Context, updateID int64) context.Context {
	return context.WithValue(ctx, ContextKeyUpdateID, updateID)
}

// Now retrieves the event-scoped time from context.
// Falls back to time.Now() if not set (workers, scheduler ticks).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that need a fixed clock
//   - Sweeps that need consistent time within a batch operation
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
