package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"relaygate/pkg/attrs"
	"relaygate/pkg/requestcontext"
)

// Publisher emits audit events for security-relevant operations.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// LogPublisher writes events to a structured logger. It is the default sink
// when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "audit",
		"event_id", event.ID.String(),
		"category", string(event.Category),
		"action", event.Action,
		"subject", event.Subject,
		"reason", event.Reason,
		"request_id", event.RequestID,
		"actor_id", event.ActorID,
	)
	return nil
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter builds events from structured log attributes and hands them to a
// publisher. Services hold one and call Log for every audited action.
type Emitter struct {
	logger    *slog.Logger
	publisher Publisher
	subjects  *Pseudonymizer
}

func NewEmitter(logger *slog.Logger, publisher Publisher, subjects *Pseudonymizer) *Emitter {
	if subjects == nil {
		subjects = &Pseudonymizer{}
	}
	return &Emitter{logger: logger, publisher: publisher, subjects: subjects}
}

// Log logs an audit event to the structured logger and the publisher, if any.
// attrs are slog-style key/value pairs; "user_id" (int64) and "reason"
// (string) are lifted into the event.
func (e *Emitter) Log(ctx context.Context, event AuditEvent, kv ...any) {
	if e == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		kv = append(kv, "request_id", requestID)
	}
	args := append(kv, "event", string(event), "log_type", "audit")

	if e.logger != nil {
		e.logger.InfoContext(ctx, string(event), args...)
	}

	if e.publisher == nil {
		return
	}
	ev := Event{
		ID:        uuid.New(),
		Category:  event.Category(),
		Timestamp: requestcontext.Now(ctx),
		Action:    string(event),
		Subject:   e.subjects.Subject(attrs.ExtractInt64(kv, "user_id")),
		Reason:    attrs.ExtractString(kv, "reason"),
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   int64(requestcontext.Actor(ctx)),
	}
	if err := e.publisher.Emit(ctx, ev); err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
