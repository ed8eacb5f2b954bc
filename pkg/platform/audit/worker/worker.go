package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	audit "relaygate/pkg/platform/audit"
)

// Worker decouples audit emission from the relay hot path: Emit enqueues
// without blocking and Run forwards events to the downstream publisher.
// When the inbox is full the event is dropped and counted.
type Worker struct {
	next    audit.Publisher
	inbox   chan audit.Event
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewWorker(next audit.Publisher, capacity int, logger *slog.Logger) *Worker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Worker{next: next, inbox: make(chan audit.Event, capacity), logger: logger}
}

func (w *Worker) Emit(_ context.Context, event audit.Event) error {
	select {
	case w.inbox <- event:
	default:
		w.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of events discarded because the inbox was full.
func (w *Worker) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.next.Emit(ctx, event); err != nil && w.logger != nil {
				w.logger.WarnContext(ctx, "audit publish failed",
					"event", event.Action,
					"error", err,
				)
			}
		}
	}
}
