package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Producer writes one keyed record to the audit topic.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// KafkaPublisher serializes events as JSON and produces them keyed by subject,
// so all events for one user land on the same partition in order.
type KafkaPublisher struct {
	producer Producer
}

func NewKafkaPublisher(producer Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

type wireEvent struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ActorID   int64     `json:"actor_id,omitempty"`
}

func (p *KafkaPublisher) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(wireEvent{
		ID:        event.ID.String(),
		Category:  string(event.Category),
		Timestamp: event.Timestamp.UTC(),
		Action:    event.Action,
		Subject:   event.Subject,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		ActorID:   event.ActorID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := p.producer.Produce(ctx, []byte(event.Subject), payload); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
