package service

import (
	"context"
	"errors"
	"fmt"

	"relaygate/internal/topic/models"
	"relaygate/internal/topic/store"
	"relaygate/internal/transport"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/audit"
	"relaygate/pkg/requestcontext"
)

const selfTestText = "relay self-test"

// EnsureSpamTopic loads, verifies or creates the spam-holding topic and
// caches it for the process lifetime. A permission failure is returned as
// ErrTopicCreationFailed.
func (d *Directory) EnsureSpamTopic(ctx context.Context) (domain.TopicID, error) {
	t, err := d.store.GetSpamHolding(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return d.createSpamTopic(ctx)
	case err != nil:
		return 0, fmt.Errorf("load spam topic: %w", err)
	}

	check, err := d.transport.SendText(ctx, transport.Destination{Chat: d.space, Topic: t.ID}, selfTestText, 0)
	if errors.Is(err, transport.ErrTopicNotFound) {
		d.logger.WarnContext(ctx, "spam topic was deleted, recreating", "topic_id", t.ID)
		if err := d.store.Delete(ctx, t.ID); err != nil {
			return 0, fmt.Errorf("drop stale spam topic: %w", err)
		}
		return d.createSpamTopic(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: check spam topic: %w", ErrTopicCreationFailed, err)
	}
	if err := d.transport.DeleteMessage(ctx, domain.Endpoint{Side: domain.SideTopic, Chat: d.space, Message: check}); err != nil &&
		!errors.Is(err, transport.ErrMessageNotFound) {
		d.logger.WarnContext(ctx, "failed to delete self-test message", "error", err)
	}

	d.setSpam(t.ID)
	return t.ID, nil
}

func (d *Directory) createSpamTopic(ctx context.Context) (domain.TopicID, error) {
	id, err := d.transport.CreateTopic(ctx, d.space, models.SpamTopicTitle)
	if err != nil {
		d.auditor.Log(ctx, audit.EventTopicCreationFailed, "reason", err.Error(), "spam_holding", true)
		return 0, fmt.Errorf("%w: %w", ErrTopicCreationFailed, err)
	}
	created, err := d.store.Create(ctx, &models.Topic{
		ID:          id,
		Title:       models.SpamTopicTitle,
		SpamHolding: true,
		CreatedAt:   requestcontext.Now(ctx),
	})
	if err != nil {
		return 0, fmt.Errorf("store spam topic: %w", err)
	}
	if !created {
		t, err := d.store.GetSpamHolding(ctx)
		if err != nil {
			return 0, fmt.Errorf("store spam topic: %w", err)
		}
		id = t.ID
	} else {
		d.metrics.IncrementTopicsCreated()
		d.auditor.Log(ctx, audit.EventTopicCreated, "topic_id", id, "spam_holding", true)
	}
	d.setSpam(id)
	return id, nil
}

func (d *Directory) setSpam(id domain.TopicID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spam = id
}

// SpamTopic returns the cached spam-holding topic, running EnsureSpamTopic
// on first use.
func (d *Directory) SpamTopic(ctx context.Context) (domain.TopicID, error) {
	d.mu.RLock()
	id := d.spam
	d.mu.RUnlock()
	if id != 0 {
		return id, nil
	}
	return d.EnsureSpamTopic(ctx)
}

// ResetSpamTopic drops the cached spam-holding topic after the transport
// reported it gone; the next SpamTopic call re-validates it.
func (d *Directory) ResetSpamTopic() {
	d.setSpam(0)
}
