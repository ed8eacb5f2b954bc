// Package service implements the topic directory: a two-tier (cache, store)
// user <-> topic mapping with lazy creation through the transport.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"relaygate/internal/platform/metrics"
	"relaygate/internal/topic/models"
	"relaygate/internal/topic/store"
	"relaygate/internal/transport"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/audit"
	"relaygate/pkg/platform/keylock"
	"relaygate/pkg/platform/sentinel"
	"relaygate/pkg/requestcontext"
)

var (
	ErrSpamHoldingTopic    = fmt.Errorf("topic is the spam-holding topic: %w", sentinel.ErrInvalidState)
	ErrTopicUnknown        = fmt.Errorf("topic has no owner: %w", sentinel.ErrNotFound)
	ErrTopicCreationFailed = fmt.Errorf("topic creation failed: %w", sentinel.ErrUnavailable)
)

// Store is the persistence the directory needs.
type Store interface {
	GetByUser(ctx context.Context, user domain.UserID) (*models.Topic, error)
	GetByID(ctx context.Context, id domain.TopicID) (*models.Topic, error)
	GetSpamHolding(ctx context.Context) (*models.Topic, error)
	Create(ctx context.Context, t *models.Topic) (bool, error)
	Delete(ctx context.Context, id domain.TopicID) error
	Count(ctx context.Context) (int, error)
}

// Transport is the subset of transport.Transport the directory calls.
type Transport interface {
	CreateTopic(ctx context.Context, space domain.ChatID, title string) (domain.TopicID, error)
	SendText(ctx context.Context, to transport.Destination, text string, replyTo domain.MessageID) (domain.MessageID, error)
	DeleteMessage(ctx context.Context, at domain.Endpoint) error
}

type cacheEntry struct {
	topic    domain.TopicID
	lastUsed time.Time
}

// Directory resolves users to topics and back.
type Directory struct {
	store     Store
	transport Transport
	space     domain.ChatID
	locks     *keylock.Arena[domain.UserID]
	reverse   singleflight.Group

	mu      sync.RWMutex
	byUser  map[domain.UserID]*cacheEntry
	byTopic map[domain.TopicID]domain.UserID
	spam    domain.TopicID

	logger  *slog.Logger
	auditor *audit.Emitter
	metrics *metrics.Metrics
}

type Option func(*Directory)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) { d.logger = logger }
}

func WithAuditor(e *audit.Emitter) Option {
	return func(d *Directory) { d.auditor = e }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Directory) { d.metrics = m }
}

func New(st Store, tr Transport, space domain.ChatID, opts ...Option) (*Directory, error) {
	if st == nil {
		return nil, errors.New("topic store is required")
	}
	if tr == nil {
		return nil, errors.New("transport is required")
	}
	if space == 0 {
		return nil, errors.New("operator space id is required")
	}
	d := &Directory{
		store:     st,
		transport: tr,
		space:     space,
		locks:     keylock.New[domain.UserID](),
		byUser:    make(map[domain.UserID]*cacheEntry),
		byTopic:   make(map[domain.TopicID]domain.UserID),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Space is the operator space the directory creates topics in.
func (d *Directory) Space() domain.ChatID { return d.space }

func (d *Directory) cached(user domain.UserID, now time.Time) (domain.TopicID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byUser[user]
	if !ok {
		return 0, false
	}
	e.lastUsed = now
	return e.topic, true
}

func (d *Directory) remember(user domain.UserID, topic domain.TopicID, now time.Time) {
	d.mu.Lock()
	d.byUser[user] = &cacheEntry{topic: topic, lastUsed: now}
	d.byTopic[topic] = user
	n := len(d.byUser)
	d.mu.Unlock()
	d.metrics.SetTopicCacheEntries(n)
}

func (d *Directory) forget(user domain.UserID) {
	d.mu.Lock()
	if e, ok := d.byUser[user]; ok {
		delete(d.byTopic, e.topic)
		delete(d.byUser, user)
	}
	n := len(d.byUser)
	d.mu.Unlock()
	d.metrics.SetTopicCacheEntries(n)
}

// Resolve returns the user's topic: cache, then store, then a new topic on
// the transport. title is used only when a topic has to be created; created
// reports whether that happened.
func (d *Directory) Resolve(ctx context.Context, user domain.UserID, title string) (topic domain.TopicID, created bool, err error) {
	now := requestcontext.Now(ctx)
	if topic, ok := d.cached(user, now); ok {
		return topic, false, nil
	}

	unlock, err := d.locks.Lock(ctx, user)
	if err != nil {
		return 0, false, err
	}
	defer unlock()

	if topic, ok := d.cached(user, now); ok {
		return topic, false, nil
	}

	t, err := d.store.GetByUser(ctx, user)
	if err == nil {
		d.remember(user, t.ID, now)
		return t.ID, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, false, fmt.Errorf("resolve topic: %w", err)
	}

	if title == "" {
		title = models.UserTitle(user, "", "")
	}
	id, err := d.transport.CreateTopic(ctx, d.space, title)
	if err != nil {
		d.auditor.Log(ctx, audit.EventTopicCreationFailed, "user_id", user, "reason", err.Error())
		return 0, false, fmt.Errorf("%w: %w", ErrTopicCreationFailed, err)
	}

	inserted, err := d.store.Create(ctx, &models.Topic{ID: id, UserID: user, Title: title, CreatedAt: now})
	if err != nil {
		return 0, false, fmt.Errorf("resolve topic: %w", err)
	}
	if !inserted {
		// another writer got there first; its row wins
		t, err := d.store.GetByUser(ctx, user)
		if err != nil {
			return 0, false, fmt.Errorf("resolve topic: %w", err)
		}
		d.logger.WarnContext(ctx, "topic created concurrently, keeping stored one",
			"user_id", user, "topic_id", t.ID, "orphan_topic_id", id)
		d.remember(user, t.ID, now)
		return t.ID, false, nil
	}

	d.metrics.IncrementTopicsCreated()
	d.auditor.Log(ctx, audit.EventTopicCreated, "user_id", user, "topic_id", id)
	d.remember(user, id, now)
	return id, true, nil
}

// Lookup returns the user's topic without creating one. ErrTopicUnknown
// means the user has none yet.
func (d *Directory) Lookup(ctx context.Context, user domain.UserID) (domain.TopicID, error) {
	now := requestcontext.Now(ctx)
	if topic, ok := d.cached(user, now); ok {
		return topic, nil
	}
	t, err := d.store.GetByUser(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrTopicUnknown
	}
	if err != nil {
		return 0, fmt.Errorf("lookup topic: %w", err)
	}
	d.remember(user, t.ID, now)
	return t.ID, nil
}

// ReverseResolve returns the user owning topic. Concurrent misses for the
// same topic share one store read.
func (d *Directory) ReverseResolve(ctx context.Context, topic domain.TopicID) (domain.UserID, error) {
	d.mu.RLock()
	spam := d.spam
	user, ok := d.byTopic[topic]
	d.mu.RUnlock()
	if spam != 0 && topic == spam {
		return 0, ErrSpamHoldingTopic
	}
	if ok {
		return user, nil
	}

	v, err, _ := d.reverse.Do(strconv.FormatInt(int64(topic), 10), func() (any, error) {
		t, err := d.store.GetByID(ctx, topic)
		if errors.Is(err, store.ErrNotFound) {
			return domain.UserID(0), ErrTopicUnknown
		}
		if err != nil {
			return domain.UserID(0), fmt.Errorf("reverse resolve topic: %w", err)
		}
		if t.SpamHolding {
			return domain.UserID(0), ErrSpamHoldingTopic
		}
		if !t.HasOwner() {
			return domain.UserID(0), ErrTopicUnknown
		}
		d.remember(t.UserID, t.ID, requestcontext.Now(ctx))
		return t.UserID, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(domain.UserID), nil
}

// EvictStale drops cache entries idle for longer than maxIdle and returns how
// many were removed. The store is untouched.
func (d *Directory) EvictStale(ctx context.Context, maxIdle time.Duration) int {
	cutoff := requestcontext.Now(ctx).Add(-maxIdle)
	d.mu.Lock()
	evicted := 0
	for user, e := range d.byUser {
		if e.lastUsed.Before(cutoff) {
			delete(d.byTopic, e.topic)
			delete(d.byUser, user)
			evicted++
		}
	}
	n := len(d.byUser)
	d.mu.Unlock()
	d.metrics.SetTopicCacheEntries(n)
	if evicted > 0 {
		d.logger.InfoContext(ctx, "evicted idle topic cache entries", "count", evicted, "remaining", n)
	}
	return evicted
}

// CacheLen reports the number of cached users.
func (d *Directory) CacheLen() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser)
}

// Invalidate forgets the user's topic so the next Resolve creates a new one.
// It is used when the topic was deleted outside the relay.
func (d *Directory) Invalidate(ctx context.Context, user domain.UserID) error {
	unlock, err := d.locks.Lock(ctx, user)
	if err != nil {
		return err
	}
	defer unlock()

	d.forget(user)
	t, err := d.store.GetByUser(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalidate topic: %w", err)
	}
	if err := d.store.Delete(ctx, t.ID); err != nil {
		return fmt.Errorf("invalidate topic: %w", err)
	}
	d.auditor.Log(ctx, audit.EventTopicInvalidated, "user_id", user, "topic_id", t.ID)
	return nil
}

// Count reports stored topics, the spam-holding one included.
func (d *Directory) Count(ctx context.Context) (int, error) {
	return d.store.Count(ctx)
}
