// Package relay sequences gate -> classify -> route -> map for every inbound
// message, routes operator replies back, and carries the operator commands.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	accessmodels "relaygate/internal/access/models"
	accessservice "relaygate/internal/access/service"
	mappingmodels "relaygate/internal/mapping/models"
	"relaygate/internal/platform/metrics"
	"relaygate/internal/spam"
	"relaygate/internal/transport"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/audit"
	"relaygate/pkg/platform/keylock"
)

const tracerName = "relaygate/internal/relay"

// Access is the user state machine.
type Access interface {
	Touch(ctx context.Context, id domain.UserID, profile accessmodels.Profile) (*accessmodels.User, error)
	Get(ctx context.Context, id domain.UserID) (*accessmodels.User, error)
	State(ctx context.Context, id domain.UserID) (accessmodels.State, error)
	Issue(ctx context.Context, id domain.UserID) ([]byte, error)
	Verify(ctx context.Context, id domain.UserID, text string) (int, error)
	Ban(ctx context.Context, id domain.UserID, reason accessmodels.BanReason) (*accessmodels.User, error)
	Unban(ctx context.Context, id domain.UserID) (*accessmodels.User, error)
	SetVerified(ctx context.Context, id domain.UserID, verified bool) (*accessmodels.User, error)
	SetBanNotice(ctx context.Context, id domain.UserID, msg domain.MessageID) error
	MarkLockoutNotified(ctx context.Context, id domain.UserID) (bool, error)
	CheckFlood(ctx context.Context, id domain.UserID) (accessservice.FloodVerdict, error)
	CountByState(ctx context.Context) (map[accessmodels.State]int, error)
}

// Topics is the user <-> topic directory.
type Topics interface {
	Space() domain.ChatID
	Resolve(ctx context.Context, user domain.UserID, title string) (domain.TopicID, bool, error)
	Lookup(ctx context.Context, user domain.UserID) (domain.TopicID, error)
	ReverseResolve(ctx context.Context, topic domain.TopicID) (domain.UserID, error)
	Invalidate(ctx context.Context, user domain.UserID) error
	SpamTopic(ctx context.Context) (domain.TopicID, error)
	ResetSpamTopic()
	Count(ctx context.Context) (int, error)
}

// Mappings is the message mapping log.
type Mappings interface {
	Record(ctx context.Context, m *mappingmodels.Mapping) error
	Lookup(ctx context.Context, source domain.Endpoint) (*mappingmodels.Mapping, error)
	Resolve(ctx context.Context, e domain.Endpoint) (*mappingmodels.Mapping, error)
	Retract(ctx context.Context, e domain.Endpoint, at time.Time) (*mappingmodels.Mapping, error)
	Stats(ctx context.Context) (mappingmodels.Stats, error)
}

// Classifier never fails; see spam.Pipeline.
type Classifier interface {
	Classify(ctx context.Context, text string) spam.Verdict
}

type Service struct {
	access     Access
	topics     Topics
	mappings   Mappings
	classifier Classifier
	transport  transport.Transport
	locks      *keylock.Arena[domain.UserID]
	tracer     trace.Tracer
	logger     *slog.Logger
	auditor    *audit.Emitter
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditor(e *audit.Emitter) Option {
	return func(s *Service) { s.auditor = e }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer overrides the otel global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func New(access Access, topics Topics, mappings Mappings, classifier Classifier, tr transport.Transport, opts ...Option) (*Service, error) {
	switch {
	case access == nil:
		return nil, errors.New("access service is required")
	case topics == nil:
		return nil, errors.New("topic directory is required")
	case mappings == nil:
		return nil, errors.New("mapping store is required")
	case classifier == nil:
		return nil, errors.New("classifier is required")
	case tr == nil:
		return nil, errors.New("transport is required")
	}
	s := &Service{
		access:     access,
		topics:     topics,
		mappings:   mappings,
		classifier: classifier,
		transport:  tr,
		locks:      keylock.New[domain.UserID](),
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) startSpan(ctx context.Context, name string, user domain.UserID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int64("relay.user_id", user.Int64())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func userDest(user domain.UserID) transport.Destination {
	return transport.Destination{Chat: user.Chat()}
}

func (s *Service) topicDest(topic domain.TopicID) transport.Destination {
	return transport.Destination{Chat: s.topics.Space(), Topic: topic}
}

func (s *Service) topicEndpoint(msg domain.MessageID) domain.Endpoint {
	return domain.Endpoint{Side: domain.SideTopic, Chat: s.topics.Space(), Message: msg}
}

// notify sends a best-effort notice; failures are logged, not returned.
func (s *Service) notify(ctx context.Context, to transport.Destination, text string, replyTo domain.MessageID) domain.MessageID {
	id, err := s.transport.SendText(ctx, to, text, replyTo)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to send notice", "chat_id", to.Chat, "topic_id", to.Topic, "error", err)
		return 0
	}
	return id
}

// Gate is the read-only access query.
func (s *Service) Gate(ctx context.Context, user domain.UserID) (accessmodels.State, error) {
	return s.access.State(ctx, user)
}

// Stats gathers user, topic and mapping counts concurrently.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		users, err := s.access.CountByState(ctx)
		st.Users = users
		return err
	})
	g.Go(func() error {
		n, err := s.topics.Count(ctx)
		st.Topics = n
		return err
	})
	g.Go(func() error {
		m, err := s.mappings.Stats(ctx)
		st.Mappings = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &st, nil
}

// UserInfo returns the record of the user owning topic.
func (s *Service) UserInfo(ctx context.Context, topic domain.TopicID) (*accessmodels.User, error) {
	user, err := s.topics.ReverseResolve(ctx, topic)
	if err != nil {
		return nil, err
	}
	return s.access.Get(ctx, user)
}

// MessageInfo returns the active mapping that involves e.
func (s *Service) MessageInfo(ctx context.Context, e domain.Endpoint) (*mappingmodels.Mapping, error) {
	return s.mappings.Resolve(ctx, e)
}
