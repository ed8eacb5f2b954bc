package relay

import (
	"context"
	"errors"
	"fmt"

	mappingmodels "relaygate/internal/mapping/models"
	mappingstore "relaygate/internal/mapping/store"
	topicservice "relaygate/internal/topic/service"
	"relaygate/internal/transport"
	"relaygate/pkg/domain"
	"relaygate/pkg/requestcontext"
)

// RelayReply copies an operator message from a user's topic into that user's
// private chat. Replies are never classified.
func (s *Service) RelayReply(ctx context.Context, r ReplyMessage) (out *Outcome, err error) {
	user, err := s.topics.ReverseResolve(ctx, r.Topic)
	if errors.Is(err, topicservice.ErrSpamHoldingTopic) || errors.Is(err, topicservice.ErrTopicUnknown) {
		s.notify(ctx, s.topicDest(r.Topic), noticeNotRoutable, r.Message)
		return nil, fmt.Errorf("%w: topic %d", ErrReplyNotRoutable, r.Topic)
	}
	if err != nil {
		return nil, fmt.Errorf("relay reply: %w", err)
	}

	ctx, span := s.startSpan(ctx, "relay.reply", user)
	defer func() { endSpan(span, err) }()

	unlock, err := s.locks.Lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer unlock()

	src := r.Endpoint()
	if m, err := s.mappings.Lookup(ctx, src); err == nil {
		return &Outcome{Kind: OutcomeDuplicate, Topic: r.Topic, Relayed: m.Dest.Message}, nil
	} else if !errors.Is(err, mappingstore.ErrMappingNotFound) {
		return nil, fmt.Errorf("relay reply: %w", err)
	}

	replyTo := s.counterpartOf(ctx, s.topicEndpoint(r.ReplyTo))
	copied, err := s.transport.CopyMessage(ctx, userDest(user), src, replyTo)
	if errors.Is(err, transport.ErrForbidden) {
		s.metrics.ObserveRelayed(string(mappingmodels.DirectionToUser), "unreachable")
		s.notify(ctx, s.topicDest(r.Topic), noticeUserBlockedBot, r.Message)
		return nil, fmt.Errorf("%w: user %d", ErrUserUnreachable, user)
	}
	if err != nil {
		s.metrics.ObserveRelayed(string(mappingmodels.DirectionToUser), "failed")
		return nil, fmt.Errorf("copy message: %w", err)
	}

	dest := domain.Endpoint{Side: domain.SideUser, Chat: user.Chat(), Message: copied}
	m := mappingmodels.New(user, src, dest, mappingmodels.DirectionToUser, requestcontext.Now(ctx))
	if err := s.record(ctx, m); err != nil {
		return nil, err
	}
	s.metrics.ObserveRelayed(string(mappingmodels.DirectionToUser), "relayed")
	return &Outcome{Kind: OutcomeRelayed, Topic: r.Topic, Relayed: copied}, nil
}
