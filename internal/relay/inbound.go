package relay

import (
	"context"
	"errors"
	"fmt"

	accessmodels "relaygate/internal/access/models"
	accessservice "relaygate/internal/access/service"
	mappingmodels "relaygate/internal/mapping/models"
	mappingstore "relaygate/internal/mapping/store"
	"relaygate/internal/spam"
	topicmodels "relaygate/internal/topic/models"
	"relaygate/internal/transport"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/audit"
	"relaygate/pkg/requestcontext"
)

// RelayInbound runs a private user message through the gate, the classifier
// and the topic router. The user's relay lock is held throughout, so two
// messages from one user never interleave.
func (s *Service) RelayInbound(ctx context.Context, in InboundMessage) (out *Outcome, err error) {
	ctx, span := s.startSpan(ctx, "relay.inbound", in.User)
	defer func() { endSpan(span, err) }()

	unlock, err := s.locks.Lock(ctx, in.User)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := s.access.Touch(ctx, in.User, in.Profile)
	if err != nil {
		return nil, fmt.Errorf("relay inbound: %w", err)
	}

	switch u.State {
	case accessmodels.StateBanned:
		s.logger.InfoContext(ctx, "dropping message from banned user", "user_id", in.User, "message_id", in.Message)
		return &Outcome{Kind: OutcomeRejected}, nil
	case accessmodels.StateUnverified:
		return s.gate(ctx, in, u)
	}
	if in.Start {
		s.notify(ctx, userDest(in.User), noticeVerified, 0)
		return &Outcome{Kind: OutcomeVerified}, nil
	}
	return s.forward(ctx, in, u)
}

// gate drives the challenge for an unverified user. The message itself is
// never relayed: it is either a command or an answer.
func (s *Service) gate(ctx context.Context, in InboundMessage, u *accessmodels.User) (*Outcome, error) {
	now := requestcontext.Now(ctx)
	if !u.HasPendingChallenge() {
		return s.sendChallenge(ctx, in.User, noticeChallengeFirst)
	}
	if in.Start {
		if !u.ChallengeExpiredAt(now) {
			s.notify(ctx, userDest(in.User), noticeChallengePending, 0)
			return &Outcome{Kind: OutcomeChallengePending}, nil
		}
		return s.sendChallenge(ctx, in.User, noticeChallengeExpired)
	}
	return s.answer(ctx, u, in.Text, in.Message)
}

// answer checks a challenge answer and notifies the user of the result.
func (s *Service) answer(ctx context.Context, u *accessmodels.User, text string, msg domain.MessageID) (*Outcome, error) {
	remaining, err := s.access.Verify(ctx, u.ID, text)
	switch {
	case err == nil:
		s.notify(ctx, userDest(u.ID), noticeVerified, 0)
		// open the topic now so operators see the card before the first message
		if _, err := s.userTopic(ctx, u); err != nil {
			s.logger.WarnContext(ctx, "failed to open topic for verified user", "user_id", u.ID, "error", err)
		}
		return &Outcome{Kind: OutcomeVerified}, nil
	case errors.Is(err, accessservice.ErrChallengeExpired), errors.Is(err, accessservice.ErrNoPendingChallenge):
		return s.sendChallenge(ctx, u.ID, noticeChallengeExpired)
	case errors.Is(err, accessservice.ErrChallengeMismatch):
		s.notify(ctx, userDest(u.ID), noticeMismatch(remaining), msg)
		return &Outcome{Kind: OutcomeChallengeFailed, Remaining: remaining}, nil
	case errors.Is(err, accessservice.ErrLockedOut):
		first, err := s.access.MarkLockoutNotified(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		if first {
			s.notify(ctx, userDest(u.ID), noticeLockedOut, 0)
		}
		return &Outcome{Kind: OutcomeLockedOut}, nil
	case errors.Is(err, accessservice.ErrUserBanned):
		return &Outcome{Kind: OutcomeRejected}, nil
	}
	return nil, fmt.Errorf("verify challenge: %w", err)
}

func (s *Service) sendChallenge(ctx context.Context, user domain.UserID, caption string) (*Outcome, error) {
	image, err := s.access.Issue(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("issue challenge: %w", err)
	}
	if _, err := s.transport.SendPhoto(ctx, userDest(user), image, caption); err != nil {
		return nil, fmt.Errorf("send challenge: %w", err)
	}
	return &Outcome{Kind: OutcomeChallengeIssued}, nil
}

// forward handles a verified user's message: dedupe, flood check, classify,
// route. Redeliveries never count toward the flood window.
func (s *Service) forward(ctx context.Context, in InboundMessage, u *accessmodels.User) (*Outcome, error) {
	src := in.Endpoint()
	if m, err := s.mappings.Lookup(ctx, src); err == nil {
		s.logger.InfoContext(ctx, "duplicate delivery", "user_id", in.User, "message_id", in.Message)
		return &Outcome{Kind: OutcomeDuplicate, Relayed: m.Dest.Message}, nil
	} else if !errors.Is(err, mappingstore.ErrMappingNotFound) {
		return nil, fmt.Errorf("relay inbound: %w", err)
	}

	verdict, err := s.access.CheckFlood(ctx, in.User)
	if err != nil {
		return nil, err
	}
	switch verdict {
	case accessservice.FloodBanned:
		s.notify(ctx, userDest(in.User), noticeFloodBanned, 0)
		s.postBanNotice(ctx, in.User, noticeFloodOperator)
		return &Outcome{Kind: OutcomeFloodBanned}, nil
	case accessservice.FloodWarned:
		s.notify(ctx, userDest(in.User), noticeFloodWarning, in.Message)
	}

	v := s.classifier.Classify(ctx, in.Text)
	if v.IsSpam() {
		return s.routeSpam(ctx, in, v)
	}
	return s.routeHam(ctx, in, u, v)
}

// userTopic resolves the user's topic and posts the info card when it had to
// be created.
func (s *Service) userTopic(ctx context.Context, u *accessmodels.User) (domain.TopicID, error) {
	title := topicmodels.UserTitle(u.ID, u.Profile.FullName, u.Profile.Username)
	topic, created, err := s.topics.Resolve(ctx, u.ID, title)
	if err != nil {
		return 0, err
	}
	if created {
		s.notify(ctx, s.topicDest(topic), infoCard(u), 0)
	}
	return topic, nil
}

func (s *Service) routeHam(ctx context.Context, in InboundMessage, u *accessmodels.User, v spam.Verdict) (*Outcome, error) {
	src := in.Endpoint()
	topic, err := s.userTopic(ctx, u)
	if err != nil {
		s.metrics.ObserveRelayed(string(mappingmodels.DirectionToTopic), "failed")
		return nil, fmt.Errorf("relay inbound: %w", err)
	}
	replyTo := s.counterpartOf(ctx, domain.Endpoint{Side: domain.SideUser, Chat: in.User.Chat(), Message: in.ReplyTo})

	copied, err := s.transport.CopyMessage(ctx, s.topicDest(topic), src, replyTo)
	if errors.Is(err, transport.ErrTopicNotFound) {
		s.logger.WarnContext(ctx, "user topic is gone, recreating", "user_id", in.User, "topic_id", topic)
		if err := s.topics.Invalidate(ctx, in.User); err != nil {
			return nil, fmt.Errorf("relay inbound: %w", err)
		}
		if topic, err = s.userTopic(ctx, u); err != nil {
			s.metrics.ObserveRelayed(string(mappingmodels.DirectionToTopic), "failed")
			return nil, fmt.Errorf("relay inbound: %w", err)
		}
		// the replied-to copy went with the old topic
		copied, err = s.transport.CopyMessage(ctx, s.topicDest(topic), src, 0)
	}
	if err != nil {
		s.metrics.ObserveRelayed(string(mappingmodels.DirectionToTopic), "failed")
		return nil, fmt.Errorf("copy message: %w", err)
	}

	m := mappingmodels.New(in.User, src, s.topicEndpoint(copied), mappingmodels.DirectionToTopic, requestcontext.Now(ctx))
	if err := s.record(ctx, m); err != nil {
		return nil, err
	}
	s.metrics.ObserveRelayed(string(mappingmodels.DirectionToTopic), "relayed")
	return &Outcome{Kind: OutcomeRelayed, Topic: topic, Relayed: copied, Verdict: &v}, nil
}

func (s *Service) routeSpam(ctx context.Context, in InboundMessage, v spam.Verdict) (*Outcome, error) {
	src := in.Endpoint()
	topic, err := s.topics.SpamTopic(ctx)
	if err != nil {
		return nil, fmt.Errorf("route spam: %w", err)
	}
	copied, err := s.transport.CopyMessage(ctx, s.topicDest(topic), src, 0)
	if errors.Is(err, transport.ErrTopicNotFound) {
		s.logger.WarnContext(ctx, "spam topic is gone, recreating", "topic_id", topic)
		s.topics.ResetSpamTopic()
		if topic, err = s.topics.SpamTopic(ctx); err != nil {
			return nil, fmt.Errorf("route spam: %w", err)
		}
		copied, err = s.transport.CopyMessage(ctx, s.topicDest(topic), src, 0)
	}
	if err != nil {
		s.metrics.ObserveRelayed(string(mappingmodels.DirectionToTopic), "failed")
		return nil, fmt.Errorf("copy message: %w", err)
	}
	s.notify(ctx, s.topicDest(topic), spamReason(v.Reason), copied)

	m := mappingmodels.New(in.User, src, s.topicEndpoint(copied), mappingmodels.DirectionToTopic, requestcontext.Now(ctx))
	m.Spam = true
	m.Reason = v.Reason
	if err := s.record(ctx, m); err != nil {
		return nil, err
	}
	s.metrics.ObserveRelayed(string(mappingmodels.DirectionToTopic), "spam")
	s.auditor.Log(ctx, audit.EventSpamRouted, "user_id", in.User, "reason", v.Reason, "source", string(v.Source))
	return &Outcome{Kind: OutcomeSpamRouted, Topic: topic, Relayed: copied, Verdict: &v}, nil
}

// record stores a mapping. A concurrent duplicate already mapped the source,
// which is what the caller wanted.
func (s *Service) record(ctx context.Context, m *mappingmodels.Mapping) error {
	err := s.mappings.Record(ctx, m)
	if errors.Is(err, mappingstore.ErrDuplicateActiveMapping) {
		s.logger.InfoContext(ctx, "mapping already recorded", "user_id", m.UserID, "message_id", m.Source.Message)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record mapping: %w", err)
	}
	return nil
}

// counterpartOf maps a replied-to message across sides. Zero means no reply
// reference.
func (s *Service) counterpartOf(ctx context.Context, e domain.Endpoint) domain.MessageID {
	if e.Message == 0 {
		return 0
	}
	m, err := s.mappings.Resolve(ctx, e)
	if err != nil {
		return 0
	}
	cp, ok := m.Counterpart(e)
	if !ok {
		return 0
	}
	return cp.Message
}
