package relay

import (
	"context"
	"errors"
	"fmt"

	accessmodels "relaygate/internal/access/models"
	accessservice "relaygate/internal/access/service"
	topicservice "relaygate/internal/topic/service"
	"relaygate/internal/transport"
	"relaygate/pkg/domain"
)

// Ban bans a user and pins a notice in their topic, if they have one.
// Banning a banned user returns accessservice.ErrAlreadyBanned.
func (s *Service) Ban(ctx context.Context, user domain.UserID, reason accessmodels.BanReason) (*accessmodels.User, error) {
	u, err := s.access.Ban(ctx, user, reason)
	if err != nil {
		return u, err
	}
	text := noticeOperatorBanned
	if reason == accessmodels.BanReasonFlood {
		text = noticeFloodOperator
	}
	if id := s.postBanNotice(ctx, user, text); id != 0 {
		u.BanNoticeMessageID = id
	}
	return u, nil
}

// postBanNotice posts and pins text in the user's topic and remembers it for
// unban. Users without a topic get nothing.
func (s *Service) postBanNotice(ctx context.Context, user domain.UserID, text string) domain.MessageID {
	topic, err := s.topics.Lookup(ctx, user)
	if err != nil {
		if !errors.Is(err, topicservice.ErrTopicUnknown) {
			s.logger.WarnContext(ctx, "failed to look up topic for ban notice", "user_id", user, "error", err)
		}
		return 0
	}
	id := s.notify(ctx, s.topicDest(topic), text, 0)
	if id == 0 {
		return 0
	}
	if err := s.transport.Pin(ctx, s.topicEndpoint(id)); err != nil {
		s.logger.WarnContext(ctx, "failed to pin ban notice", "user_id", user, "message_id", id, "error", err)
	}
	if err := s.access.SetBanNotice(ctx, user, id); err != nil {
		s.logger.WarnContext(ctx, "failed to store ban notice", "user_id", user, "error", err)
	}
	return id
}

// Unban returns a user to unverified and unpins the ban notice.
func (s *Service) Unban(ctx context.Context, user domain.UserID) (*accessmodels.User, error) {
	u, err := s.access.Unban(ctx, user)
	if err != nil {
		return u, err
	}
	if u.BanNoticeMessageID == 0 {
		return u, nil
	}
	err = s.transport.Unpin(ctx, s.topicEndpoint(u.BanNoticeMessageID))
	if err != nil && !errors.Is(err, transport.ErrMessageNotFound) {
		s.logger.WarnContext(ctx, "failed to unpin ban notice", "user_id", user, "message_id", u.BanNoticeMessageID, "error", err)
	}
	if err := s.access.SetBanNotice(ctx, user, 0); err != nil {
		return u, err
	}
	u.BanNoticeMessageID = 0
	return u, nil
}

// Verify is the operator's manual verify or unverify; the user is told.
func (s *Service) Verify(ctx context.Context, user domain.UserID, verified bool) (*accessmodels.User, error) {
	u, err := s.access.SetVerified(ctx, user, verified)
	if err != nil {
		return u, err
	}
	text := noticeManualUnverified
	if verified {
		text = noticeManualVerified
	}
	s.notify(ctx, userDest(user), text, 0)
	return u, nil
}

// IssueChallenge sends the user a fresh challenge.
func (s *Service) IssueChallenge(ctx context.Context, user domain.UserID) (*Outcome, error) {
	unlock, err := s.locks.Lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.sendChallenge(ctx, user, noticeChallengeFirst)
}

// VerifyChallenge checks an answer outside the inbound path.
func (s *Service) VerifyChallenge(ctx context.Context, user domain.UserID, text string) (*Outcome, error) {
	unlock, err := s.locks.Lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := s.access.Get(ctx, user)
	if errors.Is(err, accessservice.ErrUserNotFound) {
		return nil, accessservice.ErrNoPendingChallenge
	}
	if err != nil {
		return nil, err
	}
	return s.answer(ctx, u, text, 0)
}

// MirrorReaction sets emoji on the other end of the mapping involving at. An
// empty emoji clears the reaction.
func (s *Service) MirrorReaction(ctx context.Context, at domain.Endpoint, emoji string) error {
	m, err := s.mappings.Resolve(ctx, at)
	if err != nil {
		return fmt.Errorf("mirror reaction: %w", err)
	}
	cp, ok := m.Counterpart(at)
	if !ok {
		return nil
	}
	if err := s.transport.SetReaction(ctx, cp, emoji); err != nil {
		return fmt.Errorf("mirror reaction: %w", err)
	}
	return nil
}
