package service

import (
	"context"
	"errors"
	"fmt"

	"relaygate/internal/access/models"
	"relaygate/internal/access/store"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/audit"
	"relaygate/pkg/requestcontext"
)

// Issue renders a new challenge for the user, replacing any pending one, and
// returns the image to send.
func (s *Service) Issue(ctx context.Context, id domain.UserID) ([]byte, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := requestcontext.Now(ctx)
	u, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		u = models.NewUser(id, models.Profile{}, now)
	case err != nil:
		return nil, fmt.Errorf("issue challenge: %w", err)
	}
	if u.State == models.StateBanned {
		return nil, ErrUserBanned
	}

	answer, image, err := s.renderer.Render()
	if err != nil {
		return nil, fmt.Errorf("render challenge: %w", err)
	}
	u.SetChallenge(answer, now.Add(s.policy.ChallengeTTL))
	u.UpdatedAt = now
	if err := s.store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("issue challenge: %w", err)
	}
	s.metrics.ObserveChallenge("issued")
	return image, nil
}

// Verify checks a submitted answer. On a mismatch the returned count is the
// number of attempts left; reaching the limit bans the user with reason
// lockout and returns ErrLockedOut.
func (s *Service) Verify(ctx context.Context, id domain.UserID, text string) (int, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := requestcontext.Now(ctx)
	u, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrNoPendingChallenge
	}
	if err != nil {
		return 0, fmt.Errorf("verify challenge: %w", err)
	}

	switch {
	case u.State == models.StateBanned:
		return 0, ErrUserBanned
	case u.State == models.StateVerified:
		return 0, nil
	case !u.HasPendingChallenge():
		return 0, ErrNoPendingChallenge
	case u.ChallengeExpiredAt(now):
		s.metrics.ObserveChallenge("expired")
		return 0, ErrChallengeExpired
	}

	if models.NormalizeAnswer(text) != u.ChallengeAnswer {
		u.Attempts++
		u.UpdatedAt = now
		if u.Attempts >= s.policy.MaxAttempts {
			if err := u.Ban(models.BanReasonLockout, now); err != nil {
				return 0, err
			}
			if err := s.store.Save(ctx, u); err != nil {
				return 0, fmt.Errorf("verify challenge: %w", err)
			}
			s.metrics.ObserveChallenge("locked_out")
			s.metrics.ObserveTransition(models.StateUnverified.String(), models.StateBanned.String())
			s.auditor.Log(ctx, audit.EventChallengeLockout, "user_id", id, "reason", string(models.BanReasonLockout), "attempts", u.Attempts)
			return 0, ErrLockedOut
		}
		if err := s.store.Save(ctx, u); err != nil {
			return 0, fmt.Errorf("verify challenge: %w", err)
		}
		s.metrics.ObserveChallenge("mismatch")
		return u.RemainingAttempts(s.policy.MaxAttempts), ErrChallengeMismatch
	}

	u.ClearChallenge()
	u.Attempts = 0
	if err := u.Transition(models.StateVerified, now); err != nil {
		return 0, err
	}
	if err := s.store.Save(ctx, u); err != nil {
		return 0, fmt.Errorf("verify challenge: %w", err)
	}
	s.metrics.ObserveChallenge("verified")
	s.metrics.ObserveTransition(models.StateUnverified.String(), models.StateVerified.String())
	s.auditor.Log(ctx, audit.EventUserVerified, "user_id", id)
	return 0, nil
}
