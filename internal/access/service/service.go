// Package service owns the per-user access state machine: registration,
// challenge verification, flood control and operator ban/unban/verify.
// Every mutation for a user runs under that user's lock.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relaygate/internal/access/models"
	"relaygate/internal/access/store"
	"relaygate/internal/platform/config"
	"relaygate/internal/platform/metrics"
	ratelimitmodels "relaygate/internal/ratelimit/models"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/audit"
	"relaygate/pkg/platform/keylock"
	"relaygate/pkg/platform/sentinel"
	"relaygate/pkg/requestcontext"
)

var (
	ErrNoPendingChallenge = fmt.Errorf("no pending challenge: %w", sentinel.ErrNotFound)
	ErrChallengeExpired   = fmt.Errorf("challenge expired: %w", sentinel.ErrExpired)
	ErrChallengeMismatch  = fmt.Errorf("challenge answer mismatch: %w", sentinel.ErrInvalidState)
	ErrLockedOut          = fmt.Errorf("too many failed attempts: %w", sentinel.ErrInvalidState)
	ErrUserBanned         = fmt.Errorf("user is banned: %w", sentinel.ErrInvalidState)
	ErrAlreadyBanned      = fmt.Errorf("user already banned: %w", sentinel.ErrConflict)
	ErrNotBanned          = fmt.Errorf("user is not banned: %w", sentinel.ErrConflict)
	ErrUserNotFound       = store.ErrNotFound
)

// Store is the persistence the service needs.
type Store interface {
	Get(ctx context.Context, id domain.UserID) (*models.User, error)
	Save(ctx context.Context, u *models.User) error
	CountByState(ctx context.Context) (map[models.State]int, error)
}

// Renderer produces a challenge answer and the image that shows it.
type Renderer interface {
	Render() (answer string, image []byte, err error)
}

// FloodCounter is a sliding-window counter (ratelimit bucket store).
type FloodCounter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimitmodels.Result, error)
	Reset(ctx context.Context, key string) error
}

type Service struct {
	store    Store
	renderer Renderer
	floods   FloodCounter
	locks    *keylock.Arena[domain.UserID]
	policy   config.Access
	logger   *slog.Logger
	auditor  *audit.Emitter
	metrics  *metrics.Metrics
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

// WithPolicy sets challenge TTL, attempt limit and flood thresholds.
func WithPolicy(p config.Access) Option {
	return func(s *Service) { s.policy = p }
}

func WithRenderer(r Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

// WithFloodCounter enables flood control.
func WithFloodCounter(c FloodCounter) Option {
	return func(s *Service) { s.floods = c }
}

func New(st Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("access store is required")
	}
	svc := &Service{
		store:  st,
		locks:  keylock.New[domain.UserID](),
		policy: config.Default().Access,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.renderer == nil {
		return nil, errors.New("challenge renderer is required")
	}
	if svc.policy.MaxAttempts <= 0 {
		return nil, errors.New("max attempts must be positive")
	}
	return svc, nil
}

// MaxAttempts is the configured challenge attempt limit.
func (s *Service) MaxAttempts() int { return s.policy.MaxAttempts }

// mutate loads the user under its lock, applies fn and saves the result.
// fn returning an error aborts without saving.
func (s *Service) mutate(ctx context.Context, id domain.UserID, fn func(u *models.User) error) (*models.User, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		return u, err
	}
	if err := s.store.Save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Touch registers a user on first contact, or refreshes the profile and last
// activity of a known one.
func (s *Service) Touch(ctx context.Context, id domain.UserID, profile models.Profile) (*models.User, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := requestcontext.Now(ctx)
	u, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		u = models.NewUser(id, profile, now)
		s.logger.InfoContext(ctx, "new user", "user_id", id)
	case err != nil:
		return nil, fmt.Errorf("touch user: %w", err)
	default:
		u.Touch(profile, now)
	}
	if err := s.store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("touch user: %w", err)
	}
	return u, nil
}

// Get returns the stored record, or ErrUserNotFound.
func (s *Service) Get(ctx context.Context, id domain.UserID) (*models.User, error) {
	return s.store.Get(ctx, id)
}

// State is the read-only gate query. Unknown users are unverified.
func (s *Service) State(ctx context.Context, id domain.UserID) (models.State, error) {
	u, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.StateUnverified, nil
	}
	if err != nil {
		return "", fmt.Errorf("access state: %w", err)
	}
	return u.State, nil
}

// Ban moves a user to banned. Banning an unknown user registers it first so
// the ban survives its first contact.
func (s *Service) Ban(ctx context.Context, id domain.UserID, reason models.BanReason) (*models.User, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.banLocked(ctx, id, reason)
}

func (s *Service) banLocked(ctx context.Context, id domain.UserID, reason models.BanReason) (*models.User, error) {
	now := requestcontext.Now(ctx)
	u, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		u = models.NewUser(id, models.Profile{}, now)
	} else if err != nil {
		return nil, fmt.Errorf("ban user: %w", err)
	}
	if u.State == models.StateBanned {
		return u, ErrAlreadyBanned
	}
	from := u.State
	if err := u.Ban(reason, now); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("ban user: %w", err)
	}
	s.metrics.ObserveTransition(from.String(), u.State.String())
	s.auditor.Log(ctx, audit.EventUserBanned, "user_id", id, "reason", string(reason))
	return u, nil
}

// Unban returns a banned user to unverified with a reset counter. The
// returned record still carries the ban notice id so the caller can unpin it.
func (s *Service) Unban(ctx context.Context, id domain.UserID) (*models.User, error) {
	u, err := s.mutate(ctx, id, func(u *models.User) error {
		if u.State != models.StateBanned {
			return ErrNotBanned
		}
		return u.Unban(requestcontext.Now(ctx))
	})
	if err != nil {
		return u, fmt.Errorf("unban user: %w", err)
	}
	s.metrics.ObserveTransition(models.StateBanned.String(), u.State.String())
	s.auditor.Log(ctx, audit.EventUserUnbanned, "user_id", id)
	s.resetFlood(ctx, id)
	return u, nil
}

// SetVerified is the operator's manual verify/unverify. Banned users are
// refused.
func (s *Service) SetVerified(ctx context.Context, id domain.UserID, verified bool) (*models.User, error) {
	var from models.State
	u, err := s.mutate(ctx, id, func(u *models.User) error {
		from = u.State
		if u.State == models.StateBanned {
			return ErrUserBanned
		}
		to := models.StateUnverified
		if verified {
			to = models.StateVerified
		}
		if u.State == to {
			return nil
		}
		u.ClearChallenge()
		u.Attempts = 0
		return u.Transition(to, requestcontext.Now(ctx))
	})
	if err != nil {
		return u, fmt.Errorf("set verified: %w", err)
	}
	if from != u.State {
		s.metrics.ObserveTransition(from.String(), u.State.String())
	}
	event := audit.EventUserUnverified
	if verified {
		event = audit.EventUserVerified
	}
	s.auditor.Log(ctx, event, "user_id", id, "reason", "operator")
	return u, nil
}

// SetBanNotice remembers the pinned notice so unban can remove it.
func (s *Service) SetBanNotice(ctx context.Context, id domain.UserID, msg domain.MessageID) error {
	_, err := s.mutate(ctx, id, func(u *models.User) error {
		u.BanNoticeMessageID = msg
		return nil
	})
	if err != nil {
		return fmt.Errorf("set ban notice: %w", err)
	}
	return nil
}

// MarkLockoutNotified reports true the first time it is called after a
// lockout, so the lockout notice is sent once.
func (s *Service) MarkLockoutNotified(ctx context.Context, id domain.UserID) (bool, error) {
	first := false
	_, err := s.mutate(ctx, id, func(u *models.User) error {
		first = !u.LockoutNotified
		u.LockoutNotified = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark lockout notified: %w", err)
	}
	return first, nil
}

// CountByState reports user counts for stats.
func (s *Service) CountByState(ctx context.Context) (map[models.State]int, error) {
	return s.store.CountByState(ctx)
}
