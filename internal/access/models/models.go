package models

import (
	"fmt"
	"strings"
	"time"

	"relaygate/pkg/domain"
	"relaygate/pkg/platform/sentinel"
)

// State is the access state of a user.
type State string

const (
	StateUnverified State = "unverified"
	StateVerified   State = "verified"
	StateBanned     State = "banned"
)

func (s State) IsValid() bool {
	switch s {
	case StateUnverified, StateVerified, StateBanned:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// ErrInvalidTransition is returned by Transition for moves the state machine
// does not allow.
var ErrInvalidTransition = fmt.Errorf("invalid access transition: %w", sentinel.ErrInvalidState)

// allowed lists every legal move. banned only leaves through an unban.
var allowed = map[State][]State{
	StateUnverified: {StateVerified, StateBanned},
	StateVerified:   {StateUnverified, StateBanned},
	StateBanned:     {StateUnverified},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BanReason records why a user was banned.
type BanReason string

const (
	BanReasonLockout  BanReason = "lockout"
	BanReasonFlood    BanReason = "flood"
	BanReasonOperator BanReason = "operator"
)

func (r BanReason) IsValid() bool {
	switch r {
	case BanReasonLockout, BanReasonFlood, BanReasonOperator:
		return true
	}
	return false
}

// Profile is the snapshot of platform profile fields shown to operators.
type Profile struct {
	Username     string
	FullName     string
	LanguageCode string
	IsPremium    bool
}

// User is the per-user access record. It is created on first contact and
// never hard-deleted.
type User struct {
	ID                 domain.UserID
	State              State
	Attempts           int
	ChallengeAnswer    string
	ChallengeExpiresAt *time.Time
	BanReason          BanReason
	BanNoticeMessageID domain.MessageID
	LockoutNotified    bool
	Profile            Profile
	FirstSeenAt        time.Time
	LastActivityAt     time.Time
	UpdatedAt          time.Time
}

// NewUser returns an unverified user first seen at now.
func NewUser(id domain.UserID, profile Profile, now time.Time) *User {
	return &User{
		ID:             id,
		State:          StateUnverified,
		Profile:        profile,
		FirstSeenAt:    now,
		LastActivityAt: now,
		UpdatedAt:      now,
	}
}

// NormalizeAnswer is applied to both issued answers and submissions.
func NormalizeAnswer(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// HasPendingChallenge reports whether a challenge was issued and not yet
// answered.
func (u *User) HasPendingChallenge() bool {
	return u.ChallengeAnswer != "" && u.ChallengeExpiresAt != nil
}

// ChallengeExpiredAt reports whether the pending challenge expired before now.
func (u *User) ChallengeExpiredAt(now time.Time) bool {
	return u.ChallengeExpiresAt != nil && now.After(*u.ChallengeExpiresAt)
}

// SetChallenge replaces any pending challenge and resets the attempt counter.
func (u *User) SetChallenge(answer string, expiresAt time.Time) {
	u.ChallengeAnswer = NormalizeAnswer(answer)
	u.ChallengeExpiresAt = &expiresAt
	u.Attempts = 0
}

func (u *User) ClearChallenge() {
	u.ChallengeAnswer = ""
	u.ChallengeExpiresAt = nil
}

// RemainingAttempts is how many mismatches are left before lockout.
func (u *User) RemainingAttempts(maxAttempts int) int {
	return max(maxAttempts-u.Attempts, 0)
}

// Transition moves the user to state to, or returns ErrInvalidTransition.
func (u *User) Transition(to State, now time.Time) error {
	if !CanTransition(u.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, u.State, to)
	}
	u.State = to
	u.UpdatedAt = now
	return nil
}

// Ban moves the user to banned and drops any pending challenge.
func (u *User) Ban(reason BanReason, now time.Time) error {
	if err := u.Transition(StateBanned, now); err != nil {
		return err
	}
	u.BanReason = reason
	u.ClearChallenge()
	return nil
}

// Unban is the only way out of banned: the counter is reset and the user has
// to pass a fresh challenge.
func (u *User) Unban(now time.Time) error {
	if err := u.Transition(StateUnverified, now); err != nil {
		return err
	}
	u.Attempts = 0
	u.BanReason = ""
	u.LockoutNotified = false
	u.ClearChallenge()
	return nil
}

// Touch refreshes the profile snapshot and last activity.
func (u *User) Touch(profile Profile, now time.Time) {
	u.Profile = profile
	u.LastActivityAt = now
	u.UpdatedAt = now
}
