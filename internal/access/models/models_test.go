package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaygate/pkg/platform/sentinel"
)

func TestTransitions(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("banned only leaves via unban", func(t *testing.T) {
		u := NewUser(7, Profile{}, now)
		require.NoError(t, u.Ban(BanReasonOperator, now))

		err := u.Transition(StateVerified, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, sentinel.ErrInvalidState))

		require.NoError(t, u.Unban(now))
		assert.Equal(t, StateUnverified, u.State)
		assert.Empty(t, u.BanReason)
	})

	t.Run("ban twice is rejected", func(t *testing.T) {
		u := NewUser(7, Profile{}, now)
		require.NoError(t, u.Ban(BanReasonFlood, now))
		assert.ErrorIs(t, u.Ban(BanReasonOperator, now), ErrInvalidTransition)
		assert.Equal(t, BanReasonFlood, u.BanReason)
	})

	t.Run("unban resets the counter and challenge", func(t *testing.T) {
		u := NewUser(7, Profile{}, now)
		u.SetChallenge("ab12", now.Add(time.Minute))
		u.Attempts = 3
		require.NoError(t, u.Ban(BanReasonLockout, now))
		require.NoError(t, u.Unban(now))
		assert.Zero(t, u.Attempts)
		assert.False(t, u.HasPendingChallenge())
	})
}

func TestChallengeFields(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	u := NewUser(1, Profile{}, now)
	assert.False(t, u.HasPendingChallenge())

	u.Attempts = 2
	u.SetChallenge(" ab12 ", now.Add(30*time.Second))
	assert.Equal(t, "AB12", u.ChallengeAnswer)
	assert.Zero(t, u.Attempts)
	assert.True(t, u.HasPendingChallenge())
	assert.False(t, u.ChallengeExpiredAt(now.Add(30*time.Second)))
	assert.True(t, u.ChallengeExpiredAt(now.Add(31*time.Second)))

	u.Attempts = 1
	assert.Equal(t, 2, u.RemainingAttempts(3))
	u.Attempts = 5
	assert.Zero(t, u.RemainingAttempts(3))
}
