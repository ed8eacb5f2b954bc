// Package store persists access records. Stores are pure I/O: state rules
// live in the models and the service.
package store

import (
	"fmt"

	"relaygate/internal/access/models"
	"relaygate/pkg/platform/sentinel"
)

// ErrNotFound is returned when no record exists for the user.
var ErrNotFound = fmt.Errorf("user not found: %w", sentinel.ErrNotFound)

func clone(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	if u.ChallengeExpiresAt != nil {
		t := *u.ChallengeExpiresAt
		c.ChallengeExpiresAt = &t
	}
	return &c
}
