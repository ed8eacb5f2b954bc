// Package store is the message mapping log: an append-only record of
// inbound <-> relayed message identities.
package store

import (
	"fmt"

	"relaygate/internal/mapping/models"
	"relaygate/pkg/platform/sentinel"
)

var (
	// ErrDuplicateActiveMapping means the source endpoint already has an
	// active mapping. Callers treat it as idempotent success.
	ErrDuplicateActiveMapping = fmt.Errorf("active mapping already exists: %w", sentinel.ErrConflict)
	ErrMappingNotFound        = fmt.Errorf("mapping not found: %w", sentinel.ErrNotFound)
	ErrAlreadyRetracted       = fmt.Errorf("mapping already retracted: %w", sentinel.ErrAlreadyUsed)
)

func clone(m *models.Mapping) *models.Mapping {
	c := *m
	if m.RetractedAt != nil {
		t := *m.RetractedAt
		c.RetractedAt = &t
	}
	return &c
}
