package models

import (
	"time"

	"github.com/google/uuid"

	"relaygate/pkg/domain"
)

// Direction says which way a message was relayed.
type Direction string

const (
	DirectionToTopic Direction = "to_topic"
	DirectionToUser  Direction = "to_user"
)

func (d Direction) IsValid() bool {
	return d == DirectionToTopic || d == DirectionToUser
}

// Mapping links an inbound message to its relayed copy. RetractedAt nil
// means the mapping is active.
type Mapping struct {
	ID          uuid.UUID
	UserID      domain.UserID
	Source      domain.Endpoint
	Dest        domain.Endpoint
	Direction   Direction
	Spam        bool
	Reason      string
	CreatedAt   time.Time
	RetractedAt *time.Time
}

// New returns an active mapping with a fresh id.
func New(user domain.UserID, source, dest domain.Endpoint, dir Direction, now time.Time) *Mapping {
	return &Mapping{
		ID:        uuid.New(),
		UserID:    user,
		Source:    source,
		Dest:      dest,
		Direction: dir,
		CreatedAt: now,
	}
}

func (m *Mapping) IsActive() bool {
	return m.RetractedAt == nil
}

// Involves reports whether e is either end of the mapping.
func (m *Mapping) Involves(e domain.Endpoint) bool {
	return m.Source == e || m.Dest == e
}

// Counterpart returns the other end of the mapping from e.
func (m *Mapping) Counterpart(e domain.Endpoint) (domain.Endpoint, bool) {
	switch e {
	case m.Source:
		return m.Dest, true
	case m.Dest:
		return m.Source, true
	}
	return domain.Endpoint{}, false
}

// Stats summarizes the mapping log.
type Stats struct {
	Total  int
	Active int
	Spam   int
}
