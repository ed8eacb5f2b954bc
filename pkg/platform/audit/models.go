package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategorySecurity covers access decisions: lockouts, bans, flood control.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers relay bookkeeping useful for debugging:
	// topic lifecycle, retractions, spam routing.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	Action    string
	// Subject is the pseudonymized user id (see Pseudonymizer). Raw ids never
	// leave the process through the audit stream.
	Subject   string
	Reason    string
	RequestID string
	// ActorID is the operator who performed the action, when it was not the
	// user or the system.
	ActorID int64
}

type AuditEvent string

const (
	// Access events
	EventUserVerified     AuditEvent = "user_verified"
	EventUserUnverified   AuditEvent = "user_unverified"
	EventChallengeLockout AuditEvent = "challenge_lockout"
	EventUserBanned       AuditEvent = "user_banned"
	EventUserUnbanned     AuditEvent = "user_unbanned"
	EventFloodWarned      AuditEvent = "flood_warned"

	// Topic events
	EventTopicCreated        AuditEvent = "topic_created"
	EventTopicCreationFailed AuditEvent = "topic_creation_failed"
	EventTopicInvalidated    AuditEvent = "topic_invalidated"

	// Relay events
	EventMessageRetracted AuditEvent = "message_retracted"
	EventSpamRouted       AuditEvent = "spam_routed"
)

var securityEvents = map[AuditEvent]struct{}{
	EventUserVerified:     {},
	EventUserUnverified:   {},
	EventChallengeLockout: {},
	EventUserBanned:       {},
	EventUserUnbanned:     {},
	EventFloodWarned:      {},
}

// Category returns the category an action belongs to. Unknown actions are
// treated as operational.
func (e AuditEvent) Category() EventCategory {
	if _, ok := securityEvents[e]; ok {
		return CategorySecurity
	}
	return CategoryOperations
}
