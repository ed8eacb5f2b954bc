package relay

import (
	"errors"
	"fmt"

	accessmodels "relaygate/internal/access/models"
	mappingmodels "relaygate/internal/mapping/models"
	"relaygate/internal/spam"
	"relaygate/internal/transport"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/sentinel"
)

var (
	// ErrReplyNotRoutable means an operator wrote in a topic that has no
	// user behind it (the spam-holding topic or a stale one).
	ErrReplyNotRoutable = fmt.Errorf("reply not routable: %w", sentinel.ErrInvalidState)
	// ErrUserUnreachable means the user blocked the bot.
	ErrUserUnreachable = fmt.Errorf("user unreachable: %w", sentinel.ErrUnavailable)
)

// InboundMessage is a message a user sent to the bot privately.
type InboundMessage struct {
	User    domain.UserID
	Profile accessmodels.Profile
	Message domain.MessageID
	// Text is the message text or media caption; empty for bare media.
	Text string
	// ReplyTo is the message in the private chat the user replied to.
	ReplyTo domain.MessageID
	// Start marks the /start command.
	Start bool
}

func (m InboundMessage) Endpoint() domain.Endpoint {
	return domain.Endpoint{Side: domain.SideUser, Chat: m.User.Chat(), Message: m.Message}
}

// ReplyMessage is an operator message inside a user's topic.
type ReplyMessage struct {
	Space   domain.ChatID
	Topic   domain.TopicID
	Message domain.MessageID
	ReplyTo domain.MessageID
}

func (m ReplyMessage) Endpoint() domain.Endpoint {
	return domain.Endpoint{Side: domain.SideTopic, Chat: m.Space, Message: m.Message}
}

// EditMessage is an edit of a message that may have been relayed.
type EditMessage struct {
	At      domain.Endpoint
	Text    string
	Caption bool
}

// OutcomeKind is what happened to an inbound message.
type OutcomeKind string

const (
	OutcomeRejected         OutcomeKind = "rejected"
	OutcomeChallengeIssued  OutcomeKind = "challenge_issued"
	OutcomeChallengePending OutcomeKind = "challenge_pending"
	OutcomeChallengeFailed  OutcomeKind = "challenge_failed"
	OutcomeLockedOut        OutcomeKind = "locked_out"
	OutcomeVerified         OutcomeKind = "verified"
	OutcomeFloodBanned      OutcomeKind = "flood_banned"
	OutcomeRelayed          OutcomeKind = "relayed"
	OutcomeSpamRouted       OutcomeKind = "spam_routed"
	OutcomeDuplicate        OutcomeKind = "duplicate"
	OutcomeEdited           OutcomeKind = "edited"
)

// Outcome describes the result of a relay call for the command layer.
type Outcome struct {
	Kind OutcomeKind
	// Topic is the destination topic for relayed messages.
	Topic domain.TopicID
	// Relayed is the id of the copy.
	Relayed domain.MessageID
	Verdict *spam.Verdict
	// Remaining is the number of challenge attempts left.
	Remaining int
}

// RetractResult reports the transport outcome for both ends of a retracted
// mapping. Nil errors mean deleted by this call.
type RetractResult struct {
	Mapping   *mappingmodels.Mapping
	SourceErr error
	DestErr   error
}

// OK reports whether this call deleted both copies.
func (r *RetractResult) OK() bool {
	return r.SourceErr == nil && r.DestErr == nil
}

// AlreadyGone reports a partial retract whose only failures are copies that
// had been deleted before.
func (r *RetractResult) AlreadyGone() bool {
	if r.OK() {
		return false
	}
	gone := func(err error) bool { return err == nil || errors.Is(err, transport.ErrMessageNotFound) }
	return gone(r.SourceErr) && gone(r.DestErr)
}

// Stats summarizes the relay for /info and the admin API.
type Stats struct {
	Users    map[accessmodels.State]int `json:"users"`
	Topics   int                        `json:"topics"`
	Mappings mappingmodels.Stats        `json:"mappings"`
}
