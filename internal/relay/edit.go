package relay

import (
	"context"
	"errors"
	"fmt"

	accessmodels "relaygate/internal/access/models"
	mappingmodels "relaygate/internal/mapping/models"
	mappingstore "relaygate/internal/mapping/store"
	"relaygate/pkg/requestcontext"
)

// RelayEdit propagates an edit of a relayed message. Operator edits go
// straight to the user. User edits are classified again; when the verdict
// moves the message between the spam topic and the user's topic, the old
// copy is retracted and the message is relayed afresh.
func (s *Service) RelayEdit(ctx context.Context, ed EditMessage) (out *Outcome, err error) {
	m, err := s.mappings.Lookup(ctx, ed.At)
	if errors.Is(err, mappingstore.ErrMappingNotFound) {
		// challenge answers, commands and other unrelayed messages
		return &Outcome{Kind: OutcomeRejected}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relay edit: %w", err)
	}

	ctx, span := s.startSpan(ctx, "relay.edit", m.UserID)
	defer func() { endSpan(span, err) }()

	if m.Direction == mappingmodels.DirectionToUser {
		if err := s.transport.EditText(ctx, m.Dest, ed.Text, ed.Caption); err != nil {
			return nil, fmt.Errorf("edit copy: %w", err)
		}
		return &Outcome{Kind: OutcomeEdited, Relayed: m.Dest.Message}, nil
	}

	unlock, err := s.locks.Lock(ctx, m.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := s.access.Get(ctx, m.UserID)
	if err != nil {
		return nil, fmt.Errorf("relay edit: %w", err)
	}
	if u.State != accessmodels.StateVerified {
		return &Outcome{Kind: OutcomeRejected}, nil
	}

	v := s.classifier.Classify(ctx, ed.Text)
	if v.IsSpam() == m.Spam {
		if err := s.transport.EditText(ctx, m.Dest, ed.Text, ed.Caption); err != nil {
			return nil, fmt.Errorf("edit copy: %w", err)
		}
		return &Outcome{Kind: OutcomeEdited, Relayed: m.Dest.Message, Verdict: &v}, nil
	}

	if _, err := s.mappings.Retract(ctx, m.Source, requestcontext.Now(ctx)); err != nil {
		return nil, fmt.Errorf("relay edit: %w", err)
	}
	if err := s.deleteMessage(ctx, m.Dest); err != nil {
		s.logger.WarnContext(ctx, "failed to delete reclassified copy", "user_id", m.UserID, "message_id", m.Dest.Message, "error", err)
	}

	in := InboundMessage{User: m.UserID, Message: m.Source.Message, Text: ed.Text}
	if v.IsSpam() {
		s.notify(ctx, userDest(m.UserID), fmt.Sprintf(noticeRejectedEdit, v.Reason), m.Source.Message)
		return s.routeSpam(ctx, in, v)
	}
	return s.routeHam(ctx, in, u, v)
}
