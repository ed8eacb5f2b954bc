package relay

import (
	"context"
	"errors"
	"fmt"

	"relaygate/internal/transport"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/audit"
	"relaygate/pkg/requestcontext"
)

// Retract deletes both copies of the message at e, which may be either end
// of a mapping. mappingstore.ErrMappingNotFound and ErrAlreadyRetracted come
// back unchanged for the "cannot undo" notice. Transport failures, including
// a copy that was already deleted, do not fail the call; they are reported per
// end in the result and the mapping stays retracted.
func (s *Service) Retract(ctx context.Context, e domain.Endpoint) (res *RetractResult, err error) {
	m, err := s.mappings.Retract(ctx, e, requestcontext.Now(ctx))
	if err != nil {
		return nil, fmt.Errorf("retract: %w", err)
	}

	ctx, span := s.startSpan(ctx, "relay.retract", m.UserID)
	defer func() { endSpan(span, err) }()

	res = &RetractResult{
		Mapping:   m,
		SourceErr: s.transport.DeleteMessage(ctx, m.Source),
		DestErr:   s.transport.DeleteMessage(ctx, m.Dest),
	}
	if !res.OK() {
		s.logger.WarnContext(ctx, "retracted mapping with undeleted copies",
			"user_id", m.UserID, "mapping_id", m.ID, "source_error", res.SourceErr, "dest_error", res.DestErr)
	}
	s.auditor.Log(ctx, audit.EventMessageRetracted,
		"user_id", m.UserID, "direction", string(m.Direction))
	return res, nil
}

// deleteMessage removes a copy that may already be gone.
func (s *Service) deleteMessage(ctx context.Context, at domain.Endpoint) error {
	err := s.transport.DeleteMessage(ctx, at)
	if errors.Is(err, transport.ErrMessageNotFound) {
		return nil
	}
	return err
}
