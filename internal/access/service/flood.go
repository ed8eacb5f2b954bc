package service

import (
	"context"
	"errors"
	"fmt"

	"relaygate/internal/access/models"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/audit"
)

// FloodVerdict is the result of a flood check.
type FloodVerdict int

const (
	FloodOK FloodVerdict = iota
	// FloodWarned is returned once per window, when the count first exceeds
	// the warn threshold.
	FloodWarned
	// FloodBanned means the user exceeded the ban threshold and is now banned.
	FloodBanned
)

func (v FloodVerdict) String() string {
	switch v {
	case FloodWarned:
		return "warned"
	case FloodBanned:
		return "banned"
	}
	return "ok"
}

func floodKey(id domain.UserID) string {
	return "flood:" + id.String()
}

// CheckFlood counts one message in the user's sliding window. Without a flood
// counter every message passes.
func (s *Service) CheckFlood(ctx context.Context, id domain.UserID) (FloodVerdict, error) {
	if s.floods == nil || s.policy.FloodBan <= 0 {
		return FloodOK, nil
	}
	res, err := s.floods.Allow(ctx, floodKey(id), s.policy.FloodBan, s.policy.FloodWindow)
	if err != nil {
		return FloodOK, fmt.Errorf("flood check: %w", err)
	}
	if !res.Allowed {
		_, err := s.Ban(ctx, id, models.BanReasonFlood)
		if err != nil && !errors.Is(err, ErrAlreadyBanned) {
			return FloodOK, fmt.Errorf("flood ban: %w", err)
		}
		s.logger.WarnContext(ctx, "user banned for flooding", "user_id", id, "window", s.policy.FloodWindow)
		return FloodBanned, nil
	}
	if s.policy.FloodWarn > 0 && res.Count() == s.policy.FloodWarn+1 {
		s.auditor.Log(ctx, audit.EventFloodWarned, "user_id", id, "count", res.Count())
		return FloodWarned, nil
	}
	return FloodOK, nil
}

// resetFlood empties the user's window so an unbanned user starts clean.
func (s *Service) resetFlood(ctx context.Context, id domain.UserID) {
	if s.floods == nil {
		return
	}
	if err := s.floods.Reset(ctx, floodKey(id)); err != nil {
		s.logger.WarnContext(ctx, "failed to reset flood window", "user_id", id, "error", err)
	}
}
