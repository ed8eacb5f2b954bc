package handler

import (
	"time"

	accessmodels "relaygate/internal/access/models"
	"relaygate/internal/relay"
	"relaygate/internal/retention"
)

// UserResponse is the HTTP response DTO for a user's access record.
type UserResponse struct {
	ID             int64     `json:"id"`
	State          string    `json:"state"`
	BanReason      string    `json:"ban_reason,omitempty"`
	Username       string    `json:"username,omitempty"`
	FullName       string    `json:"full_name,omitempty"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func toUserResponse(u *accessmodels.User) *UserResponse {
	return &UserResponse{
		ID:             u.ID.Int64(),
		State:          u.State.String(),
		BanReason:      string(u.BanReason),
		Username:       u.Profile.Username,
		FullName:       u.Profile.FullName,
		FirstSeenAt:    u.FirstSeenAt,
		LastActivityAt: u.LastActivityAt,
	}
}

type MappingCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Spam   int `json:"spam"`
}

// StatsResponse is the HTTP response DTO for relay counters.
type StatsResponse struct {
	Users    map[string]int `json:"users"`
	Topics   int            `json:"topics"`
	Mappings MappingCounts  `json:"mappings"`
}

func toStatsResponse(st *relay.Stats) *StatsResponse {
	users := make(map[string]int, len(st.Users))
	for state, n := range st.Users {
		users[state.String()] = n
	}
	return &StatsResponse{
		Users:  users,
		Topics: st.Topics,
		Mappings: MappingCounts{
			Total:  st.Mappings.Total,
			Active: st.Mappings.Active,
			Spam:   st.Mappings.Spam,
		},
	}
}

// RetentionResponse wraps the per-job reports of a manual sweep.
type RetentionResponse struct {
	Reports []retention.Report `json:"reports"`
}
