// Package handler exposes the relay's operator actions over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	accessmodels "relaygate/internal/access/models"
	"relaygate/internal/relay"
	"relaygate/internal/retention"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/sentinel"
	"relaygate/pkg/requestcontext"
)

// Relay is the subset of the relay the admin API drives.
type Relay interface {
	Stats(ctx context.Context) (*relay.Stats, error)
	Ban(ctx context.Context, user domain.UserID, reason accessmodels.BanReason) (*accessmodels.User, error)
	Unban(ctx context.Context, user domain.UserID) (*accessmodels.User, error)
}

// Sweeper runs the retention jobs on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) []retention.Report
}

type Handler struct {
	relay   Relay
	sweeper Sweeper
	logger  *slog.Logger
}

func New(r Relay, sweeper Sweeper, logger *slog.Logger) *Handler {
	return &Handler{relay: r, sweeper: sweeper, logger: logger}
}

// Register mounts the /v1 endpoints. Authentication is the caller's job.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/stats", h.HandleStats)
	r.Post("/v1/users/{id}/ban", h.HandleBan)
	r.Post("/v1/users/{id}/unban", h.HandleUnban)
	r.Post("/v1/retention/run", h.HandleRetention)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.relay.Stats(ctx)
	if err != nil {
		h.fail(ctx, w, "stats failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(st))
}

func (h *Handler) HandleBan(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, "ban", func(ctx context.Context, user domain.UserID) (*accessmodels.User, error) {
		return h.relay.Ban(ctx, user, accessmodels.BanReasonOperator)
	})
}

func (h *Handler) HandleUnban(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, "unban", h.relay.Unban)
}

func (h *Handler) moderate(w http.ResponseWriter, r *http.Request, action string, do func(context.Context, domain.UserID) (*accessmodels.User, error)) {
	ctx := r.Context()
	user, err := domain.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	u, err := do(ctx, user)
	if err != nil {
		h.fail(ctx, w, action+" failed", err, "user_id", user)
		return
	}
	h.logger.InfoContext(ctx, "admin "+action,
		"request_id", requestcontext.RequestID(ctx),
		"user_id", user,
		"actor", requestcontext.Actor(ctx),
	)
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) HandleRetention(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reports := h.sweeper.RunOnce(ctx)
	h.logger.InfoContext(ctx, "admin retention sweep",
		"request_id", requestcontext.RequestID(ctx),
		"jobs", len(reports),
	)
	writeJSON(w, http.StatusOK, RetentionResponse{Reports: reports})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, kv ...any) {
	status, code := statusFor(err)
	args := append([]any{"request_id", requestcontext.RequestID(ctx), "error", err}, kv...)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
		writeError(w, status, code, "")
		return
	}
	h.logger.WarnContext(ctx, msg, args...)
	writeError(w, status, code, err.Error())
}

// statusFor maps the shared sentinel kinds to HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrAlreadyUsed):
		return http.StatusConflict, "conflict"
	case errors.Is(err, sentinel.ErrInvalidState), errors.Is(err, sentinel.ErrExpired):
		return http.StatusUnprocessableEntity, "invalid_state"
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// writeError omits the description for internal errors.
func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorBody{Error: code, Description: description})
}
