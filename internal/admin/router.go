// Package admin assembles the ops HTTP surface: health, metrics and the
// authenticated /v1 API.
package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaygate/internal/admin/handler"
	"relaygate/internal/admin/middleware"
)

// NewRouter mounts /healthz and /metrics unauthenticated and everything
// under /v1 behind the bearer token check. Without a validator /v1 is not
// served at all.
func NewRouter(h *handler.Handler, v *middleware.Validator, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestContext)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if v == nil {
		return r
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(v, logger))
		h.Register(r)
	})
	return r
}
