package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"relaygate/pkg/requestcontext"
)

const requestIDHeader = "X-Request-ID"

// RequestContext stamps each request with an id and a single "now" so every
// timestamp written while serving it agrees.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		ctx = requestcontext.WithTime(ctx, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
