package rest

import (
	"net/http"

	"github.com/google/uuid"

	appctx "github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/context"
)

const requestIDHeader = "X-Request-Id"

// RequestID injects a request id into context and response header. An id
// supplied by the caller is kept so traces can span the reverse proxy.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, rid)

		ctx := appctx.WithRequestID(r.Context(), rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
