// Package httpx holds the small HTTP helpers used by the operations server.
package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tillauth/pkg/slogx"
)

type Middleware func(http.Handler) http.Handler

// Chain wraps h with mws; the first middleware is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// BearerAuthorizer validates an opaque bearer token for a required scope.
type BearerAuthorizer interface {
	AuthorizeBearer(ctx context.Context, token, scope string) error
}

// RequireScope rejects requests whose bearer token is missing, unknown or
// lacks scope. The response never says which of those it was.
func RequireScope(a BearerAuthorizer, scope string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))

			if err := a.AuthorizeBearer(r.Context(), raw, scope); err != nil {
				slogx.FromContext(r.Context()).Debug("bearer rejected", "scope", scope, "err", err)
				writeBearerError(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeBearerError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
}
