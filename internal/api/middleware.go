// ABOUTME: HTTP middleware for bearer token authentication
// ABOUTME: Verifies tokens via the session authority and stores the identity in the request context

package api

import (
	"context"
	"net/http"

	"github.com/fossabot/derailed/internal/auth"
	"github.com/fossabot/derailed/internal/session"
)

type contextKey string

const identityKey contextKey = "identity"

// tokenVerifier verifies bearer tokens. *session.Authority satisfies it.
type tokenVerifier interface {
	Authenticate(ctx context.Context, token string) (session.Identity, error)
	AuthenticateFresh(ctx context.Context, token string) (session.Identity, error)
}

// requireAuth wraps a handler with bearer token verification. The request
// proceeds with the caller's identity in its context; requests without a
// valid token get 401.
//
// Verification uses the authority's cached path: a just-revoked session may
// be accepted for up to the cache TTL. Operations that must observe
// revocation immediately (the websocket handshake, account deletion)
// re-verify freshly.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			h.sendJSONError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		identity, err := h.authority.Authenticate(r.Context(), token)
		if err != nil {
			h.sendJSONError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next(w, r.WithContext(ctx))
	}
}

// identityFrom returns the authenticated identity stored by requireAuth.
func identityFrom(ctx context.Context) (session.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(session.Identity)
	return identity, ok
}
