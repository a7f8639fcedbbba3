// ABOUTME: Bearer token extraction from Authorization headers
// ABOUTME: Shared by the REST middleware and the gateway handshake

package auth

import (
	"errors"
	"strings"
)

// Bearer extraction errors
var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrInvalidAuthorization = errors.New("invalid authorization header format")
)

// ExtractBearerToken extracts a bearer token from an Authorization header
// value. The "Bearer " prefix is optional: raw tokens are accepted so the
// gateway handshake and the REST API share one code path.
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthorization
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrInvalidAuthorization
	}
	return token, nil
}
