// ABOUTME: Session authority issuing, verifying, and revoking bearer tokens
// ABOUTME: HS256 JWTs bound to server-side session records for revocation

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fossabot/derailed/internal/store"
)

// Authentication errors
var (
	// ErrMalformedToken means the token's structure or signature is invalid
	ErrMalformedToken = errors.New("malformed token")

	// ErrExpiredToken means the token's exp claim has passed
	ErrExpiredToken = errors.New("token expired")

	// ErrSessionRevoked means the referenced session no longer exists
	ErrSessionRevoked = errors.New("session revoked")
)

// DefaultTokenTTL is the default token lifetime.
const DefaultTokenTTL = 6 * 7 * 24 * time.Hour // 6 weeks

const (
	identityCacheTTL  = time.Minute
	identityCacheSize = 100_000
)

// SessionStore is the persistence collaborator the authority needs.
// *store.SQLiteStore satisfies it.
type SessionStore interface {
	CreateSession(ctx context.Context, session *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteAccountSessions(ctx context.Context, accountID string) error
}

// Identity is the authenticated result of a token check.
type Identity struct {
	AccountID string
	SessionID string
}

// Authority mints, verifies, and revokes sessions. Tokens are stateless
// HS256 JWTs carrying {sub: session_id, iat, exp} with second precision;
// validity is proven by signature and expiry. Session existence is checked
// through a short-lived cache on the hot path and directly against the
// store when the caller requires fresh revocation semantics.
type Authority struct {
	secret   []byte
	ttl      time.Duration
	sessions SessionStore
	cache    *cache
	logger   *slog.Logger

	// now is the authority's clock. Token times are compared against it
	// with no skew compensation.
	now func() time.Time
}

// NewAuthority creates a session authority signing with the given secret.
// A zero ttl selects DefaultTokenTTL. Pass nil logger for default.
func NewAuthority(secret []byte, ttl time.Duration, sessions SessionStore, logger *slog.Logger) *Authority {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authority{
		secret:   secret,
		ttl:      ttl,
		sessions: sessions,
		cache:    newCache(identityCacheTTL, identityCacheSize),
		logger:   logger.With("component", "session-authority"),
		now:      time.Now,
	}
}

// Issue mints a session for the account and returns a signed token bound to
// it. The session record is persisted before the token is signed so a token
// can never reference a session that was not durably created.
func (a *Authority) Issue(ctx context.Context, accountID string) (string, *store.Session, error) {
	now := a.now()
	session := &store.Session{
		ID:        uuid.New().String(),
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}

	if err := a.sessions.CreateSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("persisting session: %w", err)
	}

	claims := jwt.MapClaims{
		"sub": session.ID,
		"iat": now.Unix(),
		"exp": session.ExpiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}

	a.cache.put(session.ID, accountID)
	a.logger.Debug("issued session", "session_id", session.ID, "account_id", accountID)
	return token, session, nil
}

// Authenticate verifies a token's signature and expiry, then resolves the
// backing session to an identity. The session lookup may be served from a
// short-lived cache, so a revocation can lag here by up to the cache TTL;
// call AuthenticateFresh where revocation must be immediate.
func (a *Authority) Authenticate(ctx context.Context, token string) (Identity, error) {
	return a.authenticate(ctx, token, false)
}

// AuthenticateFresh is Authenticate with an unconditional session-existence
// check against the store, trading latency for immediate revocation.
func (a *Authority) AuthenticateFresh(ctx context.Context, token string) (Identity, error) {
	return a.authenticate(ctx, token, true)
}

func (a *Authority) authenticate(ctx context.Context, tokenString string, fresh bool) (Identity, error) {
	sessionID, err := a.verify(tokenString)
	if err != nil {
		return Identity{}, err
	}

	if !fresh {
		if accountID, ok := a.cache.get(sessionID); ok {
			return Identity{AccountID: accountID, SessionID: sessionID}, nil
		}
	}

	session, err := a.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		// Token reuse after revocation is security-relevant, not retryable.
		a.logger.Warn("token references revoked session", "session_id", sessionID)
		a.cache.delete(sessionID)
		return Identity{}, ErrSessionRevoked
	}
	if err != nil {
		return Identity{}, fmt.Errorf("looking up session: %w", err)
	}

	a.cache.put(session.ID, session.AccountID)
	return Identity{AccountID: session.AccountID, SessionID: session.ID}, nil
}

// verify checks signature and expiry locally and extracts the session ID.
func (a *Authority) verify(tokenString string) (string, error) {
	parser := jwt.NewParser(jwt.WithTimeFunc(a.now))
	token, err := parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !token.Valid {
		return "", ErrMalformedToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrMalformedToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrMalformedToken)
	}

	return sub, nil
}

// Revoke deletes the session record; outstanding tokens referencing it fail
// authentication with ErrSessionRevoked once checked. Revoking an already
// deleted session is a no-op.
func (a *Authority) Revoke(ctx context.Context, sessionID string) error {
	a.cache.delete(sessionID)
	err := a.sessions.DeleteSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	a.logger.Info("revoked session", "session_id", sessionID)
	return nil
}

// RevokeAccount deletes every session belonging to an account. Used on
// account deletion, where revocation must be immediate.
func (a *Authority) RevokeAccount(ctx context.Context, accountID string) error {
	a.cache.deleteAccount(accountID)
	if err := a.sessions.DeleteAccountSessions(ctx, accountID); err != nil {
		return fmt.Errorf("deleting account sessions: %w", err)
	}
	a.logger.Info("revoked all sessions", "account_id", accountID)
	return nil
}

// Close releases the authority's background resources.
func (a *Authority) Close() {
	a.cache.close()
}
