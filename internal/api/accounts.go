// ABOUTME: Account and session endpoints: register, login, logout, deletion
// ABOUTME: Registration issues a token immediately; deletion re-verifies the password

package api

import (
	"net/http"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/fossabot/derailed/internal/auth"
	"github.com/fossabot/derailed/internal/store"
)

const minPasswordLength = 8

// RegisterRequest is the JSON request body for POST /api/accounts.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is the JSON response for register and login.
type TokenResponse struct {
	Token     string `json:"token"`
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

// AccountResponse is the JSON response for GET /api/accounts/me.
type AccountResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// DeleteAccountRequest is the JSON request body for DELETE /api/accounts/me.
// The password is re-verified even though the request is token-authenticated.
type DeleteAccountRequest struct {
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(req.Password) < minPasswordLength {
		h.sendJSONError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hashing password", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	account := &store.Account{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.CreateAccount(r.Context(), account); err != nil {
		h.sendStoreError(w, err)
		return
	}

	token, sess, err := h.authority.Issue(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("issuing token after registration", "account_id", account.ID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("account registered", "account_id", account.ID)
	h.sendJSON(w, http.StatusCreated, TokenResponse{
		Token:     token,
		AccountID: account.ID,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.store.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		// Same response for unknown email and wrong password.
		h.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, account.PasswordHash)
	if err != nil {
		h.logger.Error("verifying password", "account_id", account.ID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		h.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, sess, err := h.authority.Issue(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("issuing token", "account_id", account.ID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.sendJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		AccountID: account.ID,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	if err := h.authority.Revoke(r.Context(), identity.SessionID); err != nil {
		h.logger.Error("revoking session", "session_id", identity.SessionID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSelf(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	account, err := h.store.GetAccount(r.Context(), identity.AccountID)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, AccountResponse{
		ID:        account.ID,
		Email:     account.Email,
		CreatedAt: account.CreatedAt.Format(time.RFC3339),
	})
}

// handleDeleteAccount deletes the caller's account. The password must be
// presented again, and verification bypasses the identity cache so a stolen
// but revoked token cannot destroy an account. Every session is revoked;
// the account's messages survive with a null author.
func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	var req DeleteAccountRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Fresh verification: the session must still exist in the store.
	token, err := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		h.sendJSONError(w, http.StatusUnauthorized, "missing or malformed authorization header")
		return
	}
	if _, err := h.authority.AuthenticateFresh(r.Context(), token); err != nil {
		h.sendJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	account, err := h.store.GetAccount(r.Context(), identity.AccountID)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	ok, err = auth.VerifyPassword(req.Password, account.PasswordHash)
	if err != nil {
		h.logger.Error("verifying password", "account_id", account.ID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		h.sendJSONError(w, http.StatusForbidden, "password verification failed")
		return
	}

	if err := h.authority.RevokeAccount(r.Context(), account.ID); err != nil {
		h.logger.Error("revoking sessions", "account_id", account.ID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.store.DeleteAccount(r.Context(), account.ID); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.logger.Info("account deleted", "account_id", account.ID)
	w.WriteHeader(http.StatusNoContent)
}
