// ABOUTME: HTTP API handlers for accounts, guilds, channels, and messages
// ABOUTME: Every committed write publishes a corresponding event to the bus

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fossabot/derailed/internal/pubsub"
	"github.com/fossabot/derailed/internal/session"
	"github.com/fossabot/derailed/internal/store"
)

// Handler serves the REST API. Writes go to the store first; the matching
// event is published to the bus only after the write has committed.
type Handler struct {
	store     store.Store
	authority *session.Authority
	bus       *pubsub.Bus
	logger    *slog.Logger
}

// NewHandler creates the API handler. Pass nil logger for default.
func NewHandler(s store.Store, authority *session.Authority, bus *pubsub.Bus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     s,
		authority: authority,
		bus:       bus,
		logger:    logger.With("component", "api"),
	}
}

// RegisterRoutes registers all API routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Accounts and sessions
	mux.HandleFunc("POST /api/accounts", h.handleRegister)
	mux.HandleFunc("POST /api/login", h.handleLogin)
	mux.HandleFunc("POST /api/logout", h.requireAuth(h.handleLogout))
	mux.HandleFunc("GET /api/accounts/me", h.requireAuth(h.handleGetSelf))
	mux.HandleFunc("DELETE /api/accounts/me", h.requireAuth(h.handleDeleteAccount))

	// Guilds and memberships
	mux.HandleFunc("POST /api/guilds", h.requireAuth(h.handleCreateGuild))
	mux.HandleFunc("GET /api/guilds", h.requireAuth(h.handleListGuilds))
	mux.HandleFunc("GET /api/guilds/{guildID}", h.requireAuth(h.handleGetGuild))
	mux.HandleFunc("PATCH /api/guilds/{guildID}", h.requireAuth(h.handleUpdateGuild))
	mux.HandleFunc("DELETE /api/guilds/{guildID}", h.requireAuth(h.handleDeleteGuild))
	mux.HandleFunc("POST /api/guilds/{guildID}/members", h.requireAuth(h.handleJoinGuild))
	mux.HandleFunc("DELETE /api/guilds/{guildID}/members/me", h.requireAuth(h.handleLeaveGuild))

	// Channels
	mux.HandleFunc("POST /api/guilds/{guildID}/channels", h.requireAuth(h.handleCreateChannel))
	mux.HandleFunc("GET /api/guilds/{guildID}/channels", h.requireAuth(h.handleListChannels))
	mux.HandleFunc("GET /api/channels/{channelID}", h.requireAuth(h.handleGetChannel))
	mux.HandleFunc("PATCH /api/channels/{channelID}", h.requireAuth(h.handleUpdateChannel))
	mux.HandleFunc("DELETE /api/channels/{channelID}", h.requireAuth(h.handleDeleteChannel))

	// Messages
	mux.HandleFunc("POST /api/channels/{channelID}/messages", h.requireAuth(h.handleCreateMessage))
	mux.HandleFunc("GET /api/channels/{channelID}/messages", h.requireAuth(h.handleListMessages))
	mux.HandleFunc("DELETE /api/channels/{channelID}/messages/{messageID}", h.requireAuth(h.handleDeleteMessage))
}

// publish sends an event to the bus after a committed write. Delivery is
// fire-and-forget; a publish failure is a caller bug or an exhausted
// sequence and never fails the HTTP request that caused it.
func (h *Handler) publish(ev *pubsub.Event, payload any) {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("marshaling event payload", "type", string(ev.Type), "error", err)
			return
		}
		ev.Data = data
	}
	if _, err := h.bus.Publish(ev); err != nil {
		h.logger.Error("publishing event", "type", string(ev.Type), "error", err)
	}
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (h *Handler) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendStoreError maps store errors onto HTTP statuses.
func (h *Handler) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicateEmail):
		h.sendJSONError(w, http.StatusConflict, "email already registered")
	default:
		h.logger.Error("store error", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// requireGuildMember loads the guild and checks membership, writing the
// error response itself on failure. Returns the guild on success.
func (h *Handler) requireGuildMember(w http.ResponseWriter, r *http.Request, guildID, accountID string) (*store.Guild, bool) {
	guild, err := h.store.GetGuild(r.Context(), guildID)
	if err != nil {
		h.sendStoreError(w, err)
		return nil, false
	}
	member, err := h.store.IsGuildMember(r.Context(), accountID, guildID)
	if err != nil {
		h.sendStoreError(w, err)
		return nil, false
	}
	if !member {
		h.sendJSONError(w, http.StatusForbidden, "not a member of this guild")
		return nil, false
	}
	return guild, true
}

// requireChannelMember resolves a channel and checks membership of its guild.
func (h *Handler) requireChannelMember(w http.ResponseWriter, r *http.Request, channelID, accountID string) (*store.Channel, bool) {
	channel, err := h.store.GetChannel(r.Context(), channelID)
	if err != nil {
		h.sendStoreError(w, err)
		return nil, false
	}
	member, err := h.store.IsGuildMember(r.Context(), accountID, channel.GuildID)
	if err != nil {
		h.sendStoreError(w, err)
		return nil, false
	}
	if !member {
		h.sendJSONError(w, http.StatusForbidden, "not a member of this guild")
		return nil, false
	}
	return channel, true
}

func requireIdentity(w http.ResponseWriter, r *http.Request, h *Handler) (session.Identity, bool) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		// requireAuth always runs first; this is a wiring bug.
		h.logger.Error("handler reached without identity", "path", r.URL.Path)
		h.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return session.Identity{}, false
	}
	return identity, true
}
