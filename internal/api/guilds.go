// ABOUTME: Guild and membership endpoints
// ABOUTME: Owner-only management operations, member-visible reads, events on every change

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fossabot/derailed/internal/pubsub"
	"github.com/fossabot/derailed/internal/store"
)

// GuildRequest is the JSON request body for guild create and update.
type GuildRequest struct {
	Name string `json:"name"`
}

// GuildResponse is the JSON representation of a guild.
type GuildResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id"`
	CreatedAt string `json:"created_at"`
}

// MemberPayload is the event payload for membership changes.
type MemberPayload struct {
	GuildID   string `json:"guild_id"`
	AccountID string `json:"account_id"`
}

func guildResponse(g *store.Guild) GuildResponse {
	return GuildResponse{
		ID:        g.ID,
		Name:      g.Name,
		OwnerID:   g.OwnerID,
		CreatedAt: g.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) handleCreateGuild(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	var req GuildRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	guild := &store.Guild{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(req.Name),
		OwnerID:   identity.AccountID,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateGuild(r.Context(), guild); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.logger.Info("guild created", "guild_id", guild.ID, "owner_id", guild.OwnerID)
	h.sendJSON(w, http.StatusCreated, guildResponse(guild))
}

func (h *Handler) handleListGuilds(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	guilds, err := h.store.ListAccountGuilds(r.Context(), identity.AccountID)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}

	response := make([]GuildResponse, 0, len(guilds))
	for _, g := range guilds {
		response = append(response, guildResponse(g))
	}
	h.sendJSON(w, http.StatusOK, response)
}

func (h *Handler) handleGetGuild(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	guild, ok := h.requireGuildMember(w, r, r.PathValue("guildID"), identity.AccountID)
	if !ok {
		return
	}
	h.sendJSON(w, http.StatusOK, guildResponse(guild))
}

func (h *Handler) handleUpdateGuild(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	guild, err := h.store.GetGuild(r.Context(), r.PathValue("guildID"))
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	if guild.OwnerID != identity.AccountID {
		h.sendJSONError(w, http.StatusForbidden, "only the owner can update a guild")
		return
	}

	var req GuildRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	guild.Name = strings.TrimSpace(req.Name)
	if err := h.store.UpdateGuild(r.Context(), guild); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.publish(&pubsub.Event{Type: pubsub.EventGuildUpdated, GuildID: guild.ID}, guildResponse(guild))
	h.sendJSON(w, http.StatusOK, guildResponse(guild))
}

func (h *Handler) handleDeleteGuild(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	guild, err := h.store.GetGuild(r.Context(), r.PathValue("guildID"))
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	if guild.OwnerID != identity.AccountID {
		h.sendJSONError(w, http.StatusForbidden, "only the owner can delete a guild")
		return
	}

	if err := h.store.DeleteGuild(r.Context(), guild.ID); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.publish(&pubsub.Event{Type: pubsub.EventGuildDeleted, GuildID: guild.ID}, guildResponse(guild))
	h.logger.Info("guild deleted", "guild_id", guild.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleJoinGuild(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	guildID := r.PathValue("guildID")
	if _, err := h.store.GetGuild(r.Context(), guildID); err != nil {
		h.sendStoreError(w, err)
		return
	}
	if err := h.store.AddGuildMember(r.Context(), guildID, identity.AccountID); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.publish(&pubsub.Event{Type: pubsub.EventGuildMemberAdded, GuildID: guildID},
		MemberPayload{GuildID: guildID, AccountID: identity.AccountID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLeaveGuild(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	guild, err := h.store.GetGuild(r.Context(), r.PathValue("guildID"))
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	if guild.OwnerID == identity.AccountID {
		h.sendJSONError(w, http.StatusConflict, "the owner cannot leave; delete the guild instead")
		return
	}

	if err := h.store.RemoveGuildMember(r.Context(), guild.ID, identity.AccountID); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.publish(&pubsub.Event{Type: pubsub.EventGuildMemberRemoved, GuildID: guild.ID},
		MemberPayload{GuildID: guild.ID, AccountID: identity.AccountID})
	w.WriteHeader(http.StatusNoContent)
}
