// ABOUTME: Channel endpoints: create, list, get, update, delete
// ABOUTME: Management is owner-only; reads require guild membership

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fossabot/derailed/internal/pubsub"
	"github.com/fossabot/derailed/internal/store"
)

// ChannelRequest is the JSON request body for channel create and update.
type ChannelRequest struct {
	Name string `json:"name"`
}

// ChannelResponse is the JSON representation of a channel.
type ChannelResponse struct {
	ID        string `json:"id"`
	GuildID   string `json:"guild_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func channelResponse(c *store.Channel) ChannelResponse {
	return ChannelResponse{
		ID:        c.ID,
		GuildID:   c.GuildID,
		Name:      c.Name,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
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
		h.sendJSONError(w, http.StatusForbidden, "only the owner can create channels")
		return
	}

	var req ChannelRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	channel := &store.Channel{
		ID:        uuid.New().String(),
		GuildID:   guild.ID,
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateChannel(r.Context(), channel); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.publish(&pubsub.Event{Type: pubsub.EventChannelCreated, GuildID: guild.ID, ChannelID: channel.ID},
		channelResponse(channel))
	h.sendJSON(w, http.StatusCreated, channelResponse(channel))
}

func (h *Handler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	guild, ok := h.requireGuildMember(w, r, r.PathValue("guildID"), identity.AccountID)
	if !ok {
		return
	}

	channels, err := h.store.ListGuildChannels(r.Context(), guild.ID)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}

	response := make([]ChannelResponse, 0, len(channels))
	for _, c := range channels {
		response = append(response, channelResponse(c))
	}
	h.sendJSON(w, http.StatusOK, response)
}

func (h *Handler) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	channel, ok := h.requireChannelMember(w, r, r.PathValue("channelID"), identity.AccountID)
	if !ok {
		return
	}
	h.sendJSON(w, http.StatusOK, channelResponse(channel))
}

func (h *Handler) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	channel, err := h.store.GetChannel(r.Context(), r.PathValue("channelID"))
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	guild, err := h.store.GetGuild(r.Context(), channel.GuildID)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	if guild.OwnerID != identity.AccountID {
		h.sendJSONError(w, http.StatusForbidden, "only the owner can update channels")
		return
	}

	var req ChannelRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	channel.Name = strings.TrimSpace(req.Name)
	if err := h.store.UpdateChannel(r.Context(), channel); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.publish(&pubsub.Event{Type: pubsub.EventChannelUpdated, GuildID: channel.GuildID, ChannelID: channel.ID},
		channelResponse(channel))
	h.sendJSON(w, http.StatusOK, channelResponse(channel))
}

func (h *Handler) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	channel, err := h.store.GetChannel(r.Context(), r.PathValue("channelID"))
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	guild, err := h.store.GetGuild(r.Context(), channel.GuildID)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	if guild.OwnerID != identity.AccountID {
		h.sendJSONError(w, http.StatusForbidden, "only the owner can delete channels")
		return
	}

	if err := h.store.DeleteChannel(r.Context(), channel.ID); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.publish(&pubsub.Event{Type: pubsub.EventChannelDeleted, GuildID: channel.GuildID, ChannelID: channel.ID},
		channelResponse(channel))
	h.logger.Info("channel deleted", "channel_id", channel.ID, "guild_id", channel.GuildID)
	w.WriteHeader(http.StatusNoContent)
}
