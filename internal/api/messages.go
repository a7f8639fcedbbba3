// ABOUTME: Message endpoints: create, list, delete
// ABOUTME: Message events are the hot path; each one lands on its channel's ordered stream

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fossabot/derailed/internal/pubsub"
	"github.com/fossabot/derailed/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxMessageLength    = 4000
)

// MessageRequest is the JSON request body for POST /api/channels/{id}/messages.
type MessageRequest struct {
	Content string `json:"content"`
}

// MessageResponse is the JSON representation of a message. AuthorID is null
// when the authoring account has been deleted.
type MessageResponse struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	AuthorID  *string `json:"author_id"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (h *Handler) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	channel, ok := h.requireChannelMember(w, r, r.PathValue("channelID"), identity.AccountID)
	if !ok {
		return
	}

	var req MessageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == "" {
		h.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxMessageLength {
		h.sendJSONError(w, http.StatusBadRequest, "content exceeds maximum length")
		return
	}

	authorID := identity.AccountID
	msg := &store.Message{
		ID:        uuid.New().String(),
		ChannelID: channel.ID,
		AuthorID:  &authorID,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateMessage(r.Context(), msg); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.publish(&pubsub.Event{Type: pubsub.EventMessageCreated, GuildID: channel.GuildID, ChannelID: channel.ID},
		messageResponse(msg))
	h.sendJSON(w, http.StatusCreated, messageResponse(msg))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	channel, ok := h.requireChannelMember(w, r, r.PathValue("channelID"), identity.AccountID)
	if !ok {
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxMessageLimit)
	}

	messages, err := h.store.ListChannelMessages(r.Context(), channel.ID, limit)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, messageResponse(m))
	}
	h.sendJSON(w, http.StatusOK, response)
}

// handleDeleteMessage deletes a message. Allowed for the message author and
// the guild owner.
func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h)
	if !ok {
		return
	}

	channel, ok := h.requireChannelMember(w, r, r.PathValue("channelID"), identity.AccountID)
	if !ok {
		return
	}

	msg, err := h.store.GetMessage(r.Context(), r.PathValue("messageID"))
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	if msg.ChannelID != channel.ID {
		h.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	guild, err := h.store.GetGuild(r.Context(), channel.GuildID)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	isAuthor := msg.AuthorID != nil && *msg.AuthorID == identity.AccountID
	if !isAuthor && guild.OwnerID != identity.AccountID {
		h.sendJSONError(w, http.StatusForbidden, "only the author or the guild owner can delete a message")
		return
	}

	if err := h.store.DeleteMessage(r.Context(), msg.ID); err != nil {
		h.sendStoreError(w, err)
		return
	}

	h.publish(&pubsub.Event{Type: pubsub.EventMessageDeleted, GuildID: channel.GuildID, ChannelID: channel.ID},
		messageResponse(msg))
	w.WriteHeader(http.StatusNoContent)
}
