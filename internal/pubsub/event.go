// ABOUTME: Domain event model for real-time distribution
// ABOUTME: Events carry guild/channel scope and a per-stream sequence number

package pubsub

import "encoding/json"

// EventType identifies the kind of domain change an event describes.
type EventType string

// Domain event types published by the CRUD layer, plus the synthetic gap
// marker injected when a slow consumer overflowed its delivery queue.
const (
	EventMessageCreated     EventType = "message_created"
	EventMessageDeleted     EventType = "message_deleted"
	EventChannelCreated     EventType = "channel_created"
	EventChannelUpdated     EventType = "channel_updated"
	EventChannelDeleted     EventType = "channel_deleted"
	EventGuildUpdated       EventType = "guild_updated"
	EventGuildDeleted       EventType = "guild_deleted"
	EventGuildMemberAdded   EventType = "guild_member_added"
	EventGuildMemberRemoved EventType = "guild_member_removed"
	EventGap                EventType = "gap"
)

// Event is a single immutable domain event. GuildID is always set for
// domain events; ChannelID is set for channel-scoped ones. Sequence is
// assigned by the Bus at publish time and is strictly increasing within a
// stream (channel, or guild for guild-level events).
//
// Gap events are synthetic and carry no scope or sequence: they mean "this
// connection lost events, resynchronize".
type Event struct {
	Type      EventType       `json:"type"`
	GuildID   string          `json:"guild_id,omitempty"`
	ChannelID string          `json:"channel_id,omitempty"`
	Sequence  uint64          `json:"sequence,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StreamKey returns the ordering stream this event belongs to: the channel
// for channel-scoped events, otherwise the guild.
func (e *Event) StreamKey() string {
	if e.ChannelID != "" {
		return e.ChannelID
	}
	return e.GuildID
}

// ScopeKind distinguishes guild from channel subscription scopes.
type ScopeKind int

const (
	ScopeGuild ScopeKind = iota
	ScopeChannel
)

// Scope is a subscription target: a whole guild (implying all its channels)
// or a single channel.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// GuildScope returns a scope covering a guild and all its channels.
func GuildScope(guildID string) Scope {
	return Scope{Kind: ScopeGuild, ID: guildID}
}

// ChannelScope returns a scope covering a single channel.
func ChannelScope(channelID string) Scope {
	return Scope{Kind: ScopeChannel, ID: channelID}
}

func (s Scope) String() string {
	if s.Kind == ScopeGuild {
		return "guild:" + s.ID
	}
	return "channel:" + s.ID
}
