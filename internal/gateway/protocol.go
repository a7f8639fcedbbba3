// ABOUTME: Wire protocol frames exchanged over the websocket gateway
// ABOUTME: Clients send identify/subscribe/unsubscribe ops, the server sends ready/event/error

package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/fossabot/derailed/internal/pubsub"
)

// Client operation codes.
const (
	OpIdentify    = "identify"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Server operation codes.
const (
	OpReady = "ready"
	OpEvent = "event"
	OpError = "error"
	OpAck   = "ack"
)

// Error codes carried in error frames.
const (
	CodeAuthFailed    = "auth_failed"
	CodeAuthTimeout   = "auth_timeout"
	CodeBadFrame      = "bad_frame"
	CodeForbidden     = "forbidden"
	CodeUnknownScope  = "unknown_scope"
	CodeNotIdentified = "not_identified"
	CodeAlreadyActive = "already_active"
)

// ClientFrame is a single message from the client. Op selects which other
// fields are meaningful: identify carries Token, subscribe/unsubscribe carry
// exactly one of GuildID or ChannelID.
type ClientFrame struct {
	Op        string `json:"op"`
	Token     string `json:"token,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// scope extracts the subscription scope from a subscribe/unsubscribe frame.
func (f *ClientFrame) scope() (pubsub.Scope, error) {
	switch {
	case f.GuildID != "" && f.ChannelID != "":
		return pubsub.Scope{}, fmt.Errorf("frame carries both guild_id and channel_id")
	case f.GuildID != "":
		return pubsub.GuildScope(f.GuildID), nil
	case f.ChannelID != "":
		return pubsub.ChannelScope(f.ChannelID), nil
	default:
		return pubsub.Scope{}, fmt.Errorf("frame carries neither guild_id nor channel_id")
	}
}

// ServerFrame is a single message to the client.
type ServerFrame struct {
	Op        string        `json:"op"`
	AccountID string        `json:"account_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Event     *pubsub.Event `json:"event,omitempty"`
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`

	// Echoed scope on subscribe/unsubscribe acks.
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

func readyFrame(accountID, sessionID string) *ServerFrame {
	return &ServerFrame{Op: OpReady, AccountID: accountID, SessionID: sessionID}
}

func eventFrame(ev *pubsub.Event) *ServerFrame {
	return &ServerFrame{Op: OpEvent, Event: ev}
}

func errorFrame(code, message string) *ServerFrame {
	return &ServerFrame{Op: OpError, Code: code, Message: message}
}

func ackFrame(f *ClientFrame) *ServerFrame {
	return &ServerFrame{Op: OpAck, GuildID: f.GuildID, ChannelID: f.ChannelID}
}

func (f *ServerFrame) encode() ([]byte, error) {
	return json.Marshal(f)
}
