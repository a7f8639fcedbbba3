// ABOUTME: Store interface and data types for derailed persistence
// ABOUTME: Defines Account, Session, Guild, Channel, Message and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when creating an account with an email that is already taken
var ErrDuplicateEmail = errors.New("email already registered")

// Account is a registered user. The password hash is an encoded argon2id
// string produced by the auth package; the store never sees plaintext.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Session is a server-side record backing an issued token. Deleting the
// session revokes every token that references it. Multiple sessions per
// account may coexist (one per device).
type Session struct {
	ID        string
	AccountID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Guild is a top-level group container owning channels and memberships.
type Guild struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// Channel is a message stream scoped within a guild.
type Channel struct {
	ID        string
	GuildID   string
	Name      string
	CreatedAt time.Time
}

// Message is a single chat message. AuthorID is nil when the authoring
// account has been deleted; the message itself is preserved.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  *string
	Content   string
	CreatedAt time.Time
}

// Store defines the interface for derailed persistence.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	AccountExists(ctx context.Context, id string) (bool, error)
	DeleteAccount(ctx context.Context, id string) error

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteAccountSessions(ctx context.Context, accountID string) error

	// Guilds
	CreateGuild(ctx context.Context, guild *Guild) error
	GetGuild(ctx context.Context, id string) (*Guild, error)
	UpdateGuild(ctx context.Context, guild *Guild) error
	DeleteGuild(ctx context.Context, id string) error
	ListAccountGuilds(ctx context.Context, accountID string) ([]*Guild, error)

	// Memberships
	AddGuildMember(ctx context.Context, guildID, accountID string) error
	RemoveGuildMember(ctx context.Context, guildID, accountID string) error
	IsGuildMember(ctx context.Context, accountID, guildID string) (bool, error)

	// Channels
	CreateChannel(ctx context.Context, channel *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, error)
	UpdateChannel(ctx context.Context, channel *Channel) error
	DeleteChannel(ctx context.Context, id string) error
	ListGuildChannels(ctx context.Context, guildID string) ([]*Channel, error)

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListChannelMessages(ctx context.Context, channelID string, limit int) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
