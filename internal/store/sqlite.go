// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides account/session/guild/channel/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			issued_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id);

		CREATE TABLE IF NOT EXISTS guilds (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL REFERENCES accounts(id),
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS guild_members (
			guild_id TEXT NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (guild_id, account_id)
		);

		CREATE INDEX IF NOT EXISTS idx_guild_members_account ON guild_members(account_id);

		CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_channels_guild ON channels(guild_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			author_id TEXT REFERENCES accounts(id) ON DELETE SET NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_channel_created
			ON messages(channel_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateAccount inserts a new account.
// Returns ErrDuplicateEmail if the email is already registered.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "id", account.ID)
	return nil
}

// GetAccount retrieves an account by ID.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM accounts WHERE id = ?`, id))
}

// GetAccountByEmail retrieves an account by email.
// Returns ErrNotFound if no account is registered for the email.
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM accounts WHERE email = ?`, email))
}

func (s *SQLiteStore) scanAccount(row *sql.Row) (*Account, error) {
	var account Account
	var createdAtStr string

	err := row.Scan(&account.ID, &account.Email, &account.PasswordHash, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	account.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &account, nil
}

// AccountExists reports whether an account with the given ID exists.
func (s *SQLiteStore) AccountExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying account existence: %w", err)
	}
	return true, nil
}

// DeleteAccount removes an account. Sessions and memberships cascade;
// messages authored by the account keep their content with a null author.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return requireAffected(res)
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, account_id, issued_at, expires_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.AccountID,
		session.IssuedAt.UTC().Format(time.RFC3339Nano),
		session.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "account_id", session.AccountID)
	return nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist (deleted or never issued).
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	var issuedAtStr, expiresAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, issued_at, expires_at FROM sessions WHERE id = ?`, id).
		Scan(&session.ID, &session.AccountID, &issuedAtStr, &expiresAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.IssuedAt, err = time.Parse(time.RFC3339Nano, issuedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing issued_at: %w", err)
	}
	session.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	return &session, nil
}

// DeleteSession removes a single session.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return requireAffected(res)
}

// DeleteAccountSessions removes every session belonging to an account.
func (s *SQLiteStore) DeleteAccountSessions(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("deleting account sessions: %w", err)
	}
	return nil
}

// CreateGuild inserts a new guild and adds the owner as its first member.
func (s *SQLiteStore) CreateGuild(ctx context.Context, guild *Guild) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := guild.CreatedAt.UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO guilds (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		guild.ID, guild.Name, guild.OwnerID, createdAt)
	if err != nil {
		return fmt.Errorf("inserting guild: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO guild_members (guild_id, account_id, joined_at) VALUES (?, ?, ?)`,
		guild.ID, guild.OwnerID, createdAt)
	if err != nil {
		return fmt.Errorf("inserting owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing guild: %w", err)
	}

	s.logger.Debug("created guild", "id", guild.ID, "owner_id", guild.OwnerID)
	return nil
}

// GetGuild retrieves a guild by ID.
// Returns ErrNotFound if the guild doesn't exist.
func (s *SQLiteStore) GetGuild(ctx context.Context, id string) (*Guild, error) {
	var guild Guild
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM guilds WHERE id = ?`, id).
		Scan(&guild.ID, &guild.Name, &guild.OwnerID, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying guild: %w", err)
	}

	guild.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &guild, nil
}

// UpdateGuild updates a guild's mutable fields.
// Returns ErrNotFound if the guild doesn't exist.
func (s *SQLiteStore) UpdateGuild(ctx context.Context, guild *Guild) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guilds SET name = ? WHERE id = ?`, guild.Name, guild.ID)
	if err != nil {
		return fmt.Errorf("updating guild: %w", err)
	}
	return requireAffected(res)
}

// DeleteGuild removes a guild; channels, messages and memberships cascade.
// Returns ErrNotFound if the guild doesn't exist.
func (s *SQLiteStore) DeleteGuild(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guilds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting guild: %w", err)
	}
	return requireAffected(res)
}

// ListAccountGuilds returns every guild the account is a member of.
func (s *SQLiteStore) ListAccountGuilds(ctx context.Context, accountID string) ([]*Guild, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.owner_id, g.created_at
		FROM guilds g
		JOIN guild_members m ON m.guild_id = g.id
		WHERE m.account_id = ?
		ORDER BY g.created_at
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying account guilds: %w", err)
	}
	defer rows.Close()

	var guilds []*Guild
	for rows.Next() {
		var guild Guild
		var createdAtStr string
		if err := rows.Scan(&guild.ID, &guild.Name, &guild.OwnerID, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning guild: %w", err)
		}
		guild.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		guilds = append(guilds, &guild)
	}
	return guilds, rows.Err()
}

// AddGuildMember records a membership. Adding an existing member is a no-op.
func (s *SQLiteStore) AddGuildMember(ctx context.Context, guildID, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO guild_members (guild_id, account_id, joined_at) VALUES (?, ?, ?)`,
		guildID, accountID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

// RemoveGuildMember removes a membership.
// Returns ErrNotFound if the account was not a member.
func (s *SQLiteStore) RemoveGuildMember(ctx context.Context, guildID, accountID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM guild_members WHERE guild_id = ? AND account_id = ?`, guildID, accountID)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return requireAffected(res)
}

// IsGuildMember reports whether the account is a member of the guild.
func (s *SQLiteStore) IsGuildMember(ctx context.Context, accountID, guildID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM guild_members WHERE guild_id = ? AND account_id = ?`,
		guildID, accountID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying membership: %w", err)
	}
	return true, nil
}

// CreateChannel inserts a new channel.
func (s *SQLiteStore) CreateChannel(ctx context.Context, channel *Channel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, guild_id, name, created_at) VALUES (?, ?, ?, ?)`,
		channel.ID, channel.GuildID, channel.Name,
		channel.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting channel: %w", err)
	}

	s.logger.Debug("created channel", "id", channel.ID, "guild_id", channel.GuildID)
	return nil
}

// GetChannel retrieves a channel by ID.
// Returns ErrNotFound if the channel doesn't exist.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	var channel Channel
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, name, created_at FROM channels WHERE id = ?`, id).
		Scan(&channel.ID, &channel.GuildID, &channel.Name, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel: %w", err)
	}

	channel.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &channel, nil
}

// UpdateChannel updates a channel's mutable fields.
// Returns ErrNotFound if the channel doesn't exist.
func (s *SQLiteStore) UpdateChannel(ctx context.Context, channel *Channel) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET name = ? WHERE id = ?`, channel.Name, channel.ID)
	if err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return requireAffected(res)
}

// DeleteChannel removes a channel; its messages cascade.
// Returns ErrNotFound if the channel doesn't exist.
func (s *SQLiteStore) DeleteChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return requireAffected(res)
}

// ListGuildChannels returns every channel in a guild ordered by creation time.
func (s *SQLiteStore) ListGuildChannels(ctx context.Context, guildID string) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, name, created_at FROM channels WHERE guild_id = ? ORDER BY created_at`,
		guildID)
	if err != nil {
		return nil, fmt.Errorf("querying guild channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		var channel Channel
		var createdAtStr string
		if err := rows.Scan(&channel.ID, &channel.GuildID, &channel.Name, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channel.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		channels = append(channels, &channel)
	}
	return channels, rows.Err()
}

// CreateMessage inserts a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.AuthorID, msg.Content,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, author_id, content, created_at FROM messages WHERE id = ?`, id).
		Scan(&msg.ID, &msg.ChannelID, &msg.AuthorID, &msg.Content, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}

// DeleteMessage removes a message.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return requireAffected(res)
}

// ListChannelMessages returns the most recent messages in a channel,
// oldest first, limited to limit rows (0 means a default of 50).
func (s *SQLiteStore) ListChannelMessages(ctx context.Context, channelID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, author_id, content, created_at FROM (
			SELECT id, channel_id, author_id, content, created_at
			FROM messages
			WHERE channel_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		) ORDER BY created_at
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying channel messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.AuthorID, &msg.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// requireAffected converts a zero-row write into ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
