// ABOUTME: Tests for the REST API handlers
// ABOUTME: Exercises account, guild, channel, and message flows against a real store and bus

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fossabot/derailed/internal/pubsub"
	"github.com/fossabot/derailed/internal/session"
	"github.com/fossabot/derailed/internal/store"
)

type apiFixture struct {
	ts        *httptest.Server
	store     store.Store
	authority *session.Authority
	registry  *pubsub.Registry
	bus       *pubsub.Bus
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	authority := session.NewAuthority([]byte("0123456789abcdef0123456789abcdef"), 0, s, logger)
	registry := pubsub.NewRegistry(s, logger)
	bus := pubsub.NewBus(registry, logger)

	mux := http.NewServeMux()
	NewHandler(s, authority, bus, logger).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		ts.Close()
		authority.Close()
		_ = s.Close()
	})

	return &apiFixture{ts: ts, store: s, authority: authority, registry: registry, bus: bus}
}

// do issues a request with an optional bearer token and JSON body.
func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &reqBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *apiFixture) register(t *testing.T, email string) TokenResponse {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/accounts", "", RegisterRequest{Email: email, Password: "correct horse"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[TokenResponse](t, resp)
}

func (f *apiFixture) createGuild(t *testing.T, token, name string) GuildResponse {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/guilds", token, GuildRequest{Name: name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[GuildResponse](t, resp)
}

func (f *apiFixture) createChannel(t *testing.T, token, guildID, name string) ChannelResponse {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/guilds/"+guildID+"/channels", token, ChannelRequest{Name: name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[ChannelResponse](t, resp)
}

func TestRegister(t *testing.T) {
	f := newAPIFixture(t)

	tok := f.register(t, "alice@example.com")
	assert.NotEmpty(t, tok.Token)
	assert.NotEmpty(t, tok.AccountID)
	assert.NotEmpty(t, tok.SessionID)

	// The issued token authenticates immediately.
	identity, err := f.authority.AuthenticateFresh(t.Context(), tok.Token)
	require.NoError(t, err)
	assert.Equal(t, tok.AccountID, identity.AccountID)
}

func TestRegister_Validation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/accounts", "", RegisterRequest{Email: "not-an-email", Password: "correct horse"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/api/accounts", "", RegisterRequest{Email: "short@example.com", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")

	resp := f.do(t, http.MethodPost, "/api/accounts", "", RegisterRequest{Email: "alice@example.com", Password: "correct horse"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t)
	reg := f.register(t, "alice@example.com")

	resp := f.do(t, http.MethodPost, "/api/login", "", LoginRequest{Email: "alice@example.com", Password: "correct horse"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok := decodeBody[TokenResponse](t, resp)
	assert.Equal(t, reg.AccountID, tok.AccountID)
	assert.NotEqual(t, reg.SessionID, tok.SessionID, "each login gets its own session")

	// Wrong password and unknown email produce the same status.
	resp = f.do(t, http.MethodPost, "/api/login", "", LoginRequest{Email: "alice@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodPost, "/api/login", "", LoginRequest{Email: "nobody@example.com", Password: "correct horse"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLogout_RevokesSession(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.register(t, "alice@example.com")

	resp := f.do(t, http.MethodPost, "/api/logout", tok.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	_, err := f.authority.AuthenticateFresh(t.Context(), tok.Token)
	assert.ErrorIs(t, err, session.ErrSessionRevoked)
}

func TestRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/guilds", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/api/guilds", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestGetSelf(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.register(t, "alice@example.com")

	resp := f.do(t, http.MethodGet, "/api/accounts/me", tok.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	account := decodeBody[AccountResponse](t, resp)
	assert.Equal(t, tok.AccountID, account.ID)
	assert.Equal(t, "alice@example.com", account.Email)
}

func TestGuildLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.register(t, "alice@example.com")
	bob := f.register(t, "bob@example.com")

	guild := f.createGuild(t, alice.Token, "den")
	assert.Equal(t, alice.AccountID, guild.OwnerID)

	// The owner is a member from creation.
	resp := f.do(t, http.MethodGet, "/api/guilds/"+guild.ID, alice.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Non-members cannot see the guild.
	resp = f.do(t, http.MethodGet, "/api/guilds/"+guild.ID, bob.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Bob joins and can now read it.
	resp = f.do(t, http.MethodPost, "/api/guilds/"+guild.ID+"/members", bob.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodGet, "/api/guilds/"+guild.ID, bob.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Only the owner can rename or delete.
	resp = f.do(t, http.MethodPatch, "/api/guilds/"+guild.ID, bob.Token, GuildRequest{Name: "stolen"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodPatch, "/api/guilds/"+guild.ID, alice.Token, GuildRequest{Name: "lair"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	renamed := decodeBody[GuildResponse](t, resp)
	assert.Equal(t, "lair", renamed.Name)

	// Members list their guilds.
	resp = f.do(t, http.MethodGet, "/api/guilds", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	guilds := decodeBody[[]GuildResponse](t, resp)
	require.Len(t, guilds, 1)
	assert.Equal(t, "lair", guilds[0].Name)

	// The owner cannot leave; members can.
	resp = f.do(t, http.MethodDelete, "/api/guilds/"+guild.ID+"/members/me", alice.Token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodDelete, "/api/guilds/"+guild.ID+"/members/me", bob.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodDelete, "/api/guilds/"+guild.ID, alice.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodGet, "/api/guilds/"+guild.ID, alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestChannelLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.register(t, "alice@example.com")
	bob := f.register(t, "bob@example.com")

	guild := f.createGuild(t, alice.Token, "den")
	resp := f.do(t, http.MethodPost, "/api/guilds/"+guild.ID+"/members", bob.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	// Members cannot create channels, only the owner can.
	resp = f.do(t, http.MethodPost, "/api/guilds/"+guild.ID+"/channels", bob.Token, ChannelRequest{Name: "general"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	channel := f.createChannel(t, alice.Token, guild.ID, "general")
	assert.Equal(t, guild.ID, channel.GuildID)

	// Members can read and list.
	resp = f.do(t, http.MethodGet, "/api/channels/"+channel.ID, bob.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodGet, "/api/guilds/"+guild.ID+"/channels", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	channels := decodeBody[[]ChannelResponse](t, resp)
	assert.Len(t, channels, 1)

	resp = f.do(t, http.MethodPatch, "/api/channels/"+channel.ID, alice.Token, ChannelRequest{Name: "lounge"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	renamed := decodeBody[ChannelResponse](t, resp)
	assert.Equal(t, "lounge", renamed.Name)

	resp = f.do(t, http.MethodDelete, "/api/channels/"+channel.ID, alice.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodGet, "/api/channels/"+channel.ID, alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestMessageLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.register(t, "alice@example.com")
	bob := f.register(t, "bob@example.com")

	guild := f.createGuild(t, alice.Token, "den")
	channel := f.createChannel(t, alice.Token, guild.ID, "general")
	resp := f.do(t, http.MethodPost, "/api/guilds/"+guild.ID+"/members", bob.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	messagesPath := "/api/channels/" + channel.ID + "/messages"

	for i := 1; i <= 3; i++ {
		resp := f.do(t, http.MethodPost, messagesPath, bob.Token, MessageRequest{Content: fmt.Sprintf("hello %d", i)})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		msg := decodeBody[MessageResponse](t, resp)
		require.NotNil(t, msg.AuthorID)
		assert.Equal(t, bob.AccountID, *msg.AuthorID)
	}

	// Oldest first.
	resp = f.do(t, http.MethodGet, messagesPath, alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages := decodeBody[[]MessageResponse](t, resp)
	require.Len(t, messages, 3)
	assert.Equal(t, "hello 1", messages[0].Content)
	assert.Equal(t, "hello 3", messages[2].Content)

	// Limit keeps the newest.
	resp = f.do(t, http.MethodGet, messagesPath+"?limit=2", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	limited := decodeBody[[]MessageResponse](t, resp)
	require.Len(t, limited, 2)
	assert.Equal(t, "hello 2", limited[0].Content)

	// Author and owner can delete; another member cannot.
	carol := f.register(t, "carol@example.com")
	resp = f.do(t, http.MethodPost, "/api/guilds/"+guild.ID+"/members", carol.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodDelete, messagesPath+"/"+messages[0].ID, carol.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodDelete, messagesPath+"/"+messages[0].ID, bob.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodDelete, messagesPath+"/"+messages[1].ID, alice.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestMessage_NonMemberForbidden(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.register(t, "alice@example.com")
	mallory := f.register(t, "mallory@example.com")

	guild := f.createGuild(t, alice.Token, "den")
	channel := f.createChannel(t, alice.Token, guild.ID, "general")

	resp := f.do(t, http.MethodPost, "/api/channels/"+channel.ID+"/messages", mallory.Token, MessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodGet, "/api/channels/"+channel.ID+"/messages", mallory.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestMessageCreatePublishesEvent(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.register(t, "alice@example.com")

	guild := f.createGuild(t, alice.Token, "den")
	channel := f.createChannel(t, alice.Token, guild.ID, "general")

	// Subscribe a connection the way the websocket gateway would.
	queue := pubsub.NewQueue(8)
	require.NoError(t, f.registry.Register("conn1", alice.AccountID, queue))
	require.NoError(t, f.registry.Subscribe(t.Context(), "conn1", pubsub.ChannelScope(channel.ID)))

	resp := f.do(t, http.MethodPost, "/api/channels/"+channel.ID+"/messages", alice.Token, MessageRequest{Content: "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[MessageResponse](t, resp)

	ev, err := queue.Pop(t.Context())
	require.NoError(t, err)
	assert.Equal(t, pubsub.EventMessageCreated, ev.Type)
	assert.Equal(t, channel.ID, ev.ChannelID)
	// channel_created already took sequence 1 on this stream.
	assert.Equal(t, uint64(2), ev.Sequence)

	var payload MessageResponse
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, created.ID, payload.ID)
	assert.Equal(t, "hello", payload.Content)
}

func TestDeleteAccount(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.register(t, "alice@example.com")

	guild := f.createGuild(t, alice.Token, "den")
	channel := f.createChannel(t, alice.Token, guild.ID, "general")

	bob := f.register(t, "bob@example.com")
	resp := f.do(t, http.MethodPost, "/api/guilds/"+guild.ID+"/members", bob.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	resp = f.do(t, http.MethodPost, "/api/channels/"+channel.ID+"/messages", bob.Token, MessageRequest{Content: "surviving message"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[MessageResponse](t, resp)

	// Wrong password is refused.
	resp = f.do(t, http.MethodDelete, "/api/accounts/me", bob.Token, DeleteAccountRequest{Password: "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodDelete, "/api/accounts/me", bob.Token, DeleteAccountRequest{Password: "correct horse"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	// Every session is revoked.
	_, err := f.authority.AuthenticateFresh(t.Context(), bob.Token)
	assert.Error(t, err)

	// The message survives with a null author.
	stored, err := f.store.GetMessage(t.Context(), msg.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AuthorID)
	assert.Equal(t, "surviving message", stored.Content)
}
