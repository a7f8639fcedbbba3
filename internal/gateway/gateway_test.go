// ABOUTME: End-to-end tests for the websocket gateway over a real HTTP server
// ABOUTME: Exercises the identify handshake, subscribe ops, and event delivery

package gateway

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fossabot/derailed/internal/api"
	"github.com/fossabot/derailed/internal/config"
	"github.com/fossabot/derailed/internal/pubsub"
)

func newTestGateway(t *testing.T, mutate func(*config.Config)) (*Gateway, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "gateway.db")
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Gateway.QueueCapacity = 16
	cfg.Gateway.AuthTimeout = 2 * time.Second
	cfg.Gateway.WriteTimeout = 2 * time.Second
	cfg.Gateway.PingInterval = 500 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	gw, err := New(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ts := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
		gw.manager.CloseAll()
		gw.authority.Close()
		_ = gw.store.Close()
	})
	return gw, ts
}

func postJSON[T any](t *testing.T, ts *httptest.Server, path, token string, body any) T {
	t.Helper()

	var reqBody bytes.Buffer
	require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, &reqBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func registerAccount(t *testing.T, ts *httptest.Server, email string) api.TokenResponse {
	t.Helper()
	return postJSON[api.TokenResponse](t, ts, "/api/accounts", "",
		api.RegisterRequest{Email: email, Password: "correct horse"})
}

func dialGateway(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/gateway"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) ServerFrame {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame ServerFrame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

// identify completes the handshake and returns the ready frame.
func identify(t *testing.T, ws *websocket.Conn, token string) ServerFrame {
	t.Helper()

	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpIdentify, Token: token}))
	ready := readFrame(t, ws)
	require.Equal(t, OpReady, ready.Op)
	return ready
}

func TestGateway_IdentifyHandshake(t *testing.T) {
	gw, ts := newTestGateway(t, nil)
	tok := registerAccount(t, ts, "alice@example.com")

	ws := dialGateway(t, ts)
	ready := identify(t, ws, tok.Token)
	assert.Equal(t, tok.AccountID, ready.AccountID)
	assert.Equal(t, tok.SessionID, ready.SessionID)

	require.Eventually(t, func() bool { return gw.manager.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The connection is tracked and active.
	var conn *Connection
	gw.manager.mu.RLock()
	for _, c := range gw.manager.conns {
		conn = c
	}
	gw.manager.mu.RUnlock()
	require.NotNil(t, conn)
	assert.Equal(t, StateActive, conn.State())
	assert.Equal(t, tok.AccountID, conn.AccountID())

	// Client disconnect tears the connection down.
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return gw.manager.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateClosed, conn.State())
}

func TestGateway_IdentifyBadToken(t *testing.T) {
	_, ts := newTestGateway(t, nil)

	ws := dialGateway(t, ts)
	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpIdentify, Token: "garbage"}))

	frame := readFrame(t, ws)
	assert.Equal(t, OpError, frame.Op)
	assert.Equal(t, CodeAuthFailed, frame.Code)
}

func TestGateway_RevokedTokenRejected(t *testing.T) {
	gw, ts := newTestGateway(t, nil)
	tok := registerAccount(t, ts, "alice@example.com")

	// Warm the token cache, then revoke the session behind it. The
	// handshake verifies against the store, not the cache.
	_, err := gw.authority.Authenticate(t.Context(), tok.Token)
	require.NoError(t, err)
	require.NoError(t, gw.authority.Revoke(t.Context(), tok.SessionID))

	ws := dialGateway(t, ts)
	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpIdentify, Token: tok.Token}))

	frame := readFrame(t, ws)
	assert.Equal(t, OpError, frame.Op)
	assert.Equal(t, CodeAuthFailed, frame.Code)
}

func TestGateway_FirstFrameMustBeIdentify(t *testing.T) {
	_, ts := newTestGateway(t, nil)

	ws := dialGateway(t, ts)
	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpSubscribe, GuildID: "g1"}))

	frame := readFrame(t, ws)
	assert.Equal(t, OpError, frame.Op)
	assert.Equal(t, CodeNotIdentified, frame.Code)
}

func TestGateway_AuthTimeout(t *testing.T) {
	_, ts := newTestGateway(t, func(cfg *config.Config) {
		cfg.Gateway.AuthTimeout = 100 * time.Millisecond
	})

	ws := dialGateway(t, ts)

	// Send nothing; the server gives up and says why.
	frame := readFrame(t, ws)
	assert.Equal(t, OpError, frame.Op)
	assert.Equal(t, CodeAuthTimeout, frame.Code)
}

func TestGateway_IdentifyTwice(t *testing.T) {
	_, ts := newTestGateway(t, nil)
	tok := registerAccount(t, ts, "alice@example.com")

	ws := dialGateway(t, ts)
	identify(t, ws, tok.Token)

	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpIdentify, Token: tok.Token}))
	frame := readFrame(t, ws)
	assert.Equal(t, OpError, frame.Op)
	assert.Equal(t, CodeAlreadyActive, frame.Code)
}

func TestGateway_SubscribeAndReceiveEvents(t *testing.T) {
	_, ts := newTestGateway(t, nil)
	tok := registerAccount(t, ts, "alice@example.com")
	guild := postJSON[api.GuildResponse](t, ts, "/api/guilds", tok.Token, api.GuildRequest{Name: "den"})
	channel := postJSON[api.ChannelResponse](t, ts, "/api/guilds/"+guild.ID+"/channels", tok.Token,
		api.ChannelRequest{Name: "general"})

	ws := dialGateway(t, ts)
	identify(t, ws, tok.Token)

	// A frame with both scopes is rejected.
	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpSubscribe, GuildID: guild.ID, ChannelID: channel.ID}))
	frame := readFrame(t, ws)
	assert.Equal(t, OpError, frame.Op)
	assert.Equal(t, CodeBadFrame, frame.Code)

	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpSubscribe, ChannelID: channel.ID}))
	ack := readFrame(t, ws)
	require.Equal(t, OpAck, ack.Op)
	assert.Equal(t, channel.ID, ack.ChannelID)

	msg := postJSON[api.MessageResponse](t, ts, "/api/channels/"+channel.ID+"/messages", tok.Token,
		api.MessageRequest{Content: "hello"})

	ev := readFrame(t, ws)
	require.Equal(t, OpEvent, ev.Op)
	require.NotNil(t, ev.Event)
	assert.Equal(t, pubsub.EventMessageCreated, ev.Event.Type)
	assert.Equal(t, channel.ID, ev.Event.ChannelID)
	// channel_created already took sequence 1 on this stream.
	assert.Equal(t, uint64(2), ev.Event.Sequence)

	var payload api.MessageResponse
	require.NoError(t, json.Unmarshal(ev.Event.Data, &payload))
	assert.Equal(t, msg.ID, payload.ID)
	assert.Equal(t, "hello", payload.Content)
}

func TestGateway_SubscribeForbidden(t *testing.T) {
	_, ts := newTestGateway(t, nil)
	alice := registerAccount(t, ts, "alice@example.com")
	mallory := registerAccount(t, ts, "mallory@example.com")
	guild := postJSON[api.GuildResponse](t, ts, "/api/guilds", alice.Token, api.GuildRequest{Name: "den"})

	ws := dialGateway(t, ts)
	identify(t, ws, mallory.Token)

	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpSubscribe, GuildID: guild.ID}))
	frame := readFrame(t, ws)
	assert.Equal(t, OpError, frame.Op)
	assert.Equal(t, CodeForbidden, frame.Code)

	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpSubscribe, ChannelID: "no-such-channel"}))
	frame = readFrame(t, ws)
	assert.Equal(t, OpError, frame.Op)
	assert.Equal(t, CodeUnknownScope, frame.Code)
}

func TestGateway_UnsubscribeStopsDelivery(t *testing.T) {
	_, ts := newTestGateway(t, nil)
	tok := registerAccount(t, ts, "alice@example.com")
	guild := postJSON[api.GuildResponse](t, ts, "/api/guilds", tok.Token, api.GuildRequest{Name: "den"})
	channel := postJSON[api.ChannelResponse](t, ts, "/api/guilds/"+guild.ID+"/channels", tok.Token,
		api.ChannelRequest{Name: "general"})

	ws := dialGateway(t, ts)
	identify(t, ws, tok.Token)

	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpSubscribe, ChannelID: channel.ID}))
	require.Equal(t, OpAck, readFrame(t, ws).Op)

	postJSON[api.MessageResponse](t, ts, "/api/channels/"+channel.ID+"/messages", tok.Token,
		api.MessageRequest{Content: "delivered"})
	require.Equal(t, OpEvent, readFrame(t, ws).Op)

	require.NoError(t, ws.WriteJSON(ClientFrame{Op: OpUnsubscribe, ChannelID: channel.ID}))
	require.Equal(t, OpAck, readFrame(t, ws).Op)

	postJSON[api.MessageResponse](t, ts, "/api/channels/"+channel.ID+"/messages", tok.Token,
		api.MessageRequest{Content: "dropped on the floor"})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var frame ServerFrame
	err := ws.ReadJSON(&frame)
	require.Error(t, err, "no event expected after unsubscribe, got %+v", frame)
}

func TestGateway_ShutdownClosesConnections(t *testing.T) {
	gw, ts := newTestGateway(t, nil)
	tok := registerAccount(t, ts, "alice@example.com")

	ws := dialGateway(t, ts)
	identify(t, ws, tok.Token)
	require.Eventually(t, func() bool { return gw.manager.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	gw.manager.CloseAll()
	assert.Equal(t, 0, gw.manager.Count())

	// The client sees a normal closure.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame ServerFrame
	err := ws.ReadJSON(&frame)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestGateway_HealthEndpoints(t *testing.T) {
	_, ts := newTestGateway(t, nil)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Client().Get(ts.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_MetricsEndpoint(t *testing.T) {
	_, ts := newTestGateway(t, func(cfg *config.Config) {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Path = "/metrics"
	})

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	body := buf.String()
	assert.Contains(t, body, "derailed_gateway_connections")
	assert.Contains(t, body, "derailed_events_published_total")
}
