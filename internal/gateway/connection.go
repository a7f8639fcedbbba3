// ABOUTME: Represents a single websocket client connection and its lifecycle state machine
// ABOUTME: Handles the identify handshake, subscribe ops, and event delivery pumps

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fossabot/derailed/internal/pubsub"
	"github.com/fossabot/derailed/internal/session"
)

// State is a connection lifecycle state. Transitions only move forward:
// Connecting -> Authenticating -> Active -> Closing -> Closed, with any
// state able to jump straight to Closing.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const maxFrameSize = 64 * 1024

// authenticator verifies bearer tokens during the identify handshake.
// *session.Authority satisfies it.
type authenticator interface {
	AuthenticateFresh(ctx context.Context, token string) (session.Identity, error)
}

// subscriptions is the registry surface a connection uses.
// *pubsub.Registry satisfies it.
type subscriptions interface {
	Register(connID, accountID string, queue *pubsub.Queue) error
	Subscribe(ctx context.Context, connID string, scope pubsub.Scope) error
	Unsubscribe(connID string, scope pubsub.Scope) error
	UnsubscribeAll(connID string)
}

// ConnConfig holds per-connection timing parameters.
type ConnConfig struct {
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Connection owns one websocket client from upgrade to teardown.
type Connection struct {
	ID string

	conn     *websocket.Conn
	auth     authenticator
	registry subscriptions
	queue    *pubsub.Queue
	cfg      ConnConfig
	logger   *slog.Logger

	state atomic.Int32

	// Identity established by the identify handshake.
	accountID string
	sessionID string

	// Serializes frame writes; the event pump, ping loop, and read loop
	// all write to the socket.
	writeMu sync.Mutex

	closeOnce  sync.Once
	done       chan struct{}
	unregister func(connID string)
}

// NewConnection wraps an upgraded websocket. The unregister callback fires
// exactly once during teardown, after the connection's subscriptions are gone.
func NewConnection(id string, conn *websocket.Conn, auth authenticator, registry subscriptions, queue *pubsub.Queue, cfg ConnConfig, unregister func(connID string), logger *slog.Logger) *Connection {
	conn.SetReadLimit(maxFrameSize)
	return &Connection{
		ID:         id,
		conn:       conn,
		auth:       auth,
		registry:   registry,
		queue:      queue,
		cfg:        cfg,
		logger:     logger.With("connection_id", id),
		done:       make(chan struct{}),
		unregister: unregister,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// AccountID returns the authenticated account, empty before identify completes.
func (c *Connection) AccountID() string {
	if c.State() < StateActive {
		return ""
	}
	return c.accountID
}

func (c *Connection) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// Run drives the connection until the socket closes, the context is
// canceled, or the handshake fails. It always tears the connection down
// before returning.
func (c *Connection) Run(ctx context.Context) {
	defer c.Close()

	if err := c.handshake(ctx); err != nil {
		c.logger.Info("handshake failed", "error", err, "state", c.State().String())
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.eventPump(ctx)
		cancel()
	})
	wg.Go(func() {
		c.pingLoop(ctx)
	})

	c.readLoop(ctx)
	cancel()
	c.queue.Close() // wakes the event pump if it is blocked in Pop
	wg.Wait()
}

// handshake reads the identify frame and verifies its token. The client has
// AuthTimeout from upgrade to present a valid token.
func (c *Connection) handshake(ctx context.Context) error {
	if c.State() != StateConnecting {
		return fmt.Errorf("handshake in state %s", c.State())
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.AuthTimeout)); err != nil {
		return fmt.Errorf("setting auth deadline: %w", err)
	}

	var frame ClientFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		c.writeFrame(errorFrame(CodeAuthTimeout, "no identify frame received"))
		return fmt.Errorf("reading identify frame: %w", err)
	}
	if frame.Op != OpIdentify {
		c.writeFrame(errorFrame(CodeNotIdentified, "first frame must be identify"))
		return fmt.Errorf("first frame op %q, want identify", frame.Op)
	}

	c.transition(StateConnecting, StateAuthenticating)

	identity, err := c.auth.AuthenticateFresh(ctx, frame.Token)
	if err != nil {
		c.writeFrame(errorFrame(CodeAuthFailed, "invalid or expired token"))
		return fmt.Errorf("authenticating: %w", err)
	}
	c.accountID = identity.AccountID
	c.sessionID = identity.SessionID

	if err := c.registry.Register(c.ID, c.accountID, c.queue); err != nil {
		return fmt.Errorf("registering connection: %w", err)
	}

	if !c.transition(StateAuthenticating, StateActive) {
		return fmt.Errorf("connection closed during handshake")
	}

	if err := c.writeFrame(readyFrame(c.accountID, c.sessionID)); err != nil {
		return fmt.Errorf("writing ready frame: %w", err)
	}

	c.logger.Info("connection active", "account_id", c.accountID, "session_id", c.sessionID)
	return nil
}

// readLoop processes subscribe/unsubscribe frames until the socket closes.
func (c *Connection) readLoop(ctx context.Context) {
	c.resetReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.resetReadDeadline()
		return nil
	})

	for {
		var frame ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read error", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.handleFrame(ctx, &frame)
	}
}

func (c *Connection) handleFrame(ctx context.Context, frame *ClientFrame) {
	switch frame.Op {
	case OpIdentify:
		c.writeFrame(errorFrame(CodeAlreadyActive, "connection already identified"))

	case OpSubscribe:
		scope, err := frame.scope()
		if err != nil {
			c.writeFrame(errorFrame(CodeBadFrame, err.Error()))
			return
		}
		if err := c.registry.Subscribe(ctx, c.ID, scope); err != nil {
			c.writeFrame(subscribeError(err))
			return
		}
		c.writeFrame(ackFrame(frame))

	case OpUnsubscribe:
		scope, err := frame.scope()
		if err != nil {
			c.writeFrame(errorFrame(CodeBadFrame, err.Error()))
			return
		}
		if err := c.registry.Unsubscribe(c.ID, scope); err != nil && !errors.Is(err, pubsub.ErrUnknownConnection) {
			c.writeFrame(errorFrame(CodeBadFrame, err.Error()))
			return
		}
		c.writeFrame(ackFrame(frame))

	default:
		c.writeFrame(errorFrame(CodeBadFrame, fmt.Sprintf("unknown op %q", frame.Op)))
	}
}

// subscribeError maps registry errors onto wire error codes.
func subscribeError(err error) *ServerFrame {
	switch {
	case errors.Is(err, pubsub.ErrForbidden):
		return errorFrame(CodeForbidden, "not a member of the target guild")
	case errors.Is(err, pubsub.ErrUnknownScope):
		return errorFrame(CodeUnknownScope, "no such guild or channel")
	default:
		return errorFrame(CodeBadFrame, err.Error())
	}
}

// eventPump drains the delivery queue onto the socket in order.
func (c *Connection) eventPump(ctx context.Context) {
	for {
		ev, err := c.queue.Pop(ctx)
		if err != nil {
			return
		}
		if err := c.writeFrame(eventFrame(ev)); err != nil {
			c.logger.Debug("event write failed", "error", err)
			return
		}
	}
}

// pingLoop keeps the connection alive; a missed pong trips the read deadline.
func (c *Connection) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Connection) resetReadDeadline() {
	// Two missed pings before the socket is considered dead.
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingInterval))
}

func (c *Connection) writeFrame(frame *ServerFrame) error {
	data, err := frame.encode()
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down: subscriptions are removed and the
// delivery queue closed before the socket is, so no event published after
// teardown begins can reach this client. Safe to call multiple times.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))

		c.registry.UnsubscribeAll(c.ID)
		if c.unregister != nil {
			c.unregister(c.ID)
		}

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()

		close(c.done)
		c.state.Store(int32(StateClosed))
		c.logger.Debug("connection closed")
	})
}
