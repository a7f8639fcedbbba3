// ABOUTME: Gateway orchestrator that coordinates the HTTP server and realtime components
// ABOUTME: Manages store, session authority, event bus, and websocket connection lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fossabot/derailed/internal/api"
	"github.com/fossabot/derailed/internal/config"
	"github.com/fossabot/derailed/internal/pubsub"
	"github.com/fossabot/derailed/internal/session"
	"github.com/fossabot/derailed/internal/store"
)

// Gateway orchestrates the derailed server components: the REST API, the
// websocket endpoint, and the realtime distribution machinery behind them.
type Gateway struct {
	config     *config.Config
	store      store.Store
	authority  *session.Authority
	registry   *pubsub.Registry
	bus        *pubsub.Bus
	manager    *Manager
	metrics    *Metrics
	httpServer *http.Server
	logger     *slog.Logger

	upgrader websocket.Upgrader

	// connCtx is the parent context for connection goroutines, set by Run.
	connCtx context.Context
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("DERAILED_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	sessionTTL := cfg.Auth.SessionTTL
	if sessionTTL == 0 {
		sessionTTL = session.DefaultTokenTTL
	}
	authority := session.NewAuthority([]byte(cfg.Auth.JWTSecret), sessionTTL, s, logger.With("component", "session"))

	registry := pubsub.NewRegistry(s, logger.With("component", "registry"))
	bus := pubsub.NewBus(registry, logger)
	manager := NewManager(logger.With("component", "conn-manager"))

	gw := &Gateway{
		config:    cfg,
		store:     s,
		authority: authority,
		registry:  registry,
		bus:       bus,
		manager:   manager,
		logger:    logger.With("component", "gateway"),
		connCtx:   context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// REST API
	apiHandler := api.NewHandler(s, authority, bus, logger)
	apiHandler.RegisterRoutes(mux)

	// Websocket gateway
	mux.HandleFunc("GET /gateway", gw.handleGatewaySocket)

	if cfg.Metrics.Enabled {
		gw.metrics = NewMetrics(manager, bus)
		mux.Handle(cfg.Metrics.Path, gw.metrics.Handler())
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Bus returns the event bus, for callers that publish outside the API.
func (g *Gateway) Bus() *pubsub.Bus {
	return g.bus
}

// handleGatewaySocket upgrades the request and hands the socket to a
// Connection, which owns it from here on.
func (g *Gateway) handleGatewaySocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	connID := uuid.New().String()
	queue := pubsub.NewQueue(g.config.Gateway.QueueCapacity)
	conn := NewConnection(connID, wsConn, g.authority, g.registry, queue, ConnConfig{
		AuthTimeout:  g.config.Gateway.AuthTimeout,
		WriteTimeout: g.config.Gateway.WriteTimeout,
		PingInterval: g.config.Gateway.PingInterval,
	}, g.manager.Unregister, g.logger)

	if err := g.manager.Register(conn); err != nil {
		g.logger.Error("registering connection", "connection_id", connID, "error", err)
		_ = wsConn.Close()
		return
	}

	go conn.Run(g.connCtx)
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.connCtx = ctx

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.manager.CloseAll()
	g.authority.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness with the live connection count.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", g.manager.Count())
}
