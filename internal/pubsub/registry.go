// ABOUTME: Subscription registry mapping connections to guild/channel scopes
// ABOUTME: Sharded by scope so publish fan-out never serializes on one lock

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/fossabot/derailed/internal/store"
)

// Subscription errors
var (
	// ErrForbidden means the connection's account is not a member of the target guild
	ErrForbidden = errors.New("not a guild member")

	// ErrUnknownScope means the subscription target does not exist
	ErrUnknownScope = errors.New("unknown scope")

	// ErrUnknownConnection means the connection was never registered or is torn down
	ErrUnknownConnection = errors.New("unknown connection")
)

const numShards = 16

// Membership is the persistence collaborator used to authorize
// subscriptions. *store.SQLiteStore satisfies it.
type Membership interface {
	IsGuildMember(ctx context.Context, accountID, guildID string) (bool, error)
	GetGuild(ctx context.Context, id string) (*store.Guild, error)
	GetChannel(ctx context.Context, id string) (*store.Channel, error)
}

// subscriber is the registry's view of one live connection.
type subscriber struct {
	id        string
	accountID string
	queue     *Queue

	mu     sync.Mutex
	scopes map[Scope]struct{}
	closed bool
}

type registryShard struct {
	mu     sync.RWMutex
	scopes map[Scope]map[string]*subscriber
}

// Registry tracks which connections receive events for which scopes.
// Scope lookups are sharded so concurrent publishes to unrelated guilds
// and channels never contend on a single lock.
type Registry struct {
	membership Membership
	logger     *slog.Logger

	connsMu sync.RWMutex
	conns   map[string]*subscriber

	shards [numShards]registryShard
}

// NewRegistry creates a registry authorizing subscriptions against the
// given membership collaborator. Pass nil logger for default.
func NewRegistry(membership Membership, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		membership: membership,
		logger:     logger.With("component", "registry"),
		conns:      make(map[string]*subscriber),
	}
	for i := range r.shards {
		r.shards[i].scopes = make(map[Scope]map[string]*subscriber)
	}
	return r
}

func (r *Registry) shardFor(scope Scope) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(scope.ID))
	return &r.shards[h.Sum32()%numShards]
}

// Register adds a connection with its authenticated account and delivery
// queue. Connection IDs are fresh identifiers and must not be reused.
func (r *Registry) Register(connID, accountID string, queue *Queue) error {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return fmt.Errorf("connection %s already registered", connID)
	}
	r.conns[connID] = &subscriber{
		id:        connID,
		accountID: accountID,
		queue:     queue,
		scopes:    make(map[Scope]struct{}),
	}

	r.logger.Debug("connection registered", "connection_id", connID, "account_id", accountID, "total", len(r.conns))
	return nil
}

func (r *Registry) lookup(connID string) (*subscriber, error) {
	r.connsMu.RLock()
	sub, ok := r.conns[connID]
	r.connsMu.RUnlock()
	if !ok {
		return nil, ErrUnknownConnection
	}
	return sub, nil
}

// Subscribe registers interest in a scope for a connection. Idempotent.
// The connection's account must be a member of the target guild; on
// ErrForbidden or ErrUnknownScope no subscription is registered.
func (r *Registry) Subscribe(ctx context.Context, connID string, scope Scope) error {
	sub, err := r.lookup(connID)
	if err != nil {
		return err
	}

	guildID, err := r.guildFor(ctx, scope)
	if err != nil {
		return err
	}
	member, err := r.membership.IsGuildMember(ctx, sub.accountID, guildID)
	if err != nil {
		return fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		r.logger.Warn("subscribe forbidden",
			"connection_id", connID, "account_id", sub.accountID, "scope", scope.String())
		return ErrForbidden
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return ErrUnknownConnection
	}
	if _, exists := sub.scopes[scope]; exists {
		return nil
	}
	sub.scopes[scope] = struct{}{}

	shard := r.shardFor(scope)
	shard.mu.Lock()
	if shard.scopes[scope] == nil {
		shard.scopes[scope] = make(map[string]*subscriber)
	}
	shard.scopes[scope][connID] = sub
	shard.mu.Unlock()

	r.logger.Debug("subscribed", "connection_id", connID, "scope", scope.String())
	return nil
}

// guildFor resolves a scope to its owning guild, validating existence.
func (r *Registry) guildFor(ctx context.Context, scope Scope) (string, error) {
	switch scope.Kind {
	case ScopeGuild:
		if _, err := r.membership.GetGuild(ctx, scope.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", ErrUnknownScope
			}
			return "", fmt.Errorf("resolving guild scope: %w", err)
		}
		return scope.ID, nil
	case ScopeChannel:
		channel, err := r.membership.GetChannel(ctx, scope.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", ErrUnknownScope
			}
			return "", fmt.Errorf("resolving channel scope: %w", err)
		}
		return channel.GuildID, nil
	default:
		return "", ErrUnknownScope
	}
}

// Unsubscribe removes a single scope registration. Removing a scope that
// was never subscribed is a no-op.
func (r *Registry) Unsubscribe(connID string, scope Scope) error {
	sub, err := r.lookup(connID)
	if err != nil {
		return err
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if _, exists := sub.scopes[scope]; !exists {
		return nil
	}
	delete(sub.scopes, scope)
	r.removeFromShard(scope, connID)

	r.logger.Debug("unsubscribed", "connection_id", connID, "scope", scope.String())
	return nil
}

// UnsubscribeAll tears down a connection's registrations atomically with
// connection teardown: the delivery queue is closed as the first effect, so
// no event published after this call begins can reach the connection, even
// if resolve briefly still returns it.
func (r *Registry) UnsubscribeAll(connID string) {
	r.connsMu.Lock()
	sub, ok := r.conns[connID]
	delete(r.conns, connID)
	r.connsMu.Unlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	sub.closed = true
	sub.queue.Close()
	for scope := range sub.scopes {
		r.removeFromShard(scope, connID)
		delete(sub.scopes, scope)
	}
	sub.mu.Unlock()

	r.logger.Debug("connection torn down", "connection_id", connID)
}

// removeFromShard drops a single (scope, connection) entry from the scope
// index. Callers hold the subscriber's mutex.
func (r *Registry) removeFromShard(scope Scope, connID string) {
	shard := r.shardFor(scope)
	shard.mu.Lock()
	if subs, ok := shard.scopes[scope]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(shard.scopes, scope)
		}
	}
	shard.mu.Unlock()
}

// resolve returns every subscriber registered for the event's channel or
// guild scope, deduplicated: a connection subscribed to both receives the
// event once.
func (r *Registry) resolve(ev *Event) []*subscriber {
	seen := make(map[string]*subscriber)

	if ev.ChannelID != "" {
		r.collect(ChannelScope(ev.ChannelID), seen)
	}
	if ev.GuildID != "" {
		r.collect(GuildScope(ev.GuildID), seen)
	}

	if len(seen) == 0 {
		return nil
	}
	subs := make([]*subscriber, 0, len(seen))
	for _, sub := range seen {
		subs = append(subs, sub)
	}
	return subs
}

func (r *Registry) collect(scope Scope, seen map[string]*subscriber) {
	shard := r.shardFor(scope)
	shard.mu.RLock()
	for id, sub := range shard.scopes[scope] {
		seen[id] = sub
	}
	shard.mu.RUnlock()
}

// ResolveConnections returns the deduplicated connection IDs an event would
// fan out to. Primarily for introspection and tests.
func (r *Registry) ResolveConnections(ev *Event) []string {
	subs := r.resolve(ev)
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.id)
	}
	return ids
}
