// ABOUTME: Event bus assigning per-stream sequence numbers and fanning out to subscribers
// ABOUTME: Publish is fire-and-forget; slow consumers are handled by the delivery queues

package pubsub

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// ErrSequenceExhausted means a stream's sequence counter overflowed. Fatal
// to that stream; an invariant violation, not a recoverable condition.
var ErrSequenceExhausted = errors.New("sequence counter exhausted")

type busShard struct {
	mu  sync.Mutex
	seq map[string]uint64
}

// Bus routes domain events to subscribed connections in per-stream order.
// Sequence allocation and fan-out happen under a per-stream shard lock, so
// every subscriber's queue observes one stream's events in sequence order;
// publishes to unrelated streams proceed in parallel.
type Bus struct {
	registry *Registry
	logger   *slog.Logger
	shards   [numShards]busShard

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates a bus fanning out through the given registry.
// Pass nil logger for default.
func NewBus(registry *Registry, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		registry: registry,
		logger:   logger.With("component", "bus"),
	}
	for i := range b.shards {
		b.shards[i].seq = make(map[string]uint64)
	}
	return b
}

func (b *Bus) shardFor(key string) *busShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &b.shards[h.Sum32()%numShards]
}

// Publish assigns the event's sequence number (monotonic from 1 within its
// stream) and enqueues it on every resolved subscriber's delivery queue.
// It never blocks on a slow consumer: overflowing queues evict their oldest
// event and signal a gap to their own connection only.
//
// Returns the sequenced event. Errors indicate caller bugs (scopeless
// event) or sequence exhaustion, never subscriber state.
func (b *Bus) Publish(ev *Event) (*Event, error) {
	key := ev.StreamKey()
	if key == "" {
		return nil, fmt.Errorf("event %q has no guild or channel scope", ev.Type)
	}

	shard := b.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if shard.seq[key] == math.MaxUint64 {
		b.logger.Error("invariant violation: sequence counter exhausted",
			"stream", key, "type", string(ev.Type))
		return nil, fmt.Errorf("%w: stream %s", ErrSequenceExhausted, key)
	}
	shard.seq[key]++
	ev.Sequence = shard.seq[key]

	b.published.Add(1)
	for _, sub := range b.registry.resolve(ev) {
		dropped, err := sub.queue.Push(ev)
		if errors.Is(err, ErrConnectionClosed) {
			// Torn down between resolve and push; the registry entry is
			// on its way out.
			continue
		}
		if dropped {
			b.dropped.Add(1)
			b.logger.Debug("evicted event for slow connection",
				"connection_id", sub.id, "stream", key, "sequence", ev.Sequence)
		}
		b.delivered.Add(1)
	}

	return ev, nil
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Stats returns cumulative publish/delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}
