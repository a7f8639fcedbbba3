// Package pubsub implements derailed's real-time event distribution core.
//
// # Components
//
//   - Event: immutable domain events (message/channel/guild changes) carrying
//     their guild and channel scope and a per-stream sequence number.
//   - Registry: tracks which connections subscribe to which guilds and
//     channels, authorizing every subscription against guild membership.
//   - Bus: assigns sequence numbers at publish time and fans events out to
//     every resolved subscriber's delivery queue.
//   - Queue: the bounded per-connection delivery buffer decoupling publishers
//     from slow consumers.
//
// # Ordering
//
// Events in one stream (a channel, or a guild for guild-level events) are
// observed by every subscriber in sequence order, gaps excepted. Sequence
// allocation and fan-out happen under a per-stream shard lock; there is no
// global lock, so unrelated streams never contend. No ordering is promised
// across streams.
//
// # Overload policy
//
// Delivery queues drop their oldest event when full and deliver a synthetic
// gap event before anything newer, prompting the client to resynchronize.
// Publish never blocks and never fails because of a slow or closed
// subscriber.
//
// # Teardown
//
// Registry.UnsubscribeAll closes the connection's queue as its first
// effect: once the call begins, no published event can reach that
// connection, even when publish races with teardown.
package pubsub
