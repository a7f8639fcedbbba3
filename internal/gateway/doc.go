// Package gateway runs the derailed server: the HTTP listener carrying the
// REST API and the websocket endpoint that streams realtime events.
//
// # Connection lifecycle
//
// A websocket client moves through a strict state machine:
//
//	Connecting -> Authenticating -> Active -> Closing -> Closed
//
// After the upgrade the client has a bounded window to send an identify
// frame carrying a bearer token. The token is verified freshly against the
// session store, so a revoked session can never open a live event stream.
// Once active, the client subscribes to guild and channel scopes and
// receives events in per-stream sequence order.
//
// # Wire protocol
//
// Frames are JSON text messages. Client ops: identify, subscribe,
// unsubscribe. Server ops: ready, ack, event, error. Subscribe frames carry
// exactly one of guild_id or channel_id.
//
// # Teardown
//
// Teardown is atomic with respect to delivery: the connection's queue is
// closed before its scope registrations are removed, so an event published
// concurrently with teardown either reached the queue before close (and is
// discarded with it) or fails to enqueue. No goroutine is left writing to a
// dead socket.
//
// # Overload
//
// Each connection owns a bounded delivery queue. When a client reads too
// slowly the oldest buffered events are evicted and the client receives a
// gap event before anything newer, telling it to resynchronize over the
// REST API. One slow client never blocks publishers or other clients.
package gateway
