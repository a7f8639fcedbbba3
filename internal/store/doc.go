// Package store provides persistence for derailed.
//
// # Entities
//
// The store owns the durable side of the system:
//
//   - Account: registered users (email + argon2id password hash)
//   - Session: server-side records backing issued tokens; the unit of revocation
//   - Guild, Channel: the container hierarchy for messages
//   - Message: chat messages, preserved with a null author after account deletion
//
// # Implementation
//
// SQLiteStore is the only implementation, using modernc.org/sqlite (pure Go,
// no cgo). WAL mode is enabled for concurrent readers, foreign keys are
// enforced, and deletes cascade so removing a guild or account cleans up its
// dependents in a single statement.
//
// The real-time core (internal/pubsub, internal/session) consumes this
// package only through narrow interfaces: session lookup for token
// verification and membership checks for subscription authorization.
package store
