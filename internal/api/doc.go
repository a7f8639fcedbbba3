// Package api serves the REST surface of derailed: accounts, sessions,
// guilds, channels, and messages.
//
// # Write path
//
// Every mutating endpoint follows the same shape: authorize, write to the
// store, then publish the matching event to the bus. Events are published
// only after the write commits, so a delivered event always describes
// persisted state. Publishing is fire-and-forget; event distribution never
// fails or delays an HTTP response.
//
// # Authentication
//
// All endpoints except register and login require a bearer token. Routine
// requests verify through the session authority's cached path; the rare
// operations that must observe revocation immediately (account deletion)
// re-verify against the store.
//
// # Authorization
//
// Reads require guild membership. Guild and channel management requires
// guild ownership. Messages can be deleted by their author or the guild
// owner.
package api
