// Package session implements the session authority for derailed.
//
// # Tokens
//
// Bearer tokens are HS256-signed JWTs carrying {sub: session_id, iat, exp}
// with second precision, issued with a 6-week default lifetime. A token is
// accepted iff its signature verifies, its expiry is in the future by the
// authority's own clock (no skew compensation), and the referenced session
// still exists.
//
// # Two-tier verification
//
// The signature and expiry check is always local. The session-existence
// check has two tiers:
//
//   - Authenticate: session lookups may be served from a short-lived
//     in-memory cache, so the hot real-time path avoids a store round trip
//     per event. A revocation can lag by at most the cache TTL.
//   - AuthenticateFresh: always hits the store; used where revocation must
//     be immediate (account deletion, gateway handshake).
//
// Revocation deletes the session record. There is no in-band renewal;
// clients re-authenticate when a token expires.
package session
