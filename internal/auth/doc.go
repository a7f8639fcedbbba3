// Package auth provides password hashing and credential parsing for derailed.
//
// Passwords are hashed with argon2id using fixed parameters; the encoded hash
// is self-describing so verification keeps working if parameters change.
//
// Token issuance and verification live in internal/session; this package only
// handles the pieces that touch raw credentials.
package auth
