// Package token signs and verifies the access and refresh tokens of a session.
//
// Every session owns a fresh Ed25519 key pair. Tokens are EdDSA JWTs signed with
// the session's private key and verified against the public key currently on file
// for the claimed subject, so removing a session invalidates every token it issued.
//
// Access tokens carry `typ=access` and the user's role. Refresh tokens carry
// `typ=refresh` and a random UUIDv4 `jti`, so two refresh tokens issued in the same
// second are never byte-identical.
package token
