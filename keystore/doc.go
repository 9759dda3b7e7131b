// Package keystore persists the single live session record of each user in Redis:
// the per-session Ed25519 key pair, the digest of the current refresh token, and a
// bounded most-recent-first list of superseded refresh-token digests.
//
// # Rotation
//
// [Store.CompareAndRotate] is one Lua script. The presented digest is compared with
// the current digest and, on match, replaced and pushed onto the superseded list in
// the same script execution. Two callers presenting the same token can never both
// succeed.
//
// # Architecture boundaries
//
// This package owns persistence only. It does NOT parse tokens, decide between
// rotation and revocation, or look up users. The superseded list is exposed through
// [Store.WasSuperseded] for reuse detection and never authorizes anything.
//
// # What this package must NOT do
//
//   - Import shopauth or token (no upward imports).
//   - Store raw refresh tokens; only SHA-256 digests are written.
//   - Expose the private key through exported fields or log output.
package keystore
