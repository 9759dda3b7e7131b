// Package stores provides Redis-backed, short-lived record stores for
// password reset codes.
//
// # Design
//
// Each record is a versioned, binary-encoded value with a TTL, keyed by the
// normalized email address, so a new request replaces any pending code. Consume
// uses a WATCH/MULTI optimistic transaction with retry on contention. Records are
// single-use and enforce an attempt limit. Secret comparisons are constant-time.
//
// # What this package must NOT do
//
//   - Import shopauth or any sibling internal package.
//   - Log or expose plaintext codes.
package stores
