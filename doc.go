// Package shopauth manages the session and token lifecycle of the storefront
// backend: per-session Ed25519 key pairs, short-lived access tokens, and refresh
// tokens that rotate on every use with reuse detection.
//
// Engine methods are safe to call from multiple goroutines after initialization
// through [Builder.Build].
//
// # Architecture boundaries
//
// shopauth is the public surface. It exposes [Engine], [Builder], [Config] and value
// types (UserView, AuthResult, TokenPair). The key store lives in keystore, token
// signing in token, and flow orchestration under internal/. Identity stores,
// transports and mail delivery are collaborators behind [UserStore] and
// mail.Mailer.
//
// # Session model
//
// Each user has at most one session. Login replaces it, which invalidates every
// token signed under the previous key pair. Presenting a refresh token that has
// already been rotated away revokes the session.
//
// # What this package must NOT do
//
//   - Expose Redis clients, private keys or refresh token digests in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder performs none
//     until Build).
//   - Import any sub-package that re-imports shopauth (no import cycles).
package shopauth
