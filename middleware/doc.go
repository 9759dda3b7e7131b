// Package middleware exposes HTTP middleware that authenticates bearer access
// tokens through a shopauth.Engine.
//
// # Guards
//
//   - [Guard]: requires a valid, unexpired access token.
//   - [RequireRefreshIdentity]: accepts an expired access token, for the refresh endpoint.
//   - [RequireRole]: restricts an already guarded route to the listed roles.
//
// Each guard reads the Authorization header, calls the engine, and stores the
// resulting shopauth.Identity in the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself; all decisions are delegated to the Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Distinguish "no session" from "bad signature" in its responses.
package middleware
