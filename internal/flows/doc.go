// Package flows contains the orchestrators behind Engine operations: session
// establishment, refresh rotation with reuse detection, revocation, and password
// reset.
//
// Each flow function accepts a typed dependency struct and returns results without
// side effects beyond those dependencies, so flows are tested with fakes and the
// Engine stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate the key store, token issuer/verifier, identity store
// and mailer. They do NOT own any of these resources; ownership stays with the
// Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import shopauth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
