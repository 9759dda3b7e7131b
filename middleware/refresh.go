package middleware

import "net/http"

// RequireRefreshIdentity is [Guard] for the refresh endpoint: an expired access
// token still identifies the caller as long as its signature verifies against
// the live session key.
func RequireRefreshIdentity(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, true)
}
