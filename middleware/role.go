package middleware

import (
	"net/http"

	"github.com/storefront/shopauth"
)

// RequireRole must run after a guard. Callers whose role is not listed get 403.
func RequireRole(roles ...shopauth.Role) func(http.Handler) http.Handler {
	allowed := make(map[shopauth.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shopauth.IdentityFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
