package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/storefront/shopauth"
)

// Authenticator resolves a bearer access token. *shopauth.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (shopauth.Identity, error)
	AuthenticateForRefresh(ctx context.Context, accessToken string) (shopauth.Identity, error)
}

// Guard rejects requests without a valid access token with 401.
func Guard(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, false)
}

func guard(auth Authenticator, allowExpired bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				unauthorized(w)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			var (
				id  shopauth.Identity
				err error
			)
			if allowExpired {
				id, err = auth.AuthenticateForRefresh(r.Context(), token)
			} else {
				id, err = auth.Authenticate(r.Context(), token)
			}
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := shopauth.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="shopauth"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
