package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/storefront/shopauth"
	"github.com/storefront/shopauth/oauth/google"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shopauth.ErrInvalidRole),
		errors.Is(err, shopauth.ErrInvalidRequest),
		errors.Is(err, shopauth.ErrPasswordPolicy):
		return http.StatusBadRequest
	case errors.Is(err, shopauth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, shopauth.ErrUserAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, shopauth.ErrWrongPassword),
		errors.Is(err, shopauth.ErrInvalidRefreshToken),
		errors.Is(err, shopauth.ErrSessionNotFound),
		errors.Is(err, shopauth.ErrUnauthorized),
		errors.Is(err, shopauth.ErrPasswordResetInvalid),
		errors.Is(err, google.ErrEmailNotVerified),
		errors.Is(err, google.ErrExchange):
		return http.StatusUnauthorized
	case errors.Is(err, shopauth.ErrTokenReuseDetected):
		return http.StatusForbidden
	case errors.Is(err, shopauth.ErrPasswordResetAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, shopauth.ErrStoreUnavailable),
		errors.Is(err, shopauth.ErrPasswordResetUnavailable),
		errors.Is(err, shopauth.ErrEngineNotReady),
		errors.Is(err, google.ErrUserInfo):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) mapError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("op", op),
			slog.Int("status", status),
			slog.String("err", err.Error()),
		)
	}
	switch status {
	case http.StatusInternalServerError:
		writeError(w, status, "internal error")
	case http.StatusServiceUnavailable:
		writeError(w, status, "service unavailable")
	default:
		writeError(w, status, publicMessage(err))
	}
}

// publicMessage strips wrapped detail from err, keeping the sentinel text.
func publicMessage(err error) string {
	for _, sentinel := range []error{
		shopauth.ErrInvalidRole,
		shopauth.ErrInvalidRequest,
		shopauth.ErrPasswordPolicy,
		shopauth.ErrUserNotFound,
		shopauth.ErrUserAlreadyExists,
		shopauth.ErrWrongPassword,
		shopauth.ErrInvalidRefreshToken,
		shopauth.ErrSessionNotFound,
		shopauth.ErrUnauthorized,
		shopauth.ErrPasswordResetInvalid,
		shopauth.ErrTokenReuseDetected,
		shopauth.ErrPasswordResetAttempts,
		google.ErrEmailNotVerified,
		google.ErrExchange,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
