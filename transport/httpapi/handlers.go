package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/storefront/shopauth"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	EmailOrPhone string `json:"emailOrPhone"`
	Password     string `json:"password"`
}

// GoogleLoginRequest carries either an authorization code (when a Google
// provider is configured) or an email already verified by the caller.
type GoogleLoginRequest struct {
	Code  string `json:"code,omitempty"`
	Email string `json:"email,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type ForgotPasswordMailRequest struct {
	EmailOrPhone string `json:"emailOrPhone"`
}

type ForgotPasswordMailResponse struct {
	Email string `json:"email"`
}

type ForgotPasswordValidateRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status         string  `json:"status"`
	RedisLatencyMs float64 `json:"redisLatencyMs,omitempty"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, shopauth.ErrInvalidRequest.Error())
		return false
	}
	return true
}

// identity returns the caller placed in the context by the guard.
func identity(w http.ResponseWriter, r *http.Request) (shopauth.Identity, bool) {
	id, ok := shopauth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, shopauth.ErrUnauthorized.Error())
	}
	return id, ok
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	d, err := a.engine.Ping(r.Context())
	if err != nil {
		a.mapError(w, r, "health", err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		RedisLatencyMs: float64(d.Microseconds()) / 1000,
	})
}

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.Register(r.Context(), shopauth.RegisterInput{
		Email:    req.Email,
		Phone:    req.Phone,
		Name:     req.Name,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		a.mapError(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.Login(r.Context(), req.EmailOrPhone, req.Password)
	if err != nil {
		a.mapError(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) LoginGoogle(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		res shopauth.AuthResult
		err error
	)
	switch {
	case a.google != nil:
		res, err = a.google.Login(r.Context(), a.engine, req.Code)
	case req.Email != "":
		res, err = a.engine.LoginWithGoogle(r.Context(), req.Email)
	default:
		err = shopauth.ErrInvalidRequest
	}
	if err != nil {
		a.mapError(w, r, "login_google", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) GoogleURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"url": a.google.AuthCodeURL(r.URL.Query().Get("state")),
	})
}

func (a *API) RefreshToken(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := a.engine.Refresh(r.Context(), id.UserID, req.RefreshToken)
	if err != nil {
		a.mapError(w, r, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := a.engine.Logout(r.Context(), id.UserID); err != nil {
		a.mapError(w, r, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logout successfully"})
}

func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.ChangePassword(r.Context(), id.UserID, req.OldPassword, req.NewPassword); err != nil {
		a.mapError(w, r, "change_password", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Change password successfully"})
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	view, err := a.engine.Me(r.Context(), id.UserID)
	if err != nil {
		a.mapError(w, r, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) ForgotPasswordMail(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordMailRequest
	if !decode(w, r, &req) {
		return
	}
	email, err := a.engine.RequestPasswordReset(r.Context(), req.EmailOrPhone)
	if err != nil {
		a.mapError(w, r, "forgot_password_mail", err)
		return
	}
	writeJSON(w, http.StatusOK, ForgotPasswordMailResponse{Email: email})
}

func (a *API) ForgotPasswordValidate(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordValidateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.ConfirmPasswordReset(r.Context(), req.Email, req.Code); err != nil {
		a.mapError(w, r, "forgot_password_validate", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Validate code successfully"})
}
