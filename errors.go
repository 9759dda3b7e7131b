package shopauth

import "errors"

var (
	// ErrUserNotFound is returned when no user (or no password credential) matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserAlreadyExists is returned by Register when the email or phone is taken.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrWrongPassword is returned when a password does not match the stored credential.
	ErrWrongPassword = errors.New("wrong password")
	// ErrInvalidRole is returned for roles outside admin, customer and staff.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidRequest is returned for missing or malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPasswordPolicy is returned when a new password violates the hasher policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidRefreshToken is returned for refresh tokens that fail verification.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrTokenReuseDetected is returned when a rotated-away refresh token is
	// presented. The session has already been revoked when it is returned.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrSessionNotFound is returned when the user has no live session, or the
	// presented token belongs to a replaced one.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnauthorized is returned when an access token does not authenticate.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPasswordResetInvalid is returned for unknown, expired or wrong reset codes.
	ErrPasswordResetInvalid = errors.New("password reset challenge invalid")
	// ErrPasswordResetAttempts is returned once a reset code has taken too many wrong guesses.
	ErrPasswordResetAttempts = errors.New("password reset attempts exceeded")
	// ErrPasswordResetUnavailable is returned when the reset backend or mailer fails.
	ErrPasswordResetUnavailable = errors.New("password reset backend unavailable")
	// ErrStoreUnavailable is returned when Redis or the identity store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
