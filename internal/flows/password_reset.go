package flows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/storefront/shopauth/internal"
	"github.com/storefront/shopauth/internal/stores"
)

// PasswordResetUser is the flow-local view of the account being reset.
type PasswordResetUser struct {
	UserID string
	Email  string
}

type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetConfirm string
}

type PasswordResetErrors struct {
	UserNotFound             error
	PasswordResetInvalid     error
	PasswordResetAttempts    error
	PasswordResetUnavailable error
}

// PasswordResetStore persists pending reset codes keyed by email.
type PasswordResetStore interface {
	Save(ctx context.Context, email string, record *stores.PasswordResetRecord, ttl time.Duration) error
	Consume(ctx context.Context, email string, providedHash [32]byte, maxAttempts int) (*stores.PasswordResetRecord, error)
}

type PasswordResetDeps struct {
	CodeDigits              int
	ResetTTL                time.Duration
	MaxAttempts             int
	TemporaryPasswordLength int
	Now                     func() time.Time
	Rand                    io.Reader
	FindUser                func(ctx context.Context, emailOrPhone string) (PasswordResetUser, error)
	SetPassword             func(ctx context.Context, userID, newPassword string) error
	SendCode                func(ctx context.Context, email, code string) error
	SendTemporaryPassword   func(ctx context.Context, email, password string) error
	Store                   PasswordResetStore
	Revoker                 *Revoker
	EmitAudit               func(ctx context.Context, event string, success bool, userID string, err error)

	Events PasswordResetEvents
	Errors PasswordResetErrors
}

// RunRequestPasswordReset stores a fresh one-time code for the user behind
// emailOrPhone, replacing any pending one, and mails it. It returns the email the
// code was sent to.
func RunRequestPasswordReset(ctx context.Context, emailOrPhone string, deps PasswordResetDeps) (string, error) {
	normalizePasswordResetDeps(&deps)

	user, err := deps.FindUser(ctx, emailOrPhone)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", err)
		return "", err
	}
	if user.Email == "" {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, user.UserID, deps.Errors.UserNotFound)
		return "", deps.Errors.UserNotFound
	}

	code, err := internal.NewOTP(deps.Rand, deps.CodeDigits)
	if err != nil {
		return "", fmt.Errorf("%w: %v", deps.Errors.PasswordResetUnavailable, err)
	}

	record := &stores.PasswordResetRecord{
		UserID:     user.UserID,
		SecretHash: internal.HashCode(code),
		ExpiresAt:  deps.Now().Add(deps.ResetTTL).Unix(),
	}
	if err := deps.Store.Save(ctx, user.Email, record, deps.ResetTTL); err != nil {
		mapped := fmt.Errorf("%w: %v", deps.Errors.PasswordResetUnavailable, err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, user.UserID, mapped)
		return "", mapped
	}

	if err := deps.SendCode(ctx, user.Email, code); err != nil {
		mapped := fmt.Errorf("%w: sending code: %v", deps.Errors.PasswordResetUnavailable, err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, user.UserID, mapped)
		return "", mapped
	}

	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, user.UserID, nil)
	return user.Email, nil
}

// RunConfirmPasswordReset consumes the code mailed to email, replaces the
// password with a random temporary one, revokes the session, and mails the
// temporary password.
func RunConfirmPasswordReset(ctx context.Context, email, code string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if email == "" || code == "" {
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", deps.Errors.PasswordResetInvalid)
		return deps.Errors.PasswordResetInvalid
	}

	record, err := deps.Store.Consume(ctx, email, internal.HashCode(code), deps.MaxAttempts)
	if err != nil {
		var mapped error
		switch {
		case errors.Is(err, stores.ErrResetAttemptsExceeded):
			mapped = deps.Errors.PasswordResetAttempts
		case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetSecretMismatch):
			mapped = deps.Errors.PasswordResetInvalid
		default:
			mapped = fmt.Errorf("%w: %v", deps.Errors.PasswordResetUnavailable, err)
		}
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", mapped)
		return mapped
	}

	temporary, err := internal.NewTemporaryPassword(deps.Rand, deps.TemporaryPasswordLength)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.PasswordResetUnavailable, err)
	}

	if err := deps.SetPassword(ctx, record.UserID, temporary); err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, record.UserID, err)
		return err
	}

	if err := deps.Revoker.Revoke(ctx, record.UserID, RevokePasswordReset); err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, record.UserID, err)
		return err
	}

	if err := deps.SendTemporaryPassword(ctx, email, temporary); err != nil {
		mapped := fmt.Errorf("%w: sending temporary password: %v", deps.Errors.PasswordResetUnavailable, err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, record.UserID, mapped)
		return mapped
	}

	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, record.UserID, nil)
	return nil
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.CodeDigits == 0 {
		deps.CodeDigits = 6
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 5
	}
	if deps.TemporaryPasswordLength == 0 {
		deps.TemporaryPasswordLength = 12
	}
	if deps.ResetTTL <= 0 {
		deps.ResetTTL = 15 * time.Minute
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error) {}
	}
}
