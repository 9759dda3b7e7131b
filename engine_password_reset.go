package shopauth

import (
	"context"
	"errors"

	"github.com/storefront/shopauth/internal/flows"
	"github.com/storefront/shopauth/keystore"
)

// RequestPasswordReset mails a one-time code to the user behind emailOrPhone
// and returns the address it was sent to. A new request replaces any pending
// code for the same user.
func (e *Engine) RequestPasswordReset(ctx context.Context, emailOrPhone string) (email string, err error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "RequestPasswordReset")
	defer func() { endSpan(span, err) }()
	defer func() { e.metrics.passwordReset("request", err) }()

	if NormalizeIdentifier(emailOrPhone) == "" {
		return "", ErrInvalidRequest
	}
	return flows.RunRequestPasswordReset(ctx, emailOrPhone, e.flows.PasswordReset)
}

// ConfirmPasswordReset checks code against the one mailed to email. On a
// match the password is replaced by a random temporary one, which is mailed
// to the user, and the session is revoked.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, code string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "ConfirmPasswordReset")
	defer func() { endSpan(span, err) }()
	defer func() { e.metrics.passwordReset("confirm", err) }()

	err = flows.RunConfirmPasswordReset(ctx, NormalizeIdentifier(email), code, e.flows.PasswordReset)
	if errors.Is(err, keystore.ErrStoreUnavailable) {
		return keyStoreErr(err)
	}
	return err
}
