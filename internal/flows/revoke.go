package flows

import (
	"context"
)

// RevokeReason labels why a session was destroyed.
type RevokeReason string

const (
	RevokeLogout         RevokeReason = "logout"
	RevokeReuse          RevokeReason = "reuse"
	RevokePasswordChange RevokeReason = "password_change"
	RevokePasswordReset  RevokeReason = "password_reset"
)

// SessionRemover deletes the session record of a user.
type SessionRemover interface {
	Remove(ctx context.Context, userID string) error
}

// RevokeHook observes every revocation attempt, successful or not.
type RevokeHook func(ctx context.Context, userID string, reason RevokeReason, err error)

// Revoker destroys sessions. Removing an absent session succeeds.
type Revoker struct {
	store SessionRemover
	hook  RevokeHook
}

func NewRevoker(store SessionRemover, hook RevokeHook) *Revoker {
	return &Revoker{store: store, hook: hook}
}

// Revoke removes the session of userID. Every token it issued stops verifying.
func (r *Revoker) Revoke(ctx context.Context, userID string, reason RevokeReason) error {
	err := r.store.Remove(ctx, userID)
	if r.hook != nil {
		r.hook(ctx, userID, reason, err)
	}
	return err
}
