package flows

import (
	"context"
	"errors"

	"github.com/storefront/shopauth/keystore"
	"github.com/storefront/shopauth/token"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	// RefreshFailureInvalid: bad signature, wrong type, or expired refresh token.
	RefreshFailureInvalid
	// RefreshFailureReuse: the token was already rotated away; the session is revoked.
	RefreshFailureReuse
	// RefreshFailureSessionNotFound: no session, or a token from a replaced lineage.
	RefreshFailureSessionNotFound
	RefreshFailureUserLookup
	RefreshFailureStore
	RefreshFailureIssue
)

// String returns the metric/audit label of k.
func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "success"
	case RefreshFailureInvalid:
		return "invalid"
	case RefreshFailureReuse:
		return "reuse"
	case RefreshFailureSessionNotFound:
		return "not_found"
	case RefreshFailureUserLookup:
		return "user_lookup"
	case RefreshFailureStore:
		return "store"
	case RefreshFailureIssue:
		return "issue"
	default:
		return "unknown"
	}
}

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	UserID  string
	Tokens  token.Pair
	// RevokeErr is set when reuse was detected but removing the session failed.
	RevokeErr error
}

// RefreshKeyStore is the key store surface the refresh protocol needs.
type RefreshKeyStore interface {
	Get(ctx context.Context, userID string) (*keystore.Session, error)
	CompareAndRotate(ctx context.Context, userID, presented, next string) error
	WasSuperseded(ctx context.Context, userID, token string) (bool, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	VerifyRefresh func(ctx context.Context, tokenStr, userID string) error
	// LookupRole returns the role carried by the next access token.
	LookupRole   func(ctx context.Context, userID string) (string, error)
	IssueAccess  func(userID, role string, kp token.KeyPair) (string, error)
	IssueRefresh func(userID string, kp token.KeyPair) (string, error)
	KeyStore     RefreshKeyStore
	Revoker      *Revoker
}

// RunRefresh verifies the presented refresh token and rotates it. Of concurrent
// callers presenting the same token exactly one wins; the others find the token
// in the superseded list and revoke the session.
func RunRefresh(ctx context.Context, userID, presented string, deps RefreshDeps) RefreshResult {
	if err := deps.VerifyRefresh(ctx, presented, userID); err != nil {
		if errors.Is(err, token.ErrInvalidSignature) || errors.Is(err, token.ErrTokenExpired) {
			return RefreshResult{Failure: RefreshFailureInvalid, Err: err, UserID: userID}
		}
		return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: userID}
	}

	sess, err := deps.KeyStore.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: err, UserID: userID}
		}
		return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: userID}
	}

	role, err := deps.LookupRole(ctx, userID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureUserLookup, Err: err, UserID: userID}
	}

	kp := token.KeyPair{Public: sess.PublicKey, Private: sess.PrivateKey()}

	// Both tokens are signed before the swap so a committed rotation always
	// reaches the caller.
	next, err := deps.IssueRefresh(userID, kp)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, UserID: userID}
	}
	access, err := deps.IssueAccess(userID, role, kp)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, UserID: userID}
	}

	err = deps.KeyStore.CompareAndRotate(ctx, userID, presented, next)
	switch {
	case err == nil:
		return RefreshResult{
			Failure: RefreshFailureNone,
			UserID:  userID,
			Tokens:  token.Pair{Access: access, Refresh: next},
		}
	case errors.Is(err, keystore.ErrRefreshMismatch):
		return handleMismatch(ctx, userID, presented, err, deps)
	case errors.Is(err, keystore.ErrNotFound):
		return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: err, UserID: userID}
	default:
		return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: userID}
	}
}

func handleMismatch(ctx context.Context, userID, presented string, mismatch error, deps RefreshDeps) RefreshResult {
	reused, err := deps.KeyStore.WasSuperseded(ctx, userID, presented)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: userID}
	}
	if !reused {
		return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: mismatch, UserID: userID}
	}

	result := RefreshResult{Failure: RefreshFailureReuse, Err: mismatch, UserID: userID}
	if revokeErr := deps.Revoker.Revoke(ctx, userID, RevokeReuse); revokeErr != nil {
		result.RevokeErr = revokeErr
	}
	return result
}
