package flows

import (
	"context"

	"github.com/storefront/shopauth/token"
)

// SessionDeps captures what it takes to start a session.
type SessionDeps struct {
	GenerateKeyPair func() (token.KeyPair, error)
	Issue           func(userID, role string, kp token.KeyPair) (token.Pair, error)
	// Put replaces any existing session of userID.
	Put func(ctx context.Context, userID string, kp token.KeyPair, refreshToken string) error
}

// RunEstablishSession provisions a fresh key pair, signs a token pair with it and
// stores the session, overwriting the previous one.
func RunEstablishSession(ctx context.Context, userID, role string, deps SessionDeps) (token.Pair, error) {
	kp, err := deps.GenerateKeyPair()
	if err != nil {
		return token.Pair{}, err
	}

	pair, err := deps.Issue(userID, role, kp)
	if err != nil {
		return token.Pair{}, err
	}

	if err := deps.Put(ctx, userID, kp, pair.Refresh); err != nil {
		return token.Pair{}, err
	}
	return pair, nil
}
