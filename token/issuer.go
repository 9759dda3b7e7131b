package token

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer generates session key pairs and signs tokens with them.
type Issuer struct {
	config Config
	opts   options
}

// NewIssuer validates cfg and returns an [Issuer].
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Issuer{config: cfg, opts: buildOptions(opts)}, nil
}

// GenerateKeyPair returns a fresh Ed25519 key pair from the configured random source.
func (i *Issuer) GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(i.opts.rand)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generating session key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Issue signs an access token and a refresh token for userID.
func (i *Issuer) Issue(userID, role string, kp KeyPair) (Pair, error) {
	access, err := i.IssueAccess(userID, role, kp)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.IssueRefresh(userID, kp)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// IssueAccess signs an access token carrying role.
func (i *Issuer) IssueAccess(userID, role string, kp KeyPair) (string, error) {
	claims := AccessClaims{
		Role:             role,
		Type:             TypeAccess,
		RegisteredClaims: i.registered(userID, i.config.AccessTTL),
	}
	return sign(claims, kp)
}

// IssueRefresh signs a refresh token with a random nonce.
func (i *Issuer) IssueRefresh(userID string, kp KeyPair) (string, error) {
	nonce, err := uuid.NewRandomFromReader(i.opts.rand)
	if err != nil {
		return "", fmt.Errorf("generating refresh nonce: %w", err)
	}
	claims := RefreshClaims{
		Type:             TypeRefresh,
		RegisteredClaims: i.registered(userID, i.config.RefreshTTL),
	}
	claims.ID = nonce.String()
	return sign(claims, kp)
}

func (i *Issuer) registered(userID string, ttl time.Duration) jwt.RegisteredClaims {
	now := i.opts.now()
	rc := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    i.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if i.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{i.config.Audience}
	}
	return rc
}

func sign(claims jwt.Claims, kp KeyPair) (string, error) {
	if len(kp.Private) != ed25519.PrivateKeySize {
		return "", ErrMalformedKey
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(kp.Private)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return signed, nil
}
