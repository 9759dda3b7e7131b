package token

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidSignature covers every verification failure other than expiry,
	// including a subject with no session on file.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrTokenExpired is returned when a correctly signed token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrMalformedKey is returned when key material cannot sign.
	ErrMalformedKey = errors.New("malformed signing key")
	// ErrKeyNotFound is returned by a [KeyLookup] when the user has no session.
	ErrKeyNotFound = errors.New("verification key not found")
)

const defaultMaxFutureIAT = 10 * time.Minute

// Type distinguishes access tokens from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Config controls token lifetimes and registered-claim checks.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	// Leeway tolerates clock skew on exp/iat checks. At most two minutes.
	Leeway time.Duration
	// MaxFutureIAT rejects tokens issued too far in the future. Zero means ten minutes.
	MaxFutureIAT time.Duration
}

func (c Config) validate() error {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("invalid TTL configuration")
	}
	if c.Leeway < 0 || c.Leeway > 2*time.Minute {
		return errors.New("invalid leeway configuration")
	}
	if c.MaxFutureIAT < 0 || c.MaxFutureIAT > 24*time.Hour {
		return errors.New("invalid MaxFutureIAT configuration")
	}
	return nil
}

// Option customizes an [Issuer] or [Verifier].
type Option func(*options)

type options struct {
	now  func() time.Time
	rand io.Reader
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRand overrides the random source used for key generation and refresh nonces.
func WithRand(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// KeyPair is the Ed25519 key material of one session.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// LogValue keeps the private key out of structured logs.
func (k KeyPair) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("public_key_len", len(k.Public)))
}

// Pair is an access token and its refresh token.
type Pair struct {
	Access  string
	Refresh string
}

// AccessClaims are the claims of an access token.
type AccessClaims struct {
	Role string `json:"role"`
	Type Type   `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims of a refresh token. The nonce is the registered `jti`.
type RefreshClaims struct {
	Type Type `json:"typ"`
	jwt.RegisteredClaims
}

// KeyLookup resolves the public key of a user's live session.
// Implementations return [ErrKeyNotFound] when no session exists.
type KeyLookup interface {
	PublicKey(ctx context.Context, userID string) (ed25519.PublicKey, error)
}

// KeyLookupFunc adapts a function to [KeyLookup].
type KeyLookupFunc func(ctx context.Context, userID string) (ed25519.PublicKey, error)

func (f KeyLookupFunc) PublicKey(ctx context.Context, userID string) (ed25519.PublicKey, error) {
	return f(ctx, userID)
}
