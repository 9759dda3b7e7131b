package token

import (
	"context"
	"crypto/ed25519"
	"errors"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks tokens against the public key of the claimed subject's session.
type Verifier struct {
	config Config
	keys   KeyLookup
	opts   options
}

// NewVerifier validates cfg and returns a [Verifier] resolving keys through keys.
func NewVerifier(cfg Config, keys KeyLookup, opts ...Option) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New("key lookup is required")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	return &Verifier{config: cfg, keys: keys, opts: buildOptions(opts)}, nil
}

// VerifyOption adjusts a single verification.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	allowExpired bool
}

// AllowExpired accepts a correctly signed access token past its expiry. The refresh
// endpoint uses it to establish identity; the signature, subject, type, issuer and
// audience are still checked.
func AllowExpired() VerifyOption {
	return func(o *verifyOptions) { o.allowExpired = true }
}

// VerifyAccess validates an access token issued to expectedUserID.
func (v *Verifier) VerifyAccess(ctx context.Context, tokenStr, expectedUserID string, opts ...VerifyOption) (*AccessClaims, error) {
	var vo verifyOptions
	for _, opt := range opts {
		opt(&vo)
	}
	claims := &AccessClaims{}
	if err := v.verify(ctx, tokenStr, expectedUserID, claims, &claims.RegisteredClaims, vo.allowExpired); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token issued to expectedUserID. It does not
// consult rotation state.
func (v *Verifier) VerifyRefresh(ctx context.Context, tokenStr, expectedUserID string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := v.verify(ctx, tokenStr, expectedUserID, claims, &claims.RegisteredClaims, false); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.ID == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// PeekSubject returns the unverified subject of tokenStr. The value only selects
// which key to verify against and must not be trusted on its own.
func PeekSubject(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return "", ErrInvalidSignature
	}
	if claims.Subject == "" {
		return "", ErrInvalidSignature
	}
	return claims.Subject, nil
}

func (v *Verifier) verify(
	ctx context.Context,
	tokenStr string,
	expectedUserID string,
	claims jwt.Claims,
	registered *jwt.RegisteredClaims,
	allowExpired bool,
) error {
	if tokenStr == "" || expectedUserID == "" {
		return ErrInvalidSignature
	}

	pub, err := v.keys.PublicKey(ctx, expectedUserID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return ErrInvalidSignature
		}
		return err
	}
	if len(pub) != ed25519.PublicKeySize {
		return ErrInvalidSignature
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(v.opts.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(v.config.Leeway))
	}
	if v.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		options = append(options, jwt.WithAudience(v.config.Audience))
	}
	if allowExpired {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	_, err = jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil {
		return classify(err)
	}

	if allowExpired {
		if err := v.checkRegistered(registered); err != nil {
			return err
		}
	}
	if registered.Subject != expectedUserID {
		return ErrInvalidSignature
	}
	if registered.IssuedAt != nil && registered.IssuedAt.After(v.opts.now().Add(v.config.MaxFutureIAT)) {
		return ErrInvalidSignature
	}
	return nil
}

// checkRegistered re-applies the issuer, audience and expiry-presence checks that
// claim validation skips when expired tokens are allowed.
func (v *Verifier) checkRegistered(rc *jwt.RegisteredClaims) error {
	if rc.ExpiresAt == nil {
		return ErrInvalidSignature
	}
	if v.config.Issuer != "" && rc.Issuer != v.config.Issuer {
		return ErrInvalidSignature
	}
	if v.config.Audience != "" && !slices.Contains([]string(rc.Audience), v.config.Audience) {
		return ErrInvalidSignature
	}
	return nil
}

func classify(err error) error {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return ErrInvalidSignature
	}
	for _, other := range []error{
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenUsedBeforeIssued,
		jwt.ErrTokenNotValidYet,
	} {
		if errors.Is(err, other) {
			return ErrInvalidSignature
		}
	}
	return ErrTokenExpired
}
