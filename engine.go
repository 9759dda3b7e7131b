package shopauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	internalaudit "github.com/storefront/shopauth/internal/audit"
	"github.com/storefront/shopauth/internal/flows"
	"github.com/storefront/shopauth/internal/stores"
	"github.com/storefront/shopauth/keystore"
	"github.com/storefront/shopauth/mail"
	"github.com/storefront/shopauth/password"
	"github.com/storefront/shopauth/token"
)

// Engine serves the authentication operations. It owns no session state of
// its own: sessions live in Redis and users in the [UserStore].
//
// Engine instances are configured once through [Builder] and are safe for
// concurrent use.
type Engine struct {
	config   Config
	users    UserStore
	keys     *keystore.Store
	issuer   *token.Issuer
	verifier *token.Verifier
	hasher   *password.Hasher
	resets   *stores.PasswordResetStore
	flows    flows.Deps
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
	mailer   mail.Mailer
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	rand     io.Reader
	ids      *idSource
}

// Close flushes pending audit events and stops the dispatcher worker.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Ping checks that the key store is reachable and returns its round trip time.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	d, err := e.keys.Ping(ctx)
	if err != nil {
		return 0, keyStoreErr(err)
	}
	return d, nil
}

/*
====================================
REGISTER / LOGIN
====================================
*/

// Register creates a user with a password credential and starts its session.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (res AuthResult, err error) {
	if e == nil {
		return AuthResult{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Register")
	defer func() { endSpan(span, err) }()
	defer func() { e.metrics.register(err) }()

	email := NormalizeIdentifier(in.Email)
	phone := NormalizeIdentifier(in.Phone)
	if email == "" || !strings.Contains(email, "@") {
		return AuthResult{}, fmt.Errorf("%w: email is required", ErrInvalidRequest)
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		e.emitAudit(ctx, auditEventRegister, false, "", "", err, nil)
		return AuthResult{}, err
	}
	if err := e.hasher.CheckPolicy(in.Password); err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	for _, identifier := range []string{email, phone} {
		if identifier == "" {
			continue
		}
		_, lookupErr := e.users.FindByEmailOrPhone(ctx, identifier)
		switch {
		case lookupErr == nil:
			e.emitAudit(ctx, auditEventRegister, false, "", "", ErrUserAlreadyExists, nil)
			return AuthResult{}, ErrUserAlreadyExists
		case !errors.Is(lookupErr, ErrUserNotFound):
			return AuthResult{}, userStoreErr(lookupErr)
		}
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	now := e.now().UTC()
	user, err := e.newUser(now, role, email, phone, strings.TrimSpace(in.Name))
	if err != nil {
		return AuthResult{}, err
	}
	cred := &Credential{UserID: user.ID, PasswordHash: hash, UpdatedAt: now}
	if err := e.users.Create(ctx, user, cred); err != nil {
		err = userStoreErr(err)
		e.emitAudit(ctx, auditEventRegister, false, "", "", err, nil)
		return AuthResult{}, err
	}

	res, err = e.startSession(ctx, user)
	if err != nil {
		e.emitAudit(ctx, auditEventRegister, false, user.ID, "", err, nil)
		return AuthResult{}, err
	}

	if e.config.Mail.SendWelcome {
		if mailErr := e.mailer.Send(ctx, mail.Welcome(email)); mailErr != nil {
			e.logger.WarnContext(ctx, "welcome mail failed", "op", "register", "user_id", user.ID, "err", mailErr)
		}
	}

	e.emitAudit(ctx, auditEventRegister, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"role": string(role)}
	})
	return res, nil
}

// Login verifies a password and replaces the user's session with a new one.
// Tokens of the previous session stop verifying immediately.
func (e *Engine) Login(ctx context.Context, emailOrPhone, pwd string) (res AuthResult, err error) {
	if e == nil {
		return AuthResult{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Login")
	defer func() { endSpan(span, err) }()
	defer func() { e.metrics.login("password", err) }()

	identifier := NormalizeIdentifier(emailOrPhone)
	if identifier == "" || pwd == "" {
		return AuthResult{}, fmt.Errorf("%w: emailOrPhone and password are required", ErrInvalidRequest)
	}

	user, err := e.users.FindByEmailOrPhone(ctx, identifier)
	if err != nil {
		err = userStoreErr(err)
		e.emitAudit(ctx, auditEventLogin, false, "", "", err, nil)
		return AuthResult{}, err
	}
	cred, err := e.users.Credential(ctx, user.ID)
	if err != nil {
		err = userStoreErr(err)
		e.emitAudit(ctx, auditEventLogin, false, user.ID, "", err, nil)
		return AuthResult{}, err
	}

	ok, err := e.hasher.Verify(pwd, cred.PasswordHash)
	if err != nil {
		e.logger.ErrorContext(ctx, "stored password hash unreadable", "op", "login", "user_id", user.ID, "err", err)
		return AuthResult{}, err
	}
	if !ok {
		e.emitAudit(ctx, auditEventLogin, false, user.ID, "", ErrWrongPassword, nil)
		return AuthResult{}, ErrWrongPassword
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, user.ID, pwd, cred.PasswordHash)
	}

	res, err = e.startSession(ctx, user)
	if err != nil {
		e.emitAudit(ctx, auditEventLogin, false, user.ID, "", err, nil)
		return AuthResult{}, err
	}

	e.emitAudit(ctx, auditEventLogin, true, user.ID, "", nil, nil)
	return res, nil
}

// LoginWithGoogle starts a session for an email already verified by Google.
// Unknown emails get a new customer account without a password credential.
func (e *Engine) LoginWithGoogle(ctx context.Context, verifiedEmail string) (res AuthResult, err error) {
	if e == nil {
		return AuthResult{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "LoginWithGoogle")
	defer func() { endSpan(span, err) }()
	defer func() { e.metrics.login("google", err) }()

	email := NormalizeIdentifier(verifiedEmail)
	if email == "" || !strings.Contains(email, "@") {
		return AuthResult{}, fmt.Errorf("%w: verified email is required", ErrInvalidRequest)
	}

	user, err := e.users.FindByEmailOrPhone(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, ErrUserNotFound):
		user, err = e.newUser(e.now().UTC(), RoleCustomer, email, "", "")
		if err != nil {
			return AuthResult{}, err
		}
		if err = e.users.Create(ctx, user, nil); err != nil {
			err = userStoreErr(err)
			e.emitAudit(ctx, auditEventLoginGoogle, false, "", "", err, nil)
			return AuthResult{}, err
		}
	default:
		return AuthResult{}, userStoreErr(err)
	}

	res, err = e.startSession(ctx, user)
	if err != nil {
		e.emitAudit(ctx, auditEventLoginGoogle, false, user.ID, "", err, nil)
		return AuthResult{}, err
	}

	e.emitAudit(ctx, auditEventLoginGoogle, true, user.ID, "", nil, nil)
	return res, nil
}

/*
====================================
SESSION LIFECYCLE
====================================
*/

// Refresh rotates the refresh token of userID. Presenting a token that was
// already rotated away revokes the session and returns [ErrTokenReuseDetected].
func (e *Engine) Refresh(ctx context.Context, userID, refreshToken string) (pair TokenPair, err error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Refresh", attribute.String("user_id", userID))
	defer func() { endSpan(span, err) }()

	if userID == "" || refreshToken == "" {
		return TokenPair{}, ErrInvalidRefreshToken
	}

	result := flows.RunRefresh(ctx, userID, refreshToken, e.flows.Refresh)
	span.SetAttributes(attribute.String("refresh.outcome", result.Failure.String()))

	switch result.Failure {
	case flows.RefreshFailureNone:
		e.metrics.refresh(result.Failure.String())
		e.emitAudit(ctx, auditEventRefresh, true, userID, "", nil, nil)
		return TokenPair{AccessToken: result.Tokens.Access, RefreshToken: result.Tokens.Refresh}, nil
	case flows.RefreshFailureInvalid:
		err = ErrInvalidRefreshToken
	case flows.RefreshFailureReuse:
		err = ErrTokenReuseDetected
		e.logger.WarnContext(ctx, "refresh token reuse detected", "op", "refresh", "user_id", userID)
		if result.RevokeErr != nil {
			e.logger.ErrorContext(ctx, "revoking reused session failed", "op", "refresh", "user_id", userID, "err", result.RevokeErr)
		}
		e.metrics.refresh(result.Failure.String())
		e.emitAudit(ctx, auditEventRefreshReuse, false, userID, string(flows.RevokeReuse), err, nil)
		return TokenPair{}, err
	case flows.RefreshFailureSessionNotFound:
		err = ErrSessionNotFound
	case flows.RefreshFailureUserLookup:
		if errors.Is(result.Err, ErrUserNotFound) {
			err = ErrSessionNotFound
		} else {
			err = userStoreErr(result.Err)
		}
	case flows.RefreshFailureStore:
		err = keyStoreErr(result.Err)
	default:
		e.logger.ErrorContext(ctx, "refresh failed", "op", "refresh", "user_id", userID, "err", result.Err)
		err = fmt.Errorf("refresh: %w", result.Err)
	}

	e.metrics.refresh(result.Failure.String())
	e.emitAudit(ctx, auditEventRefresh, false, userID, result.Failure.String(), err, nil)
	return TokenPair{}, err
}

// Logout revokes the session of userID. Logging out twice succeeds.
func (e *Engine) Logout(ctx context.Context, userID string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Logout", attribute.String("user_id", userID))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return ErrInvalidRequest
	}
	if err := e.flows.Revoker.Revoke(ctx, userID, flows.RevokeLogout); err != nil {
		return keyStoreErr(err)
	}
	e.emitAudit(ctx, auditEventLogout, true, userID, "", nil, nil)
	return nil
}

// ChangePassword replaces the password of userID after checking the old one,
// then revokes the session so every outstanding token stops working.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "ChangePassword", attribute.String("user_id", userID))
	defer func() { endSpan(span, err) }()
	defer func() { e.metrics.passwordChange(err) }()

	if _, err := e.users.FindByID(ctx, userID); err != nil {
		return userStoreErr(err)
	}
	cred, err := e.users.Credential(ctx, userID)
	if err != nil {
		return userStoreErr(err)
	}

	ok, err := e.hasher.Verify(oldPassword, cred.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", ErrWrongPassword, nil)
		return ErrWrongPassword
	}
	if err := e.hasher.CheckPolicy(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	if err := e.setPassword(ctx, userID, newPassword); err != nil {
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", err, nil)
		return err
	}
	if err := e.flows.Revoker.Revoke(ctx, userID, flows.RevokePasswordChange); err != nil {
		err = keyStoreErr(err)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", err, nil)
		return err
	}

	e.emitAudit(ctx, auditEventPasswordChange, true, userID, "", nil, nil)
	return nil
}

// Me returns the public view of userID.
func (e *Engine) Me(ctx context.Context, userID string) (view UserView, err error) {
	if e == nil {
		return UserView{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Me", attribute.String("user_id", userID))
	defer func() { endSpan(span, err) }()

	u, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return UserView{}, userStoreErr(err)
	}
	return u.View(), nil
}

/*
====================================
AUTHENTICATION
====================================
*/

// Authenticate verifies an access token against the session key of its
// subject and returns the caller.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	return e.authenticate(ctx, accessToken)
}

// AuthenticateForRefresh is Authenticate that also accepts an expired access
// token. The signature is still checked against the current session key, so
// tokens of a replaced or revoked session are rejected.
func (e *Engine) AuthenticateForRefresh(ctx context.Context, accessToken string) (Identity, error) {
	return e.authenticate(ctx, accessToken, token.AllowExpired())
}

func (e *Engine) authenticate(ctx context.Context, accessToken string, opts ...token.VerifyOption) (id Identity, err error) {
	if e == nil {
		return Identity{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Authenticate")
	defer func() { endSpan(span, err) }()

	subject, err := token.PeekSubject(accessToken)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	claims, err := e.verifier.VerifyAccess(ctx, accessToken, subject, opts...)
	if err != nil {
		if errors.Is(err, token.ErrInvalidSignature) || errors.Is(err, token.ErrTokenExpired) {
			return Identity{}, ErrUnauthorized
		}
		return Identity{}, keyStoreErr(err)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: claims.Subject, Role: role}, nil
}

/*
====================================
HELPERS
====================================
*/

func (e *Engine) startSession(ctx context.Context, user User) (AuthResult, error) {
	pair, err := flows.RunEstablishSession(ctx, user.ID, string(user.Role), e.flows.Session)
	if err != nil {
		return AuthResult{}, keyStoreErr(err)
	}
	return AuthResult{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		User:         user.View(),
	}, nil
}

func (e *Engine) newUser(now time.Time, role Role, email, phone, name string) (User, error) {
	id, err := e.ids.New(now)
	if err != nil {
		return User{}, err
	}
	profile, err := e.ids.New(now)
	if err != nil {
		return User{}, err
	}
	return User{
		ID:        id,
		Role:      role,
		Email:     email,
		Phone:     phone,
		Name:      name,
		ProfileID: profile,
		CreatedAt: now,
	}, nil
}

func (e *Engine) setPassword(ctx context.Context, userID, newPassword string) error {
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return err
	}
	if err := e.users.SetPasswordHash(ctx, userID, hash); err != nil {
		return userStoreErr(err)
	}
	return nil
}

func (e *Engine) upgradeHash(ctx context.Context, userID, pwd, encoded string) {
	stale, err := e.hasher.NeedsRehash(encoded)
	if err != nil || !stale {
		return
	}
	if err := e.setPassword(ctx, userID, pwd); err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "op", "login", "user_id", userID, "err", err)
	}
}

func (e *Engine) onRevoke(ctx context.Context, userID string, reason flows.RevokeReason, err error) {
	if err != nil {
		e.logger.ErrorContext(ctx, "session revoke failed", "op", "revoke", "user_id", userID, "reason", string(reason), "err", err)
		e.emitAudit(ctx, auditEventSessionRevoked, false, userID, string(reason), err, nil)
		return
	}
	e.metrics.revocation(string(reason))
	e.logger.InfoContext(ctx, "session revoked", "op", "revoke", "user_id", userID, "reason", string(reason))
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, string(reason), nil, func() map[string]string {
		if rid := requestIDFromContext(ctx); rid != "" {
			return map[string]string{"request_id": rid}
		}
		return nil
	})
}

func (e *Engine) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "shopauth."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// userStoreErr passes identity sentinels through and folds everything else
// into ErrStoreUnavailable.
func userStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrUserAlreadyExists),
		errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func keyStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keystore.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, keystore.ErrStoreUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

// idSource mints ULIDs. Monotonic entropy is not safe for concurrent use.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDSource(r io.Reader) *idSource {
	return &idSource{entropy: ulid.Monotonic(r, 0)}
}

func (s *idSource) New(t time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
