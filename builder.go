package shopauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	internalaudit "github.com/storefront/shopauth/internal/audit"
	"github.com/storefront/shopauth/internal/flows"
	"github.com/storefront/shopauth/internal/stores"
	"github.com/storefront/shopauth/keystore"
	"github.com/storefront/shopauth/mail"
	"github.com/storefront/shopauth/password"
	"github.com/storefront/shopauth/token"
)

const tracerName = "github.com/storefront/shopauth"

// Builder assembles an [Engine]. A Builder is single-use: Build fails on the
// second call.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	users  UserStore

	mailer     mail.Mailer
	auditSink  AuditSink
	logger     *slog.Logger
	registerer prometheus.Registerer
	tracers    trace.TracerProvider
	sealer     keystore.Sealer
	now        func() time.Time
	rand       io.Reader

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing the key store and reset codes. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the identity store. Required.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithMailer sets outbound mail delivery. Defaults to a [mail.LogMailer] on the
// engine logger.
func (b *Builder) WithMailer(m mail.Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets where audit events go and enables the dispatcher. Without
// a sink, an enabled dispatcher logs events through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsRegisterer registers the engine counters with reg, typically the
// registry served at /metrics.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracers = tp
	return b
}

// WithSealer encrypts session private keys at rest. Without one, key bytes are
// stored raw, which is only acceptable in development.
func (b *Builder) WithSealer(s keystore.Sealer) *Builder {
	b.sealer = s
	return b
}

func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRand overrides the random source for key pairs, nonces, ids and reset codes.
func (b *Builder) WithRand(r io.Reader) *Builder {
	b.rand = r
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if b.auditSink != nil {
		cfg.Audit.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	rnd := b.rand
	if rnd == nil {
		rnd = rand.Reader
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = mail.NewLogMailer(logger)
	}
	tracers := b.tracers
	if tracers == nil {
		tracers = otel.GetTracerProvider()
	}

	// -------- TOKENS --------
	tokenOpts := []token.Option{token.WithClock(now), token.WithRand(rnd)}
	issuer, err := token.NewIssuer(cfg.tokenConfig(), tokenOpts...)
	if err != nil {
		return nil, err
	}

	// -------- KEY STORE --------
	keys := keystore.NewStore(b.redis, keystore.Config{
		Prefix:          cfg.Session.RedisPrefix,
		SupersededLimit: cfg.Session.SupersededLimit,
		TTL:             cfg.JWT.RefreshTTL,
		Sealer:          b.sealer,
		Now:             now,
	})

	verifier, err := token.NewVerifier(cfg.tokenConfig(), sessionKeyLookup{store: keys}, tokenOpts...)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}

	// -------- METRICS --------
	var metrics *Metrics
	if cfg.Metrics.Enabled {
		metrics, err = NewMetrics(cfg.Metrics.Namespace, b.registerer)
		if err != nil {
			return nil, err
		}
	}

	engine := &Engine{
		config:   cfg,
		users:    b.users,
		keys:     keys,
		issuer:   issuer,
		verifier: verifier,
		hasher:   hasher,
		resets:   stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix, now),
		mailer:   mailer,
		metrics:  metrics,
		logger:   logger,
		tracer:   tracers.Tracer(tracerName),
		now:      now,
		rand:     rnd,
		ids:      newIDSource(rnd),
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = NewSlogSink(logger)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop:     metrics.auditDrop,
	}, sink)

	engine.flows = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}

func (e *Engine) buildFlowDeps() flows.Deps {
	revoker := flows.NewRevoker(e.keys, e.onRevoke)

	return flows.Deps{
		Revoker: revoker,
		Session: flows.SessionDeps{
			GenerateKeyPair: e.issuer.GenerateKeyPair,
			Issue:           e.issuer.Issue,
			Put: func(ctx context.Context, userID string, kp token.KeyPair, refreshToken string) error {
				_, err := e.keys.Put(ctx, userID, kp.Public, kp.Private, refreshToken)
				return err
			},
		},
		Refresh: flows.RefreshDeps{
			VerifyRefresh: func(ctx context.Context, tokenStr, userID string) error {
				_, err := e.verifier.VerifyRefresh(ctx, tokenStr, userID)
				return err
			},
			LookupRole: func(ctx context.Context, userID string) (string, error) {
				u, err := e.users.FindByID(ctx, userID)
				if err != nil {
					return "", err
				}
				return string(u.Role), nil
			},
			IssueAccess:  e.issuer.IssueAccess,
			IssueRefresh: e.issuer.IssueRefresh,
			KeyStore:     e.keys,
			Revoker:      revoker,
		},
		PasswordReset: flows.PasswordResetDeps{
			CodeDigits:              e.config.PasswordReset.OTPDigits,
			ResetTTL:                e.config.PasswordReset.ResetTTL,
			MaxAttempts:             e.config.PasswordReset.MaxAttempts,
			TemporaryPasswordLength: e.config.PasswordReset.TemporaryPasswordLength,
			Now:                     e.now,
			Rand:                    e.rand,
			FindUser: func(ctx context.Context, emailOrPhone string) (flows.PasswordResetUser, error) {
				u, err := e.users.FindByEmailOrPhone(ctx, NormalizeIdentifier(emailOrPhone))
				if err != nil {
					return flows.PasswordResetUser{}, userStoreErr(err)
				}
				return flows.PasswordResetUser{UserID: u.ID, Email: u.Email}, nil
			},
			SetPassword: e.setPassword,
			SendCode: func(ctx context.Context, email, code string) error {
				return e.mailer.Send(ctx, mail.ResetCode(email, code, e.config.PasswordReset.ResetTTL.String()))
			},
			SendTemporaryPassword: func(ctx context.Context, email, pwd string) error {
				return e.mailer.Send(ctx, mail.TemporaryPassword(email, pwd))
			},
			Store:   e.resets,
			Revoker: revoker,
			EmitAudit: func(ctx context.Context, event string, success bool, userID string, err error) {
				e.emitAudit(ctx, event, success, userID, "", err, nil)
			},
			Events: flows.PasswordResetEvents{
				PasswordResetRequest: auditEventResetRequest,
				PasswordResetConfirm: auditEventResetConfirm,
			},
			Errors: flows.PasswordResetErrors{
				UserNotFound:             ErrUserNotFound,
				PasswordResetInvalid:     ErrPasswordResetInvalid,
				PasswordResetAttempts:    ErrPasswordResetAttempts,
				PasswordResetUnavailable: ErrPasswordResetUnavailable,
			},
		},
	}
}

// sessionKeyLookup resolves verification keys from the key store.
type sessionKeyLookup struct {
	store *keystore.Store
}

func (l sessionKeyLookup) PublicKey(ctx context.Context, userID string) (ed25519.PublicKey, error) {
	pub, err := l.store.PublicKey(ctx, userID)
	if errors.Is(err, keystore.ErrNotFound) {
		return nil, token.ErrKeyNotFound
	}
	return pub, err
}
