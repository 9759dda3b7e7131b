package shopauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/shopauth/keystore"
	"github.com/storefront/shopauth/password"
	"github.com/storefront/shopauth/token"
)

// Config is the complete engine configuration. Start from [DefaultConfig] and
// override fields; the Builder copies it, so later changes to the caller's
// value have no effect.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Mail          MailConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access and refresh token lifetimes and registered claims.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	// Leeway tolerates clock skew on expiry checks. At most two minutes.
	Leeway time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis key store.
type SessionConfig struct {
	RedisPrefix string
	// SupersededLimit bounds the reuse-detection history per session.
	SupersededLimit int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters and the length policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

// PasswordResetConfig controls the forgot-password code flow.
type PasswordResetConfig struct {
	RedisPrefix             string
	ResetTTL                time.Duration
	MaxAttempts             int
	OTPDigits               int
	TemporaryPasswordLength int
}

/*
====================================
AMBIENT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls Prometheus counters.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// MailConfig controls which optional mails are sent.
type MailConfig struct {
	SendWelcome bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults: 15 minute access tokens, 7 day
// refresh tokens, a reuse history of 5 and 6-digit reset codes valid for 15
// minutes.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix:     "sess",
			SupersededLimit: keystore.DefaultSupersededLimit,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MaxLength:      password.DefaultMaxPasswordBytes,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			RedisPrefix:             "apr",
			ResetTTL:                15 * time.Minute,
			MaxAttempts:             5,
			OTPDigits:               6,
			TemporaryPasswordLength: 12,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "shopauth",
		},
		Mail: MailConfig{
			SendWelcome: true,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting in c.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.SupersededLimit < 1 {
		return errors.New("Session SupersededLimit must be >= 1")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 0 {
		return errors.New("Password MinLength must be >= 0")
	}
	if c.Password.MaxLength != 0 && c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Password reset
	if strings.TrimSpace(c.PasswordReset.RedisPrefix) == "" {
		return errors.New("PasswordReset RedisPrefix must not be empty")
	}
	if c.PasswordReset.RedisPrefix == c.Session.RedisPrefix {
		return errors.New("PasswordReset RedisPrefix must differ from Session RedisPrefix")
	}
	if c.PasswordReset.ResetTTL <= 0 {
		return errors.New("PasswordReset ResetTTL must be > 0")
	}
	if c.PasswordReset.MaxAttempts < 1 {
		return errors.New("PasswordReset MaxAttempts must be >= 1")
	}
	if c.PasswordReset.OTPDigits < 6 || c.PasswordReset.OTPDigits > 10 {
		return fmt.Errorf("PasswordReset OTPDigits must be within [6, 10], got %d", c.PasswordReset.OTPDigits)
	}
	if c.PasswordReset.TemporaryPasswordLength < 8 {
		return errors.New("PasswordReset TemporaryPasswordLength must be >= 8")
	}
	if c.Password.MinLength > c.PasswordReset.TemporaryPasswordLength {
		return errors.New("PasswordReset TemporaryPasswordLength must satisfy Password MinLength")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Metrics
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Namespace) == "" {
		return errors.New("Metrics Namespace must not be empty when enabled")
	}

	return nil
}

func (c Config) tokenConfig() token.Config {
	return token.Config{
		AccessTTL:  c.JWT.AccessTTL,
		RefreshTTL: c.JWT.RefreshTTL,
		Issuer:     c.JWT.Issuer,
		Audience:   c.JWT.Audience,
		Leeway:     c.JWT.Leeway,
	}
}

func (c Config) passwordConfig() password.Config {
	return password.Config{
		Memory:           c.Password.Memory,
		Time:             c.Password.Time,
		Parallelism:      c.Password.Parallelism,
		SaltLength:       c.Password.SaltLength,
		KeyLength:        c.Password.KeyLength,
		MinPasswordBytes: c.Password.MinLength,
		MaxPasswordBytes: c.Password.MaxLength,
	}
}
