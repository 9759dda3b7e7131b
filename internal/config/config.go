// Package config loads process configuration for the shopauth binary from the
// environment and an optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/storefront/shopauth"
)

const (
	UserStoreMemory   = "memory"
	UserStorePostgres = "postgres"
	UserStoreBolt     = "bolt"
)

// Config holds process configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// UserStore selects the identity backend: memory, postgres or bolt.
	UserStore   string `mapstructure:"USER_STORE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	BoltPath    string `mapstructure:"BOLT_PATH"`

	JWTAccessTTL  time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTAudience   string        `mapstructure:"JWT_AUDIENCE"`

	// SessionSealKey is the hex-encoded 32 byte key sealing session private
	// keys in Redis. Empty stores them raw.
	SessionSealKey  string        `mapstructure:"SESSION_SEAL_KEY"`
	SupersededLimit int           `mapstructure:"SUPERSEDED_LIMIT"`
	ResetCodeTTL    time.Duration `mapstructure:"RESET_CODE_TTL"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`

	// OTLPEndpoint enables trace export over OTLP gRPC when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("USER_STORE", UserStoreMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BOLT_PATH", "shopauth.db")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("SESSION_SEAL_KEY", "")
	v.SetDefault("SUPERSEDED_LIMIT", 5)
	v.SetDefault("RESET_CODE_TTL", "15m")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "shopauth")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("config: REDIS_ADDR must be set")
	}

	cfg.UserStore = strings.ToLower(strings.TrimSpace(cfg.UserStore))
	switch cfg.UserStore {
	case UserStoreMemory:
	case UserStorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when USER_STORE=postgres")
		}
	case UserStoreBolt:
		if cfg.BoltPath == "" {
			return nil, errors.New("config: BOLT_PATH must be set when USER_STORE=bolt")
		}
	default:
		return nil, fmt.Errorf("config: unknown USER_STORE %q", cfg.UserStore)
	}

	if _, err := cfg.SealKey(); err != nil {
		return nil, err
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SealKey decodes SessionSealKey. It returns nil when no key is configured.
func (c *Config) SealKey() ([]byte, error) {
	if c.SessionSealKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.SessionSealKey)
	if err != nil {
		return nil, fmt.Errorf("config: SESSION_SEAL_KEY must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: SESSION_SEAL_KEY must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogLevel parses LogLevel (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return level, nil
}

// GoogleEnabled reports whether Google client credentials are configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Engine returns the engine configuration: defaults overlaid with the values
// the environment controls.
func (c *Config) Engine() shopauth.Config {
	cfg := shopauth.DefaultConfig()
	if c.JWTAccessTTL > 0 {
		cfg.JWT.AccessTTL = c.JWTAccessTTL
	}
	if c.JWTRefreshTTL > 0 {
		cfg.JWT.RefreshTTL = c.JWTRefreshTTL
	}
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.Audience = c.JWTAudience
	if c.SupersededLimit > 0 {
		cfg.Session.SupersededLimit = c.SupersededLimit
	}
	if c.ResetCodeTTL > 0 {
		cfg.PasswordReset.ResetTTL = c.ResetCodeTTL
	}
	return cfg
}
