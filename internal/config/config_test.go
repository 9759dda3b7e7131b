package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every key Load reads; Viper ignores empty variables.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "USER_STORE",
		"DATABASE_URL", "BOLT_PATH", "JWT_ACCESS_TTL", "JWT_REFRESH_TTL",
		"JWT_ISSUER", "JWT_AUDIENCE", "SESSION_SEAL_KEY", "SUPERSEDED_LIMIT",
		"RESET_CODE_TTL", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET",
		"GOOGLE_REDIRECT_URL", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
		"LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q, want localhost:6379", cfg.RedisAddr)
	}
	if cfg.UserStore != UserStoreMemory {
		t.Errorf("UserStore = %q, want memory", cfg.UserStore)
	}
	if cfg.JWTAccessTTL != 15*time.Minute {
		t.Errorf("JWTAccessTTL = %v, want 15m", cfg.JWTAccessTTL)
	}
	if cfg.JWTRefreshTTL != 168*time.Hour {
		t.Errorf("JWTRefreshTTL = %v, want 168h", cfg.JWTRefreshTTL)
	}
	if cfg.SupersededLimit != 5 {
		t.Errorf("SupersededLimit = %d, want 5", cfg.SupersededLimit)
	}
	if cfg.ResetCodeTTL != 15*time.Minute {
		t.Errorf("ResetCodeTTL = %v, want 15m", cfg.ResetCodeTTL)
	}
	if cfg.GoogleEnabled() {
		t.Error("GoogleEnabled should default to false")
	}
	key, err := cfg.SealKey()
	if err != nil || key != nil {
		t.Errorf("SealKey = %v, %v; want nil, nil", key, err)
	}
	engineCfg := cfg.Engine()
	if err := engineCfg.Validate(); err != nil {
		t.Errorf("default engine config invalid: %v", err)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("JWT_ISSUER", "shop")
	t.Setenv("SUPERSEDED_LIMIT", "9")
	t.Setenv("SESSION_SEAL_KEY", strings.Repeat("ab", 32))
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("USER_STORE", "BOLT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.UserStore != UserStoreBolt {
		t.Errorf("UserStore = %q, want bolt", cfg.UserStore)
	}
	level, err := cfg.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, %v; want debug", level, err)
	}
	key, err := cfg.SealKey()
	if err != nil || len(key) != 32 {
		t.Errorf("SealKey = %d bytes, %v; want 32", len(key), err)
	}

	engine := cfg.Engine()
	if engine.JWT.AccessTTL != 5*time.Minute {
		t.Errorf("AccessTTL = %v, want 5m", engine.JWT.AccessTTL)
	}
	if engine.JWT.Issuer != "shop" {
		t.Errorf("Issuer = %q, want shop", engine.JWT.Issuer)
	}
	if engine.Session.SupersededLimit != 9 {
		t.Errorf("SupersededLimit = %d, want 9", engine.Session.SupersededLimit)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn": {"USER_STORE": "postgres"},
		"unknown store":        {"USER_STORE": "mongo"},
		"short seal key":       {"SESSION_SEAL_KEY": "abcd"},
		"non-hex seal key":     {"SESSION_SEAL_KEY": strings.Repeat("zz", 32)},
		"bad log level":        {"LOG_LEVEL": "loud"},
		"bad duration":         {"JWT_ACCESS_TTL": "soon"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load succeeded, want error")
			}
		})
	}
}
