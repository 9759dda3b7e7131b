package token

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]ed25519.PublicKey
	err  error
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{keys: map[string]ed25519.PublicKey{}}
}

func (m *memoryKeys) PublicKey(_ context.Context, userID string) (ed25519.PublicKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	key, ok := m.keys[userID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

func (m *memoryKeys) set(userID string, key ed25519.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[userID] = key
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	return Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "shopauth",
		Audience:   "storefront",
	}
}

func newTokenTest(t *testing.T, cfg Config) (*Issuer, *Verifier, *memoryKeys, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	keys := newMemoryKeys()
	issuer, err := NewIssuer(cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	verifier, err := NewVerifier(cfg, keys, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return issuer, verifier, keys, clock
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	issuer, verifier, keys, _ := newTokenTest(t, testConfig())
	ctx := context.Background()

	kp, err := issuer.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	keys.set("u1", kp.Public)

	pair, err := issuer.Issue("u1", "customer", kp)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	access, err := verifier.VerifyAccess(ctx, pair.Access, "u1")
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if access.Subject != "u1" || access.Role != "customer" || access.Type != TypeAccess {
		t.Fatalf("unexpected access claims %+v", access)
	}

	refresh, err := verifier.VerifyRefresh(ctx, pair.Refresh, "u1")
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if refresh.ID == "" || refresh.Type != TypeRefresh {
		t.Fatalf("unexpected refresh claims %+v", refresh)
	}
}

func TestTokenTypesNotInterchangeable(t *testing.T) {
	issuer, verifier, keys, _ := newTokenTest(t, testConfig())
	ctx := context.Background()
	kp, _ := issuer.GenerateKeyPair()
	keys.set("u1", kp.Public)
	pair, _ := issuer.Issue("u1", "customer", kp)

	if _, err := verifier.VerifyAccess(ctx, pair.Refresh, "u1"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	if _, err := verifier.VerifyRefresh(ctx, pair.Access, "u1"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
}

func TestRefreshTokensIssuedSameInstantDiffer(t *testing.T) {
	issuer, _, _, _ := newTokenTest(t, testConfig())
	kp, _ := issuer.GenerateKeyPair()

	a, err := issuer.IssueRefresh("u1", kp)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	b, err := issuer.IssueRefresh("u1", kp)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if a == b {
		t.Fatal("refresh tokens issued in the same instant must differ")
	}
}

func TestVerifyRejectsOtherSessionKey(t *testing.T) {
	issuer, verifier, keys, _ := newTokenTest(t, testConfig())
	ctx := context.Background()

	old, _ := issuer.GenerateKeyPair()
	pair, _ := issuer.Issue("u1", "customer", old)

	fresh, _ := issuer.GenerateKeyPair()
	keys.set("u1", fresh.Public)

	if _, err := verifier.VerifyAccess(ctx, pair.Access, "u1"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for replaced key, got %v", err)
	}
	if _, err := verifier.VerifyRefresh(ctx, pair.Refresh, "u1"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for replaced key, got %v", err)
	}
}

func TestVerifyWithoutSessionCollapsesToInvalidSignature(t *testing.T) {
	issuer, verifier, _, _ := newTokenTest(t, testConfig())
	kp, _ := issuer.GenerateKeyPair()
	pair, _ := issuer.Issue("u1", "customer", kp)

	if _, err := verifier.VerifyRefresh(context.Background(), pair.Refresh, "u1"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyPropagatesLookupFailure(t *testing.T) {
	issuer, verifier, keys, _ := newTokenTest(t, testConfig())
	kp, _ := issuer.GenerateKeyPair()
	pair, _ := issuer.Issue("u1", "customer", kp)

	down := errors.New("store down")
	keys.err = down
	if _, err := verifier.VerifyAccess(context.Background(), pair.Access, "u1"); !errors.Is(err, down) {
		t.Fatalf("expected lookup error to propagate, got %v", err)
	}
}

func TestVerifySubjectMismatch(t *testing.T) {
	issuer, verifier, keys, _ := newTokenTest(t, testConfig())
	kp, _ := issuer.GenerateKeyPair()
	keys.set("u1", kp.Public)
	keys.set("u2", kp.Public)
	pair, _ := issuer.Issue("u1", "customer", kp)

	if _, err := verifier.VerifyAccess(context.Background(), pair.Access, "u2"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected subject mismatch to fail, got %v", err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.Leeway = 30 * time.Second
	issuer, verifier, keys, clock := newTokenTest(t, cfg)
	ctx := context.Background()
	kp, _ := issuer.GenerateKeyPair()
	keys.set("u1", kp.Public)
	pair, _ := issuer.Issue("u1", "customer", kp)

	clock.Advance(cfg.AccessTTL + 15*time.Second)
	if _, err := verifier.VerifyAccess(ctx, pair.Access, "u1"); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := verifier.VerifyAccess(ctx, pair.Access, "u1"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	claims, err := verifier.VerifyAccess(ctx, pair.Access, "u1", AllowExpired())
	if err != nil {
		t.Fatalf("expected expired token accepted with AllowExpired: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}

	clock.Advance(cfg.RefreshTTL)
	if _, err := verifier.VerifyRefresh(ctx, pair.Refresh, "u1"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected refresh ErrTokenExpired, got %v", err)
	}
}

func TestAllowExpiredStillChecksSignatureAndIssuer(t *testing.T) {
	issuer, verifier, keys, _ := newTokenTest(t, testConfig())
	ctx := context.Background()
	kp, _ := issuer.GenerateKeyPair()
	keys.set("u1", kp.Public)

	foreign, _ := issuer.GenerateKeyPair()
	forged, _ := issuer.IssueAccess("u1", "admin", foreign)
	if _, err := verifier.VerifyAccess(ctx, forged, "u1", AllowExpired()); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected forged token rejected, got %v", err)
	}

	claims := AccessClaims{Role: "customer", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "someone-else",
		Audience:  gjwt.ClaimStrings{"storefront"},
		ExpiresAt: gjwt.NewNumericDate(time.Unix(1_600_000_000, 0)),
		IssuedAt:  gjwt.NewNumericDate(time.Unix(1_599_999_000, 0)),
	}}
	wrongIssuer, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(kp.Private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.VerifyAccess(ctx, wrongIssuer, "u1", AllowExpired()); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected wrong issuer rejected, got %v", err)
	}
	if _, err := verifier.VerifyAccess(ctx, wrongIssuer, "u1"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected expired token with wrong issuer to be invalid, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	_, verifier, keys, _ := newTokenTest(t, testConfig())
	pub, _, _ := ed25519.GenerateKey(nil)
	keys.set("u1", pub)

	claims := AccessClaims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Unix(1_700_000_600, 0)),
	}}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := verifier.VerifyAccess(context.Background(), tok, "u1"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected wrong algorithm rejected, got %v", err)
	}
}

func TestPeekSubject(t *testing.T) {
	issuer, _, _, _ := newTokenTest(t, testConfig())
	kp, _ := issuer.GenerateKeyPair()
	access, _ := issuer.IssueAccess("u-42", "staff", kp)

	sub, err := PeekSubject(access)
	if err != nil {
		t.Fatalf("peek subject: %v", err)
	}
	if sub != "u-42" {
		t.Fatalf("expected u-42, got %q", sub)
	}
	if _, err := PeekSubject("not.a.token"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected garbage rejected, got %v", err)
	}
}

func TestIssueMalformedKey(t *testing.T) {
	issuer, _, _, _ := newTokenTest(t, testConfig())
	if _, err := issuer.Issue("u1", "customer", KeyPair{Private: []byte("short")}); !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("expected ErrMalformedKey, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Leeway = 3 * time.Minute
	if _, err := NewIssuer(cfg); err == nil {
		t.Fatal("expected leeway above two minutes to fail")
	}
	cfg = testConfig()
	cfg.RefreshTTL = 0
	if _, err := NewIssuer(cfg); err == nil {
		t.Fatal("expected zero refresh TTL to fail")
	}
}

func TestKeyPairLogValueOmitsPrivateKey(t *testing.T) {
	issuer, _, _, _ := newTokenTest(t, testConfig())
	kp, _ := issuer.GenerateKeyPair()
	if strings.Contains(kp.LogValue().String(), string(kp.Private)) {
		t.Fatal("private key leaked into log value")
	}
}
