package shopauth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/storefront/shopauth"
	"github.com/storefront/shopauth/identity/memory"
	"github.com/storefront/shopauth/mail"
)

const testPassword = "correct-password-123"

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

type engineHarness struct {
	engine *shopauth.Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *memory.Store
	outbox *mail.Outbox
	clock  *testClock
}

func testConfig() shopauth.Config {
	cfg := shopauth.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.UpgradeOnLogin = false
	return cfg
}

func newEngineHarness(t *testing.T, configure ...func(*shopauth.Builder)) *engineHarness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	h := &engineHarness{
		mr:     mr,
		rdb:    rdb,
		users:  memory.New(),
		outbox: &mail.Outbox{},
		clock:  &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	b := shopauth.New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithUserStore(h.users).
		WithMailer(h.outbox).
		WithClock(h.clock.Now)
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	h.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return h
}

func (h *engineHarness) register(t *testing.T, email string) shopauth.AuthResult {
	t.Helper()
	res, err := h.engine.Register(t.Context(), shopauth.RegisterInput{
		Email:    email,
		Name:     "Test User",
		Password: testPassword,
		Role:     "customer",
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res
}
