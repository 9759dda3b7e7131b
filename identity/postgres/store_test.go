//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/storefront/shopauth"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./identity/postgres/
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := Migrate(dsn, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE credentials, users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestCreateFindAndCredential(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := shopauth.User{ID: "u-1", Role: shopauth.RoleCustomer, Email: "Alice@Example.com", Phone: "+15550100", CreatedAt: time.Now().UTC().Truncate(time.Microsecond)}

	if err := s.Create(ctx, u, &shopauth.Credential{PasswordHash: "h1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.FindByEmailOrPhone(ctx, "alice@example.com")
	if err != nil || got.ID != "u-1" || got.Email != "alice@example.com" {
		t.Fatalf("find by email: %v %+v", err, got)
	}
	if got, err := s.FindByEmailOrPhone(ctx, "+15550100"); err != nil || got.ID != "u-1" {
		t.Fatalf("find by phone: %v %+v", err, got)
	}
	if c, err := s.Credential(ctx, "u-1"); err != nil || c.PasswordHash != "h1" {
		t.Fatalf("credential: %v %+v", err, c)
	}
	if err := s.SetPasswordHash(ctx, "u-1", "h2"); err != nil {
		t.Fatalf("set hash: %v", err)
	}
	if c, _ := s.Credential(ctx, "u-1"); c.PasswordHash != "h2" {
		t.Fatalf("expected updated hash, got %q", c.PasswordHash)
	}
}

func TestCreateDuplicateAndMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.Create(ctx, shopauth.User{ID: "u-1", Role: shopauth.RoleCustomer, Email: "a@example.com", CreatedAt: time.Now()}, nil)

	err := s.Create(ctx, shopauth.User{ID: "u-2", Role: shopauth.RoleCustomer, Email: "a@example.com", CreatedAt: time.Now()}, nil)
	if !errors.Is(err, shopauth.ErrUserAlreadyExists) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := s.Credential(ctx, "u-1"); !errors.Is(err, shopauth.ErrUserNotFound) {
		t.Fatalf("expected no credential, got %v", err)
	}
	if err := s.SetPasswordHash(ctx, "missing", "h"); !errors.Is(err, shopauth.ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, shopauth.ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
